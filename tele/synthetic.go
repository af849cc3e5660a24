package tele

import (
	"math"
)

// Synthetic produces deterministic smooth readings for benches without hardware.
// Effects, when set, feed PWM state back into updates.
type Synthetic struct {
	Effects  *Effects
	Channels int
	n        int
}

func (s *Synthetic) Sample(u *Update) error {
	x := float64(s.n)
	s.n++
	temp := round2(22.5 + 1.5*math.Sin(x/10))
	hum := round2(48.0 + 6.0*math.Cos(x/12))
	u.SHT20 = []HumidityReading{
		{ID: "sht20-a", Temperature: temp, Humidity: hum},
		{ID: "sht20-b", Temperature: round2(temp - 0.8), Humidity: round2(hum + 1.2)},
	}
	u.DS18B20 = []TempReading{
		{ROM: "28ff000000000001", Temperature: round2(temp + 2.5)},
		{ROM: "28ff000000000002", Temperature: round2(temp + 1.1)},
	}
	u.GPIO = map[string]map[string]int{
		"mcp0": {"A": 0, "B": 0},
		"mcp1": {"A": 0, "B": 0},
	}
	if s.Effects != nil {
		for dev, name := range []string{"mcp0", "mcp1"} {
			for _, port := range []string{"A", "B"} {
				if g, ok := s.Effects.GPIO(dev, port); ok {
					u.GPIO[name][port] = g.Value & g.Mask
				}
			}
		}
	}
	n := s.Channels
	if n == 0 {
		n = 16
	}
	pwm := PWMState{Duty: make([]int, n)}
	if s.Effects != nil {
		pwm = s.Effects.PWMState(n)
	}
	u.PWM = map[string]PWMState{"pca9685": pwm}
	return nil
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
