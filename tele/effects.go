package tele

import (
	"sort"
	"sync"
)

const DefaultGPIOPort = "A"

// GPIOKey addresses one expander port. Device is DeviceIndex() result.
type GPIOKey struct {
	Device int
	Port   string
}

type GPIOState struct {
	Mask  int
	Value int
}

// Effects folds applied commands into current output state.
// Created empty per session, never reset. Safe for concurrent use.
type Effects struct {
	mu    sync.Mutex
	duty  map[int]int
	freq  *int
	gpio  map[GPIOKey]GPIOState
	count int
}

func NewEffects() *Effects {
	return &Effects{
		duty: make(map[int]int),
		gpio: make(map[GPIOKey]GPIOState),
	}
}

// DeviceIndex maps "mcp0" to 0 and any other string to 1.
// Unknown names alias to the second expander for wire compatibility.
func DeviceIndex(dev string) int {
	if dev == "mcp0" {
		return 0
	}
	return 1
}

// Apply overwrites the slot of every present sub-field.
func (e *Effects) Apply(cmd *Command) {
	if cmd == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if p := cmd.SetPWM; p != nil {
		e.duty[p.Channel] = p.Duty
	}
	if f := cmd.PWMFreq; f != nil {
		freq := f.Freq
		e.freq = &freq
	}
	if g := cmd.WriteGPIO; g != nil {
		port := g.Port
		if port == "" {
			port = DefaultGPIOPort
		}
		e.gpio[GPIOKey{Device: DeviceIndex(g.Device), Port: port}] = GPIOState{Mask: g.Mask, Value: g.Value}
	}
	e.count++
}

func (e *Effects) Duty(ch int) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.duty[ch]
	return d, ok
}

func (e *Effects) Frequency() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.freq == nil {
		return 0, false
	}
	return *e.freq, true
}

func (e *Effects) GPIO(dev int, port string) (GPIOState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.gpio[GPIOKey{Device: dev, Port: port}]
	return s, ok
}

// Applied returns number of Apply calls.
func (e *Effects) Applied() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Channels returns sorted PWM channel indexes with known duty.
func (e *Effects) Channels() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	chs := make([]int, 0, len(e.duty))
	for ch := range e.duty {
		chs = append(chs, ch)
	}
	sort.Ints(chs)
	return chs
}

// PWMState renders folded PWM as an Update pwm entry with n duty slots.
// Unknown frequency is 0, channels outside [0,n) are skipped.
func (e *Effects) PWMState(n int) PWMState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := PWMState{Duty: make([]int, n)}
	if e.freq != nil {
		s.Freq = *e.freq
	}
	for ch, d := range e.duty {
		if ch >= 0 && ch < n {
			s.Duty[ch] = d
		}
	}
	return s
}
