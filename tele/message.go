package tele

// Update is periodic sensor state, sensor node -> HMI.
// Ordered only by Seq/TimestampMs, duplicates are legal.
type Update struct {
	Version     int                       `json:"v"`
	Kind        string                    `json:"type"`
	TimestampMs int64                     `json:"ts"`
	Seq         uint32                    `json:"seq"`
	SHT20       []HumidityReading         `json:"sht20"`
	DS18B20     []TempReading             `json:"ds18b20"`
	GPIO        map[string]map[string]int `json:"gpio"`
	PWM         map[string]PWMState       `json:"pwm"`
}

type HumidityReading struct {
	ID          string  `json:"id"`
	Temperature float64 `json:"t"`
	Humidity    float64 `json:"rh"`
	Valid       *bool   `json:"ok,omitempty"`
}

type TempReading struct {
	ROM         string  `json:"rom"`
	Temperature float64 `json:"t"`
}

type PWMState struct {
	Freq int   `json:"freq"`
	Duty []int `json:"duty"`
}

// Command is a control directive, HMI -> sensor node.
// nil sub-field means "no change".
type Command struct {
	Version     int        `json:"v"`
	Kind        string     `json:"type"`
	TimestampMs int64      `json:"ts"`
	Seq         uint32     `json:"seq"`
	SetPWM      *SetPWM    `json:"set_pwm,omitempty"`
	PWMFreq     *PWMFreq   `json:"pwm_freq,omitempty"`
	WriteGPIO   *WriteGPIO `json:"write_gpio,omitempty"`
}

type SetPWM struct {
	Channel int `json:"ch"`
	Duty    int `json:"duty"`
}

type PWMFreq struct {
	Freq int `json:"freq"`
}

type WriteGPIO struct {
	Device string `json:"dev"`
	Port   string `json:"port,omitempty"`
	Mask   int    `json:"mask"`
	Value  int    `json:"value"`
}

// Empty reports whether command carries no recognized directive.
func (c *Command) Empty() bool {
	return c.SetPWM == nil && c.PWMFreq == nil && c.WriteGPIO == nil
}

func (u *Update) normalize() {
	u.Version = Version
	u.Kind = KindUpdate
	if u.SHT20 == nil {
		u.SHT20 = []HumidityReading{}
	}
	if u.DS18B20 == nil {
		u.DS18B20 = []TempReading{}
	}
	if u.GPIO == nil {
		u.GPIO = map[string]map[string]int{}
	}
	if u.PWM == nil {
		u.PWM = map[string]PWMState{}
	}
	for k, p := range u.PWM {
		if p.Duty == nil {
			p.Duty = []int{}
			u.PWM[k] = p
		}
	}
}

func (c *Command) normalize() {
	c.Version = Version
	c.Kind = KindCommand
}
