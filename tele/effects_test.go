package tele

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectsApply(t *testing.T) {
	t.Parallel()
	e := NewEffects()
	_, ok := e.Frequency()
	assert.False(t, ok)

	e.Apply(sampleCommand())
	d, ok := e.Duty(4)
	require.True(t, ok)
	assert.Equal(t, 16384, d)
	f, ok := e.Frequency()
	require.True(t, ok)
	assert.Equal(t, 3200, f)
	g, ok := e.GPIO(0, "B")
	require.True(t, ok)
	assert.Equal(t, GPIOState{Mask: 0x0003, Value: 0x0001}, g)

	// absent sub-fields are "no change"
	e.Apply(&Command{SetPWM: &SetPWM{Channel: 1, Duty: 7}})
	f, _ = e.Frequency()
	assert.Equal(t, 3200, f)
	d, _ = e.Duty(4)
	assert.Equal(t, 16384, d)
	assert.Equal(t, []int{1, 4}, e.Channels())

	// overwrite
	e.Apply(&Command{SetPWM: &SetPWM{Channel: 4, Duty: 0}, PWMFreq: &PWMFreq{Freq: 50}})
	d, _ = e.Duty(4)
	assert.Equal(t, 0, d)
	f, _ = e.Frequency()
	assert.Equal(t, 50, f)
	assert.Equal(t, 3, e.Applied())

	e.Apply(nil)
	assert.Equal(t, 3, e.Applied())
}

func TestEffectsGPIOKey(t *testing.T) {
	t.Parallel()
	cases := []struct {
		dev        string
		port       string
		expectDev  int
		expectPort string
	}{
		{"mcp0", "A", 0, "A"},
		{"mcp0", "", 0, "A"},
		{"mcp1", "B", 1, "B"},
		{"unknown", "B", 1, "B"},
		{"", "", 1, "A"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.dev+"/"+c.port, func(t *testing.T) {
			e := NewEffects()
			e.Apply(&Command{WriteGPIO: &WriteGPIO{Device: c.dev, Port: c.port, Mask: 0xff, Value: 0x0f}})
			g, ok := e.GPIO(c.expectDev, c.expectPort)
			require.True(t, ok)
			assert.Equal(t, GPIOState{Mask: 0xff, Value: 0x0f}, g)
		})
	}
}

func TestEffectsPWMState(t *testing.T) {
	t.Parallel()
	e := NewEffects()
	s := e.PWMState(4)
	assert.Equal(t, PWMState{Freq: 0, Duty: []int{0, 0, 0, 0}}, s)

	e.Apply(&Command{SetPWM: &SetPWM{Channel: 2, Duty: 99}, PWMFreq: &PWMFreq{Freq: 1000}})
	e.Apply(&Command{SetPWM: &SetPWM{Channel: 20, Duty: 1}})
	s = e.PWMState(4)
	assert.Equal(t, PWMState{Freq: 1000, Duty: []int{0, 0, 99, 0}}, s)
}

func TestEffectsConcurrent(t *testing.T) {
	t.Parallel()
	e := NewEffects()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(ch int) {
			defer wg.Done()
			e.Apply(&Command{SetPWM: &SetPWM{Channel: ch, Duty: ch * 10}})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, e.Applied())
	assert.Len(t, e.Channels(), 16)
}
