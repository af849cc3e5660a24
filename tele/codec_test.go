package tele

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleUpdate() *Update {
	duty := make([]int, 16)
	for i := range duty {
		duty[i] = i * 100
	}
	ok := true
	return &Update{
		TimestampMs: 123456,
		Seq:         42,
		SHT20:       []HumidityReading{{ID: "rack-top", Temperature: 24.5, Humidity: 55.2, Valid: &ok}},
		DS18B20:     []TempReading{{ROM: "0011223344556677", Temperature: 21.75}},
		GPIO: map[string]map[string]int{
			"mcp0": {"A": 0xAAAA, "B": 0x5555},
			"mcp1": {"A": 0x0F0F, "B": 0xF0F0},
		},
		PWM: map[string]PWMState{"pca9685": {Freq: 1200, Duty: duty}},
	}
}

func sampleCommand() *Command {
	return &Command{
		TimestampMs: 654321,
		Seq:         7,
		SetPWM:      &SetPWM{Channel: 4, Duty: 16384},
		PWMFreq:     &PWMFreq{Freq: 3200},
		WriteGPIO:   &WriteGPIO{Device: "mcp0", Port: "B", Mask: 0x0003, Value: 0x0001},
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	t.Parallel()
	for _, enc := range []Encoding{JSON, CBOR} {
		enc := enc
		t.Run(enc.Name(), func(t *testing.T) {
			c := NewCodec(enc)
			in := sampleUpdate()
			b, err := c.EncodeUpdate(in)
			require.NoError(t, err)
			out, err := c.DecodeUpdate(b)
			require.NoError(t, err)

			expect := *in
			expect.Version = Version
			expect.Kind = KindUpdate
			assert.Equal(t, &expect, out)
			assert.Equal(t, 0, in.Version, "input must not be modified")
		})
	}
}

func TestCommandRoundTrip(t *testing.T) {
	t.Parallel()
	for _, enc := range []Encoding{JSON, CBOR} {
		enc := enc
		t.Run(enc.Name(), func(t *testing.T) {
			c := NewCodec(enc)
			b, err := c.EncodeCommand(sampleCommand())
			require.NoError(t, err)
			out, err := c.DecodeCommand(b)
			require.NoError(t, err)
			assert.Equal(t, KindCommand, out.Kind)
			assert.Equal(t, uint32(7), out.Seq)
			assert.Equal(t, &SetPWM{Channel: 4, Duty: 16384}, out.SetPWM)
			assert.Equal(t, &PWMFreq{Freq: 3200}, out.PWMFreq)
			assert.Equal(t, "B", out.WriteGPIO.Port)

			kind, err := c.Kind(b)
			require.NoError(t, err)
			assert.Equal(t, KindCommand, kind)
		})
	}
}

func TestEncodeWire(t *testing.T) {
	t.Parallel()
	var c Codec
	b, err := c.EncodeUpdate(&Update{TimestampMs: 1, Seq: 2})
	require.NoError(t, err)
	assert.Equal(t, `{"v":1,"type":"sensor_update","ts":1,"seq":2,"sht20":[],"ds18b20":[],"gpio":{},"pwm":{}}`, string(b))

	b, err = c.EncodeCommand(&Command{TimestampMs: 3, Seq: 4, PWMFreq: &PWMFreq{Freq: 0}})
	require.NoError(t, err)
	assert.Equal(t, `{"v":1,"type":"cmd","ts":3,"seq":4,"pwm_freq":{"freq":0}}`, string(b))
}

func TestCommandAbsentFields(t *testing.T) {
	t.Parallel()
	var c Codec
	cmd, err := c.DecodeCommand([]byte(`{"v":1,"type":"cmd","ts":1,"seq":1,"set_pwm":{"ch":0,"duty":0}}`))
	require.NoError(t, err)
	require.NotNil(t, cmd.SetPWM)
	assert.Equal(t, 0, cmd.SetPWM.Duty)
	assert.Nil(t, cmd.PWMFreq)
	assert.Nil(t, cmd.WriteGPIO)
	assert.False(t, cmd.Empty())

	var raw map[string]interface{}
	b, err := c.EncodeCommand(&Command{Seq: 9})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &raw))
	_, present := raw["set_pwm"]
	assert.False(t, present)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()
	var c Codec
	cases := []struct {
		name   string
		input  string
		update bool
		expect error
	}{
		{"garbage", "\x00\x01", true, ErrMalformedPayload},
		{"truncated", `{"v":1,"type":"sensor_upd`, true, ErrMalformedPayload},
		{"no-version", `{"type":"sensor_update"}`, true, ErrMalformedPayload},
		{"version-2", `{"v":2,"type":"cmd"}`, false, ErrMalformedPayload},
		{"version-2-wrong-type", `{"v":2,"type":"sensor_update"}`, false, ErrMalformedPayload},
		{"cmd-as-update", `{"v":1,"type":"cmd","ts":1,"seq":1}`, true, ErrUnexpectedKind},
		{"update-as-cmd", `{"v":1,"type":"sensor_update","ts":1,"seq":1}`, false, ErrUnexpectedKind},
		{"wrong-field-type", `{"v":1,"type":"cmd","seq":"x"}`, false, ErrMalformedPayload},
	}
	for _, c2 := range cases {
		c2 := c2
		t.Run(c2.name, func(t *testing.T) {
			var err error
			if c2.update {
				_, err = c.DecodeUpdate([]byte(c2.input))
			} else {
				_, err = c.DecodeCommand([]byte(c2.input))
			}
			require.Error(t, err)
			assert.Equal(t, c2.expect, errors.Cause(err), errors.ErrorStack(err))
		})
	}
}

func TestDuplicateSeqDecodes(t *testing.T) {
	t.Parallel()
	var c Codec
	for _, seq := range []uint32{5, 5, 3} {
		b, err := c.EncodeUpdate(&Update{Seq: seq})
		require.NoError(t, err)
		u, err := c.DecodeUpdate(b)
		require.NoError(t, err)
		assert.Equal(t, seq, u.Seq)
	}
}

func TestEncodingByName(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"", "json", "cbor"} {
		e, err := EncodingByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, e)
	}
	_, err := EncodingByName("msgpack")
	require.Error(t, err)
	assert.Equal(t, ErrUnsupportedEncoding, errors.Cause(err))
	assert.Contains(t, err.Error(), "encoding=msgpack")
}

func TestCrossEncodingRejected(t *testing.T) {
	t.Parallel()
	b, err := NewCodec(CBOR).EncodeUpdate(sampleUpdate())
	require.NoError(t, err)
	_, err = NewCodec(JSON).DecodeUpdate(b)
	require.Error(t, err)
	assert.Equal(t, ErrMalformedPayload, errors.Cause(err))
}

func ExampleCodec_EncodeCommand() {
	var c Codec
	b, _ := c.EncodeCommand(&Command{TimestampMs: 1000, Seq: 1, SetPWM: &SetPWM{Channel: 2, Duty: 512}})
	fmt.Println(string(b))
	// Output: {"v":1,"type":"cmd","ts":1000,"seq":1,"set_pwm":{"ch":2,"duty":512}}
}
