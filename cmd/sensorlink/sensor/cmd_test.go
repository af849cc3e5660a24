package sensor

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/sensorlink/cmd/sensorlink/hmi"
	"github.com/temoto/sensorlink/cmd/sensorlink/subcmd"
	"github.com/temoto/sensorlink/config"
	"github.com/temoto/sensorlink/discovery"
	"github.com/temoto/sensorlink/log2"
	"github.com/temoto/sensorlink/node"
	"github.com/temoto/sensorlink/tele"
	telenet "github.com/temoto/sensorlink/tele/net"
)

const testConfig = `
sensor {
  listen = "tcp://127.0.0.1:0"
  auth_token = "bench-token"
  secret_hex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
  seal_frames = true
  totp = true
  ack_commands = true
}
hmi {
  auth_token = "bench-token"
  secret_hex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
  seal_frames = true
  totp = true
}
`

// lineWriter collects output lines and calls f after each.
type lineWriter struct {
	sync.Mutex
	lines []string
	f     func()
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.Lock()
	w.lines = append(w.lines, string(b))
	w.Unlock()
	w.f()
	return len(b), nil
}

func TestSensorHMI(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	cfg, err := config.ReadConfig(strings.NewReader(testConfig), log)
	require.NoError(t, err)

	g, err := NewGateway(cfg, log)
	require.NoError(t, err)
	ln, err := Listen(cfg.Sensor)
	require.NoError(t, err)
	mux := http.NewServeMux()
	mux.Handle(cfg.Sensor.Path, g.Server())
	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Close()
		_ = g.Close()
	})

	cfg.HMI.URI = "ws://" + ln.Addr().String() + cfg.Sensor.Path
	target, err := subcmd.Target(cfg)
	require.NoError(t, err)
	cache := &discovery.Cache{}
	cache.Update(target)
	opt, err := hmi.ClientOptions(cfg, log, cache)
	require.NoError(t, err)
	opt.RetryDelay = 10 * time.Millisecond
	client, err := telenet.NewClient(opt)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w := &lineWriter{f: cancel}
	cmd := &tele.Command{SetPWM: &tele.SetPWM{Channel: 3, Duty: 700}}
	err = hmi.Run(ctx, client, cfg, log, cmd, w)
	assert.Equal(t, context.Canceled, errors.Cause(err))

	w.Lock()
	defer w.Unlock()
	require.Len(t, w.lines, 1)
	var ack tele.Update
	require.NoError(t, json.Unmarshal([]byte(w.lines[0]), &ack))
	assert.Equal(t, tele.KindUpdate, ack.Kind)
	assert.Equal(t, uint32(0), ack.Seq)
	assert.Equal(t, 700, ack.PWM[node.PWMDevice].Duty[3])
}

func TestSensorRejectsToken(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	cfg, err := config.ReadConfig(strings.NewReader(testConfig), log)
	require.NoError(t, err)
	g, err := NewGateway(cfg, log)
	require.NoError(t, err)
	ln, err := Listen(cfg.Sensor)
	require.NoError(t, err)
	srv := &http.Server{Handler: g.Server()}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Close()
		_ = g.Close()
	})

	_, err = telenet.Dial(context.Background(), "ws://"+ln.Addr().String()+"/ws", telenet.DialOptions{Token: "wrong"})
	assert.Equal(t, telenet.ErrProvisioning, errors.Cause(err))
	assert.Equal(t, 0, g.Server().Count())
}

func TestListenConfig(t *testing.T) {
	t.Parallel()
	_, err := Listen(config.SensorConfig{Listen: "tls://127.0.0.1:0", TLSCertFile: "/nonexistent.crt", TLSKeyFile: "/nonexistent.key"})
	assert.Error(t, err)
}
