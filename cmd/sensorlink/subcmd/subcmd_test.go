package subcmd

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/sensorlink/config"
	"github.com/temoto/sensorlink/discovery"
	"github.com/temoto/sensorlink/log2"
)

func TestParse(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *config.Config, *log2.Log, []string) error { return nil }
	mods := []Mod{{Name: "sensor", Main: noop}, {Name: "hmi", Main: noop}}
	m, err := Parse("hmi", mods)
	require.NoError(t, err)
	assert.Equal(t, "hmi", m.Name)
	_, err = Parse("", mods)
	assert.Error(t, err)
	_, err = Parse("vmc", mods)
	assert.Contains(t, err.Error(), "unknown command='vmc'")
	assert.Contains(t, Usage(mods), "sensor")
}

func TestTarget(t *testing.T) {
	t.Parallel()
	c := &config.Config{}
	_, err := Target(c)
	assert.Equal(t, discovery.ErrNoAddresses, errors.Cause(err))

	c.Discovery = config.DiscoveryConfig{Addresses: []string{"fe80::1"}, Port: 8443, Hostname: "sensor.prod"}
	target, err := Target(c)
	require.NoError(t, err)
	assert.Equal(t, discovery.Target{URI: "wss://[fe80::1]:8443/ws", PeerIdentity: "sensor.prod"}, target)

	c.HMI.ServerName = "pinned"
	target, err = Target(c)
	require.NoError(t, err)
	assert.Equal(t, "pinned", target.PeerIdentity)

	c.HMI.URI = "ws://127.0.0.1:1/ws"
	target, err = Target(c)
	require.NoError(t, err)
	assert.Equal(t, discovery.Target{URI: "ws://127.0.0.1:1/ws", PeerIdentity: "pinned"}, target)
}
