package pair

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/sensorlink/discovery"
	telenet "github.com/temoto/sensorlink/tele/net"
)

func TestText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "wss://10.0.0.1:8443/ws", Text(discovery.Target{URI: "wss://10.0.0.1:8443/ws"}))
	assert.Equal(t, "wss://[fe80::1]:8443/ws#sni=sensor.prod",
		Text(discovery.Target{URI: "wss://[fe80::1]:8443/ws", PeerIdentity: "sensor.prod"}))
}

func TestCodeRender(t *testing.T) {
	t.Parallel()
	c, err := ForTarget(discovery.Target{URI: "wss://10.0.0.1:8443/ws"})
	require.NoError(t, err)
	assert.Equal(t, "wss://10.0.0.1:8443/ws", c.Content())

	s := c.String(false)
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	require.NotEmpty(t, lines)
	// square grid, two cells per module
	for _, line := range lines {
		assert.Equal(t, len(lines)*2, len([]rune(line)))
	}
	withBorder := strings.Count(c.String(true), "\n")
	assert.Greater(t, withBorder, len(lines))

	var buf bytes.Buffer
	require.NoError(t, c.PNG(&buf, 256, true))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())

	pal, err := c.Image(64, true)
	require.NoError(t, err)
	assert.True(t, pal.Bounds().Dx() >= 64)
}

func TestCodeRenderRepeat(t *testing.T) {
	t.Parallel()
	c, err := ForTarget(discovery.Target{URI: "wss://10.0.0.1:8443/ws", PeerIdentity: "sensor.lan"})
	require.NoError(t, err)

	bare := c.String(false)
	framed := c.String(true)
	// quiet zone is 4 modules on each side
	assert.Equal(t, strings.Count(bare, "\n")+8, strings.Count(framed, "\n"))
	assert.Equal(t, bare, c.String(false))
	assert.Equal(t, framed, c.String(true))

	var png1, png2 bytes.Buffer
	require.NoError(t, c.PNG(&png1, 128, false))
	require.NoError(t, c.PNG(&png2, 128, false))
	assert.Equal(t, png1.Bytes(), png2.Bytes())
}

func TestForTOTP(t *testing.T) {
	t.Parallel()
	totp := &telenet.TOTP{Secret: []byte("12345678901234567890")}
	c, err := ForTOTP(totp, "sensorlink", "bench")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c.Content(), "otpauth://totp/"))
	assert.Contains(t, c.Content(), "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ")
}

func TestNewError(t *testing.T) {
	t.Parallel()
	_, err := New(strings.Repeat("x", 8000), qrcode.High)
	assert.Error(t, err)
}
