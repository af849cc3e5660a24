package pair

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/sensorlink/config"
	"github.com/temoto/sensorlink/discovery"
	"github.com/temoto/sensorlink/log2"
	"github.com/temoto/sensorlink/pair"
)

func TestShow(t *testing.T) {
	t.Parallel()
	code, err := pair.ForTarget(discovery.Target{URI: "wss://10.0.0.1:8443/ws"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Show(&buf, code, true))
	assert.True(t, strings.HasSuffix(buf.String(), "wss://10.0.0.1:8443/ws\n"))
	assert.Contains(t, buf.String(), "██")

	buf.Reset()
	require.NoError(t, Show(&buf, code, false))
	_, err = png.Decode(&buf)
	require.NoError(t, err)
}

func TestMainPNG(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Sensor.SecretHex = "3132333435363738393031323334353637383930"
	path := filepath.Join(t.TempDir(), "totp.png")
	require.NoError(t, Main(context.Background(), cfg, log2.NewTest(t, log2.LDebug), []string{"-png", path, "-totp", "bench"}))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 512, img.Bounds().Dx())
}

func TestMainNoTarget(t *testing.T) {
	t.Parallel()
	err := Main(context.Background(), &config.Config{}, log2.NewTest(t, log2.LDebug), []string{"-png", filepath.Join(t.TempDir(), "x.png")})
	assert.Error(t, err)
}
