// Package config reads sensorlink HCL configuration.
package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/sensorlink/discovery"
	"github.com/temoto/sensorlink/helpers"
	"github.com/temoto/sensorlink/log2"
	"github.com/temoto/sensorlink/ota"
	"github.com/temoto/sensorlink/tele"
)

type Config struct {
	Sensor    SensorConfig    `hcl:"sensor"`
	HMI       HMIConfig       `hcl:"hmi"`
	Discovery DiscoveryConfig `hcl:"discovery"`
	OTA       OTAConfig       `hcl:"ota"`
}

type SensorConfig struct {
	Listen           string `hcl:"listen"` // tcp://host:port or tls://host:port
	Path             string `hcl:"path"`
	TLSCertFile      string `hcl:"tls_cert_file"`
	TLSKeyFile       string `hcl:"tls_key_file"`
	AuthToken        string `hcl:"auth_token"`
	SecretHex        string `hcl:"secret_hex"`
	SealFrames       bool   `hcl:"seal_frames"`
	TOTP             bool   `hcl:"totp"`
	Encoding         string `hcl:"encoding"`
	UpdateIntervalMs int    `hcl:"update_interval_ms"`
	AckCommands      bool   `hcl:"ack_commands"`
	PWMChannels      int    `hcl:"pwm_channels"`
	LogDebug         bool   `hcl:"log_debug"`
	MetricsListen    string `hcl:"metrics_listen"`
}

type HMIConfig struct {
	URI        string `hcl:"uri"`
	ServerName string `hcl:"server_name"`
	AuthToken  string `hcl:"auth_token"`
	SecretHex  string `hcl:"secret_hex"`
	SealFrames bool   `hcl:"seal_frames"`
	TOTP       bool   `hcl:"totp"`
	Encoding   string `hcl:"encoding"`
	Keep       int    `hcl:"keep"`
}

type DiscoveryConfig struct {
	Addresses  []string          `hcl:"addresses"`
	Port       int               `hcl:"port"`
	Hostname   string            `hcl:"hostname"`
	Attributes map[string]string `hcl:"attributes"`
}

type OTAConfig struct {
	URL             string `hcl:"url"`
	ChunkSize       int    `hcl:"chunk_size"`
	MaxAttempts     int    `hcl:"max_attempts"`
	RetryDelayMs    int    `hcl:"retry_delay_ms"`
	MaxRetryDelayMs int    `hcl:"max_retry_delay_ms"`
	Output          string `hcl:"output"`
}

func (c *SensorConfig) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalMs) * time.Millisecond
}

func (c *SensorConfig) Secret() ([]byte, error) { return decodeSecret("sensor.secret_hex", c.SecretHex) }
func (c *HMIConfig) Secret() ([]byte, error)    { return decodeSecret("hmi.secret_hex", c.SecretHex) }

func (c *DiscoveryConfig) Record() discovery.Record {
	return discovery.Record{
		Addresses:  c.Addresses,
		Port:       c.Port,
		Attributes: c.Attributes,
		Hostname:   c.Hostname,
	}
}

func (c *OTAConfig) Options(log *log2.Log) ota.Options {
	return ota.Options{
		MaxAttempts:   c.MaxAttempts,
		RetryDelay:    time.Duration(c.RetryDelayMs) * time.Millisecond,
		MaxRetryDelay: time.Duration(c.MaxRetryDelayMs) * time.Millisecond,
		Log:           log,
	}
}

func decodeSecret(key, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Annotatef(err, "config: %s", key)
	}
	return b, nil
}

func (c *Config) applyDefaults() {
	if c.Sensor.Listen == "" {
		c.Sensor.Listen = "tcp://127.0.0.1:8443"
	}
	if c.Sensor.Path == "" {
		c.Sensor.Path = discovery.DefaultPath
	}
	if c.Sensor.PWMChannels == 0 {
		c.Sensor.PWMChannels = 16
	}
	if c.HMI.ServerName == "" && c.HMI.URI == "" {
		c.HMI.ServerName = c.Discovery.Hostname
	}
	if c.OTA.ChunkSize == 0 {
		c.OTA.ChunkSize = 4096
	}
	if c.OTA.MaxAttempts == 0 {
		c.OTA.MaxAttempts = ota.DefaultMaxAttempts
	}
}

// Validate reports all problems at once.
func (c *Config) Validate() error {
	errs := make([]error, 0)
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	check(validateListen("sensor.listen", c.Sensor.Listen))
	if u, _ := url.Parse(c.Sensor.Listen); u != nil && u.Scheme == "tls" {
		if c.Sensor.TLSCertFile == "" || c.Sensor.TLSKeyFile == "" {
			errs = append(errs, fmt.Errorf("config: sensor.tls_cert_file and tls_key_file required for tls listen"))
		}
	}
	if _, err := tele.EncodingByName(c.Sensor.Encoding); err != nil {
		errs = append(errs, errors.Annotate(err, "config: sensor.encoding"))
	}
	if _, err := tele.EncodingByName(c.HMI.Encoding); err != nil {
		errs = append(errs, errors.Annotate(err, "config: hmi.encoding"))
	}
	secret, err := c.Sensor.Secret()
	check(err)
	if (c.Sensor.SealFrames || c.Sensor.TOTP) && len(secret) == 0 && err == nil {
		errs = append(errs, fmt.Errorf("config: sensor.secret_hex required for seal_frames or totp"))
	}
	hmiSecret, err := c.HMI.Secret()
	check(err)
	if (c.HMI.SealFrames || c.HMI.TOTP) && len(hmiSecret) == 0 && err == nil {
		errs = append(errs, fmt.Errorf("config: hmi.secret_hex required for seal_frames or totp"))
	}
	if c.Sensor.UpdateIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("config: sensor.update_interval_ms=%d must be >= 0", c.Sensor.UpdateIntervalMs))
	}
	if c.Discovery.Port < 0 || c.Discovery.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: discovery.port=%d out of range", c.Discovery.Port))
	}
	if c.OTA.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("config: ota.chunk_size=%d must be > 0", c.OTA.ChunkSize))
	}
	if c.OTA.RetryDelayMs < 0 || c.OTA.MaxRetryDelayMs < 0 {
		errs = append(errs, fmt.Errorf("config: ota retry delays must be >= 0"))
	}
	return helpers.FoldErrors(errs)
}

func validateListen(key, s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return errors.Annotatef(err, "config: %s", key)
	}
	switch u.Scheme {
	case "tcp", "tls":
	default:
		return fmt.Errorf("config: %s=%s unsupported scheme, valid: tcp, tls", key, s)
	}
	if u.Host == "" {
		return fmt.Errorf("config: %s=%s host:port required", key, s)
	}
	return nil
}

func ReadConfig(r io.Reader, log *log2.Log) (*Config, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c := new(Config)
	if err = hcl.Unmarshal(b, c); err != nil {
		return nil, errors.Annotate(err, "config")
	}
	c.applyDefaults()
	if err = c.Validate(); err != nil {
		return nil, err
	}
	log.Debugf("config sensor.listen=%s encoding=%q seal=%t", c.Sensor.Listen, c.Sensor.Encoding, c.Sensor.SealFrames)
	return c, nil
}

func ReadConfigFile(path string, log *log2.Log) (*Config, error) {
	if pathAbs, err := filepath.Abs(path); err != nil {
		log.Errorf("filepath.Abs(%s) error=%v", path, err)
	} else {
		path = pathAbs
	}
	log.Debugf("reading config file %s", path)

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	return ReadConfig(f, log)
}

func MustReadConfigFile(path string, log *log2.Log) *Config {
	c, err := ReadConfigFile(path, log)
	if err != nil {
		log.Fatal(err)
	}
	return c
}
