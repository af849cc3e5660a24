package sensor

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/sensorlink/cmd/sensorlink/subcmd"
	"github.com/temoto/sensorlink/config"
	"github.com/temoto/sensorlink/helpers"
	"github.com/temoto/sensorlink/log2"
	"github.com/temoto/sensorlink/node"
	"github.com/temoto/sensorlink/tele"
	telenet "github.com/temoto/sensorlink/tele/net"
)

const shutdownTimeout = 5 * time.Second

var Mod = subcmd.Mod{Name: "sensor", Usage: "serve telemetry sessions", Main: Main}

func Main(ctx context.Context, config *config.Config, log *log2.Log, args []string) error {
	g, err := NewGateway(config, log)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(config.Sensor.Path, g.Server())
	ln, err := Listen(config.Sensor)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux}
	errch := make(chan error, 2)
	go func() { errch <- errors.Annotate(srv.Serve(ln), "sensor serve") }()
	log.Infof("sensor listen=%s path=%s", ln.Addr(), config.Sensor.Path)

	var metricsSrv *http.Server
	if config.Sensor.MetricsListen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		if err := g.Server().RegisterMetrics(reg, "sensorlink"); err != nil {
			return errors.Annotate(err, "metrics")
		}
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: config.Sensor.MetricsListen, Handler: metricsMux}
		go func() { errch <- errors.Annotate(metricsSrv.ListenAndServe(), "metrics serve") }()
		log.Infof("metrics listen=%s", config.Sensor.MetricsListen)
	}

	subcmd.SdNotify(daemon.SdNotifyReady)
	select {
	case <-ctx.Done():
	case err = <-errch:
		log.Error(err)
	}

	subcmd.SdNotify(daemon.SdNotifyStopping)
	errs := []error{err}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs = append(errs, srv.Shutdown(sctx))
	if metricsSrv != nil {
		errs = append(errs, metricsSrv.Shutdown(sctx))
	}
	errs = append(errs, g.Close())
	log.Infof("sensor stopped stat=%s", g.Server().Stat().String())
	return helpers.FoldErrors(errs)
}

func NewGateway(config *config.Config, log *log2.Log) (*node.Gateway, error) {
	enc, err := tele.EncodingByName(config.Sensor.Encoding)
	if err != nil {
		return nil, err
	}
	secret, err := config.Sensor.Secret()
	if err != nil {
		return nil, err
	}
	sopt := telenet.ServerOptions{
		Log:   log,
		Token: config.Sensor.AuthToken,
	}
	if len(secret) != 0 {
		if sopt.Handshake, err = telenet.NewHandshake(secret); err != nil {
			return nil, errors.Annotate(err, "handshake")
		}
	}
	if config.Sensor.TOTP {
		sopt.TOTP = &telenet.TOTP{Secret: secret, Window: 1}
	}
	return node.NewGateway(node.GatewayOptions{
		Log:            log,
		Codec:          tele.NewCodec(enc),
		Secret:         secret,
		SealFrames:     config.Sensor.SealFrames,
		UpdateInterval: config.Sensor.UpdateInterval(),
		AckCommands:    config.Sensor.AckCommands,
		PWMChannels:    config.Sensor.PWMChannels,
	}, sopt)
}

// Listen supports tcp://host:port and tls://host:port
func Listen(c config.SensorConfig) (net.Listener, error) {
	u, err := url.Parse(c.Listen)
	if err != nil {
		return nil, errors.Annotatef(err, "sensor.listen=%s", c.Listen)
	}
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, errors.Annotatef(err, "sensor.listen=%s", c.Listen)
	}
	if u.Scheme != "tls" {
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
	if err != nil {
		ln.Close()
		return nil, errors.Annotate(err, "sensor tls")
	}
	return tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}), nil
}
