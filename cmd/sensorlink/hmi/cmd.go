package hmi

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/sensorlink/cmd/sensorlink/subcmd"
	"github.com/temoto/sensorlink/config"
	"github.com/temoto/sensorlink/discovery"
	"github.com/temoto/sensorlink/log2"
	"github.com/temoto/sensorlink/node"
	"github.com/temoto/sensorlink/tele"
	telenet "github.com/temoto/sensorlink/tele/net"
)

const usage = "print updates as JSON lines; optional command: set_pwm CH DUTY | pwm_freq HZ | write_gpio DEV PORT MASK VALUE"

var Mod = subcmd.Mod{Name: "hmi", Usage: usage, Main: Main}

func Main(ctx context.Context, config *config.Config, log *log2.Log, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}
	target, err := subcmd.Target(config)
	if err != nil {
		return err
	}
	cache := &discovery.Cache{}
	cache.Update(target)

	opt, err := ClientOptions(config, log, cache)
	if err != nil {
		return err
	}
	client, err := telenet.NewClient(opt)
	if err != nil {
		return err
	}
	defer client.Close()
	return Run(ctx, client, config, log, cmd, os.Stdout)
}

// ClientOptions dials the latest cached target on every reconnect.
func ClientOptions(config *config.Config, log *log2.Log, cache *discovery.Cache) (telenet.ClientOptions, error) {
	target, ok := cache.Recall()
	if !ok {
		return telenet.ClientOptions{}, errors.New("no target")
	}
	secret, err := config.HMI.Secret()
	if err != nil {
		return telenet.ClientOptions{}, err
	}
	dopt := telenet.DialOptions{
		Log:        log,
		Token:      config.HMI.AuthToken,
		ServerName: target.PeerIdentity,
	}
	if len(secret) != 0 {
		if dopt.Handshake, err = telenet.NewHandshake(secret); err != nil {
			return telenet.ClientOptions{}, errors.Annotate(err, "handshake")
		}
	}
	if config.HMI.TOTP {
		dopt.TOTP = &telenet.TOTP{Secret: secret}
	}
	return telenet.ClientOptions{
		DialOptions: dopt,
		URI:         target.URI,
		Dial: func(ctx context.Context, _ string, opt telenet.DialOptions) (telenet.Conn, error) {
			t, _ := cache.Recall()
			opt.ServerName = t.PeerIdentity
			log.Debugf("dial uri=%s server_name=%s", t.URI, t.PeerIdentity)
			return telenet.Dial(ctx, t.URI, opt)
		},
	}, nil
}

// Run sends cmd once per session (when not nil) and writes received updates to w.
func Run(ctx context.Context, client *telenet.Client, config *config.Config, log *log2.Log, cmd *tele.Command, w io.Writer) error {
	enc, err := tele.EncodingByName(config.HMI.Encoding)
	if err != nil {
		return err
	}
	secret, err := config.HMI.Secret()
	if err != nil {
		return err
	}
	out := json.NewEncoder(w)
	return client.Run(ctx, func(ctx context.Context, conn telenet.Conn) error {
		var sealer *telenet.Sealer
		if config.HMI.SealFrames {
			var err error
			if sealer, err = telenet.NewSealer(secret); err != nil {
				return err
			}
		}
		h := node.NewHMI(conn, tele.NewCodec(enc), sealer, log, config.HMI.Keep)
		log.Infof("session %s", conn.String())
		if cmd != nil {
			if err := h.Send(ctx, cmd); err != nil {
				return err
			}
		}
		return h.Run(ctx, func(u *tele.Update) {
			if err := out.Encode(u); err != nil {
				log.Errorf("output err=%v", err)
			}
		})
	})
}

// ParseCommand returns nil for empty args.
func ParseCommand(args []string) (*tele.Command, error) {
	if len(args) == 0 {
		return nil, nil
	}
	ints := func(ss []string) ([]int, error) {
		r := make([]int, len(ss))
		for i, s := range ss {
			n, err := strconv.ParseInt(s, 0, 32)
			if err != nil {
				return nil, errors.NotValidf("argument %q", s)
			}
			r[i] = int(n)
		}
		return r, nil
	}
	want := func(n int) error {
		if len(args)-1 != n {
			return errors.NotValidf("%s expects %d arguments, got %d", args[0], n, len(args)-1)
		}
		return nil
	}
	cmd := &tele.Command{}
	switch strings.ToLower(args[0]) {
	case "set_pwm":
		if err := want(2); err != nil {
			return nil, err
		}
		xs, err := ints(args[1:])
		if err != nil {
			return nil, err
		}
		cmd.SetPWM = &tele.SetPWM{Channel: xs[0], Duty: xs[1]}
	case "pwm_freq":
		if err := want(1); err != nil {
			return nil, err
		}
		xs, err := ints(args[1:])
		if err != nil {
			return nil, err
		}
		cmd.PWMFreq = &tele.PWMFreq{Freq: xs[0]}
	case "write_gpio":
		if err := want(4); err != nil {
			return nil, err
		}
		xs, err := ints(args[3:])
		if err != nil {
			return nil, err
		}
		cmd.WriteGPIO = &tele.WriteGPIO{Device: args[1], Port: args[2], Mask: xs[0], Value: xs[1]}
	default:
		return nil, errors.NotValidf("command %q", args[0])
	}
	return cmd, nil
}
