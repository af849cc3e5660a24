package pair

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/sensorlink/cmd/sensorlink/subcmd"
	"github.com/temoto/sensorlink/config"
	"github.com/temoto/sensorlink/log2"
	"github.com/temoto/sensorlink/pair"
	telenet "github.com/temoto/sensorlink/tele/net"
)

const defaultPNGSize = 512

var Mod = subcmd.Mod{Name: "pair", Usage: "show pairing QR code [-png FILE] [-totp ACCOUNT]", Main: Main}

func Main(ctx context.Context, config *config.Config, log *log2.Log, args []string) error {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	flagPNG := fs.String("png", "", "write PNG to file instead of terminal")
	flagTOTP := fs.String("totp", "", "encode TOTP enrolment for account instead of sensor URI")
	if err := fs.Parse(args); err != nil {
		return errors.Trace(err)
	}

	var code *pair.Code
	if *flagTOTP != "" {
		secret, err := config.Sensor.Secret()
		if err != nil {
			return err
		}
		if len(secret) == 0 {
			return errors.NotValidf("sensor.secret_hex empty")
		}
		if code, err = pair.ForTOTP(&telenet.TOTP{Secret: secret}, "sensorlink", *flagTOTP); err != nil {
			return err
		}
	} else {
		target, err := subcmd.Target(config)
		if err != nil {
			return err
		}
		if code, err = pair.ForTarget(target); err != nil {
			return err
		}
	}
	log.Debugf("pair content=%s", code.Content())

	if *flagPNG != "" {
		f, err := os.Create(*flagPNG)
		if err != nil {
			return errors.Trace(err)
		}
		if err := code.PNG(f, defaultPNGSize, true); err != nil {
			f.Close()
			return err
		}
		return errors.Trace(f.Close())
	}
	return Show(os.Stdout, code, isatty.IsTerminal(os.Stdout.Fd()))
}

// Show draws code on terminal, otherwise writes PNG.
func Show(w io.Writer, code *pair.Code, terminal bool) error {
	if !terminal {
		return code.PNG(w, defaultPNGSize, true)
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", code.String(true), code.Content())
	return errors.Trace(err)
}
