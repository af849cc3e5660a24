package resolve

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/temoto/sensorlink/cmd/sensorlink/subcmd"
	"github.com/temoto/sensorlink/config"
	"github.com/temoto/sensorlink/discovery"
	"github.com/temoto/sensorlink/log2"
)

var Mod = subcmd.Mod{Name: "resolve", Usage: "print URI and peer identity from discovery record [TXT key=value...]", Main: Main}

func Main(ctx context.Context, config *config.Config, log *log2.Log, args []string) error {
	return Resolve(config.Discovery.Record(), args, os.Stdout)
}

// Resolve applies extra TXT strings over configured attributes.
func Resolve(r discovery.Record, txt []string, w io.Writer) error {
	attrs := make(map[string]string, len(r.Attributes)+len(txt))
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	for k, v := range discovery.ParseTXT(txt) {
		attrs[k] = v
	}
	r.Attributes = attrs
	t, err := discovery.BuildURI(r)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "uri=%s\npeer_identity=%s\n", t.URI, t.PeerIdentity)
	return err
}
