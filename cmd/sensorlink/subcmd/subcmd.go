// Support sub-commands in sensorlink application.
package subcmd

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/sensorlink/config"
	"github.com/temoto/sensorlink/discovery"
	"github.com/temoto/sensorlink/log2"
)

type Mod struct {
	Name  string
	Usage string
	Main  func(ctx context.Context, config *config.Config, log *log2.Log, args []string) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown command='%s'", command)
	}
	return found, nil
}

func Usage(modules []Mod) string {
	b := strings.Builder{}
	for _, m := range modules {
		fmt.Fprintf(&b, "  %-8s %s\n", m.Name, m.Usage)
	}
	return b.String()
}

func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}

// Target picks explicit hmi.uri, otherwise builds one from discovery record.
func Target(c *config.Config) (discovery.Target, error) {
	if c.HMI.URI != "" {
		return discovery.Target{URI: c.HMI.URI, PeerIdentity: c.HMI.ServerName}, nil
	}
	t, err := discovery.BuildURI(c.Discovery.Record())
	if err != nil {
		return t, errors.Annotate(err, "discovery")
	}
	if c.HMI.ServerName != "" {
		t.PeerIdentity = c.HMI.ServerName
	}
	return t, nil
}
