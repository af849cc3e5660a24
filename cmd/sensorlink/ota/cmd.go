package ota

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/sensorlink/cmd/sensorlink/subcmd"
	"github.com/temoto/sensorlink/config"
	"github.com/temoto/sensorlink/helpers"
	"github.com/temoto/sensorlink/log2"
	"github.com/temoto/sensorlink/ota"
)

var Mod = subcmd.Mod{Name: "ota", Usage: "download firmware image [-url URL] [-o FILE]", Main: Main}

func Main(ctx context.Context, config *config.Config, log *log2.Log, args []string) error {
	fs := flag.NewFlagSet("ota", flag.ContinueOnError)
	flagURL := fs.String("url", config.OTA.URL, "image URL")
	flagOutput := fs.String("o", config.OTA.Output, "output file, - or empty for stdout")
	if err := fs.Parse(args); err != nil {
		return errors.Trace(err)
	}
	if *flagURL == "" {
		return errors.NotValidf("ota.url empty")
	}

	src := &ota.HTTPSource{URL: *flagURL, Client: http.DefaultClient}
	if config.HMI.AuthToken != "" {
		src.Header = http.Header{"Authorization": []string{"Bearer " + config.HMI.AuthToken}}
	}
	r, err := ota.Download(ctx, src, config.OTA.Options(log))
	if err != nil {
		return err
	}
	log.Infof("ota size=%d attempts=%d drops=%d", len(r.Image), r.Attempts, r.Drops)
	return Write(*flagOutput, r.Image)
}

// Write replaces file atomically, "-" or empty writes to stdout.
func Write(path string, b []byte) error {
	if path == "" || path == "-" {
		return errors.Trace(helpers.WriteAll(os.Stdout, b))
	}
	tmp := path + ".part"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Trace(err)
	}
	err = writeClose(f, b)
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return errors.Annotatef(err, "ota output=%s", path)
	}
	return nil
}

func writeClose(f io.WriteCloser, b []byte) error {
	if err := helpers.WriteAll(f, b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
