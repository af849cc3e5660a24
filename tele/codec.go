package tele

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"github.com/juju/errors"
)

// Encoding is a serialization of the logical message schema.
type Encoding interface {
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(b []byte, v interface{}) error
}

var (
	JSON Encoding = jsonEncoding{}
	CBOR Encoding = cborEncoding{}
)

func EncodingByName(name string) (Encoding, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	}
	return nil, errors.Annotatef(ErrUnsupportedEncoding, "encoding=%s", name)
}

type jsonEncoding struct{}

func (jsonEncoding) Name() string                            { return "json" }
func (jsonEncoding) Marshal(v interface{}) ([]byte, error)   { return json.Marshal(v) }
func (jsonEncoding) Unmarshal(b []byte, v interface{}) error { return json.Unmarshal(b, v) }

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	// struct fields reuse json tags, so both encodings share one schema
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("tele: CBOR encoder init: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("tele: CBOR decoder init: " + err.Error())
	}
}

type cborEncoding struct{}

func (cborEncoding) Name() string                            { return "cbor" }
func (cborEncoding) Marshal(v interface{}) ([]byte, error)   { return cborEnc.Marshal(v) }
func (cborEncoding) Unmarshal(b []byte, v interface{}) error { return cborDec.Unmarshal(b, v) }

// Codec converts messages to payload bytes (without frame envelope).
// Zero value uses JSON.
type Codec struct {
	Encoding Encoding
}

func NewCodec(e Encoding) Codec { return Codec{Encoding: e} }

func (c Codec) enc() Encoding {
	if c.Encoding == nil {
		return JSON
	}
	return c.Encoding
}

// EncodeUpdate sets v/type and replaces nil lists and maps with empty ones.
// Input is not modified.
func (c Codec) EncodeUpdate(u *Update) ([]byte, error) {
	cp := *u
	if u.PWM != nil {
		cp.PWM = make(map[string]PWMState, len(u.PWM))
		for k, v := range u.PWM {
			cp.PWM[k] = v
		}
	}
	cp.normalize()
	b, err := c.enc().Marshal(&cp)
	return b, errors.Annotate(err, "encode update")
}

func (c Codec) EncodeCommand(cmd *Command) ([]byte, error) {
	cp := *cmd
	cp.normalize()
	b, err := c.enc().Marshal(&cp)
	return b, errors.Annotate(err, "encode command")
}

func (c Codec) DecodeUpdate(b []byte) (*Update, error) {
	u := &Update{}
	if err := c.decode(b, u, KindUpdate, func() (int, string) { return u.Version, u.Kind }); err != nil {
		return nil, err
	}
	return u, nil
}

func (c Codec) DecodeCommand(b []byte) (*Command, error) {
	cmd := &Command{}
	if err := c.decode(b, cmd, KindCommand, func() (int, string) { return cmd.Version, cmd.Kind }); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Kind peeks dispatch fields v and type.
func (c Codec) Kind(b []byte) (string, error) {
	var head struct {
		Version int    `json:"v"`
		Kind    string `json:"type"`
	}
	if err := c.enc().Unmarshal(b, &head); err != nil {
		return "", errors.Annotatef(ErrMalformedPayload, "%s: %v", c.enc().Name(), err)
	}
	if head.Version != Version {
		return "", errors.Annotatef(ErrMalformedPayload, "version=%d", head.Version)
	}
	return head.Kind, nil
}

func (c Codec) decode(b []byte, v interface{}, expect string, head func() (int, string)) error {
	if err := c.enc().Unmarshal(b, v); err != nil {
		return errors.Annotatef(ErrMalformedPayload, "%s: %v", c.enc().Name(), err)
	}
	version, kind := head()
	// unknown version is malformed regardless of type, kind is only meaningful within Version
	if version != Version {
		return errors.Annotatef(ErrMalformedPayload, "version=%d", version)
	}
	if kind != expect {
		return errors.Annotatef(ErrUnexpectedKind, "type=%q expected=%q", kind, expect)
	}
	return nil
}
