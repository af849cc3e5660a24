package tele

import (
	"sync/atomic"
	"time"
)

// Sampler fills sensor readings into u. Version, kind, ts and seq are set by Producer.
type Sampler interface {
	Sample(u *Update) error
}

type SamplerFunc func(u *Update) error

func (f SamplerFunc) Sample(u *Update) error { return f(u) }

// Producer stamps generated updates with its own sequence counter.
// Independent producers never share sequence state.
type Producer struct {
	seq     uint32
	Sampler Sampler
	Now     func() time.Time
}

func NewProducer(s Sampler) *Producer {
	return &Producer{Sampler: s}
}

// Next returns an update with seq starting from 0 and incremented per call.
func (p *Producer) Next() (*Update, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	u := &Update{
		Version:     Version,
		Kind:        KindUpdate,
		TimestampMs: now().UnixNano() / int64(time.Millisecond),
		Seq:         atomic.AddUint32(&p.seq, 1) - 1,
	}
	if p.Sampler != nil {
		if err := p.Sampler.Sample(u); err != nil {
			return nil, err
		}
	}
	u.normalize()
	return u, nil
}

// Seq returns next sequence id to be produced.
func (p *Producer) Seq() uint32 { return atomic.LoadUint32(&p.seq) }
