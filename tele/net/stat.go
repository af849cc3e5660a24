package telenet

// Complex values are read and modified atomically, but not consistently,
// i.e. it is possible to read .Count=1 .Size=0 because Size has not updated yet.

import (
	"expvar"
	"fmt"

	"github.com/temoto/sensorlink/tele"
)

type SessionStat struct {
	Conn    expvar.Int
	Dropped expvar.Int // frames failed checksum, structure or unsealing
	Recv    Counters
	Send    Counters
}

func (ss *SessionStat) Add(other *SessionStat) {
	ss.Conn.Add(other.Conn.Value())
	ss.Dropped.Add(other.Dropped.Value())
	ss.Recv.Add(&other.Recv)
	ss.Send.Add(&other.Send)
}

func (ss *SessionStat) Value() (r SessionStat) {
	r.Conn.Set(ss.Conn.Value())
	r.Dropped.Set(ss.Dropped.Value())
	r.Recv.Set(ss.Recv.Value())
	r.Send.Set(ss.Send.Value())
	return
}

func (ss *SessionStat) String() string {
	return fmt.Sprintf(`{"conn":%d,"dropped":%d,"recv":%s,"send":%s}`,
		ss.Conn.Value(), ss.Dropped.Value(), ss.Recv.String(), ss.Send.String())
}

type Counters struct {
	Command CountSizePair
	Update  CountSizePair
	Total   CountSizePair
}

func (c *Counters) Add(c2 *Counters) {
	c.Command.Add(&c2.Command)
	c.Update.Add(&c2.Update)
	c.Total.Add(&c2.Total)
}

// Register accounts one transport message of size bytes.
func (c *Counters) Register(size int) {
	c.Total.Count.Add(1)
	c.Total.Size.Add(int64(size))
}

// Classify accounts already registered message under its kind.
func (c *Counters) Classify(kind string, size int) {
	var category *CountSizePair
	switch kind {
	case tele.KindCommand:
		category = &c.Command
	case tele.KindUpdate:
		category = &c.Update
	}
	if category != nil {
		category.Count.Add(1)
		category.Size.Add(int64(size))
	}
}

func (c *Counters) Set(new Counters) {
	c.Command.Set(new.Command.Value())
	c.Update.Set(new.Update.Value())
	c.Total.Set(new.Total.Value())
}

func (c *Counters) Value() (r Counters) {
	r.Command = c.Command.Value()
	r.Update = c.Update.Value()
	r.Total = c.Total.Value()
	return
}

func (c *Counters) String() string {
	return fmt.Sprintf(`{"cmd.count":%d,"cmd.size":%d,"update.count":%d,"update.size":%d,"total.count":%d,"total.size":%d}`,
		c.Command.Count.Value(), c.Command.Size.Value(),
		c.Update.Count.Value(), c.Update.Size.Value(),
		c.Total.Count.Value(), c.Total.Size.Value())
}

type CountSizePair struct {
	Count expvar.Int
	Size  expvar.Int
}

func (csp *CountSizePair) Add(other *CountSizePair) {
	csp.Count.Add(other.Count.Value())
	csp.Size.Add(other.Size.Value())
}

func (csp *CountSizePair) Value() (r CountSizePair) {
	r.Count.Set(csp.Count.Value())
	r.Size.Set(csp.Size.Value())
	return
}

func (csp *CountSizePair) Set(new CountSizePair) {
	csp.Count.Set(new.Count.Value())
	csp.Size.Set(new.Size.Value())
}
