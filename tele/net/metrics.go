package telenet

import (
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Totals sums finished sessions and every live conn, overtaken ones included.
// Monotonic for counters: finished conn stat is folded under the same lock.
func (s *Server) Totals() SessionStat {
	s.conns.RLock()
	defer s.conns.RUnlock()
	total := s.stat.Value()
	for conn := range s.conns.live {
		st := conn.Stat()
		total.Dropped.Add(st.Dropped.Value())
		total.Recv.Add(&st.Recv)
	}
	return total
}

// RegisterMetrics exports session counters to prometheus registry.
func (s *Server) RegisterMetrics(reg prometheus.Registerer, namespace string) error {
	counter := func(name, help string, f func(*SessionStat) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      name,
			Help:      help,
		}, func() float64 {
			t := s.Totals()
			return float64(f(&t))
		})
	}
	cs := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Established sessions.",
		}, func() float64 { return float64(s.Count()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rejected_total",
			Help:      "Session establishments rejected by authorization.",
		}, func() float64 { return float64(s.Rejected()) }),
		counter("broadcast_frames_total", "Frames delivered by broadcast.",
			func(t *SessionStat) int64 { return t.Send.Total.Count.Value() }),
		counter("dropped_frames_total", "Received frames dropped by integrity check.",
			func(t *SessionStat) int64 { return t.Dropped.Value() }),
		counter("recv_messages_total", "Received transport messages.",
			func(t *SessionStat) int64 { return t.Recv.Total.Count.Value() }),
		counter("recv_commands_total", "Received valid commands.",
			func(t *SessionStat) int64 { return t.Recv.Command.Count.Value() }),
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return errors.Annotate(err, "register metrics")
		}
	}
	return nil
}
