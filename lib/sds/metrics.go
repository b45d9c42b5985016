package sds

import (
	"github.com/VictoriaMetrics/metrics"
	"io"
)

// serviceMetrics are the counters of one service instance. Every service owns
// its own set, so several instances can coexist in one process.
type serviceMetrics struct {
	set *metrics.Set

	bytesIn, bytesOut   *metrics.Counter
	framesIn, framesOut *metrics.Counter
	gaps                *metrics.Counter
	duplicates          *metrics.Counter
	timeouts            *metrics.Counter
	opDuration          *metrics.Histogram
}

func newServiceMetrics(streamsOpen func() float64) *serviceMetrics {
	s := metrics.NewSet()
	s.NewGauge(`sdsio_streams_open`, streamsOpen)
	return &serviceMetrics{
		set:        s,
		bytesIn:    s.NewCounter(`sdsio_bytes_total{dir="in"}`),
		bytesOut:   s.NewCounter(`sdsio_bytes_total{dir="out"}`),
		framesIn:   s.NewCounter(`sdsio_frames_total{dir="in"}`),
		framesOut:  s.NewCounter(`sdsio_frames_total{dir="out"}`),
		gaps:       s.NewCounter(`sdsio_sequence_gaps_total`),
		duplicates: s.NewCounter(`sdsio_duplicates_total`),
		timeouts:   s.NewCounter(`sdsio_timeouts_total`),
		opDuration: s.NewHistogram(`sdsio_op_duration_seconds`),
	}
}

func (m *serviceMetrics) writePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
