package server

import (
	"github.com/VictoriaMetrics/metrics"
)

type serverMetrics struct {
	set *metrics.Set

	bytesRecorded *metrics.Counter
	bytesPlayed   *metrics.Counter
	framesIn      *metrics.Counter
	framesOut     *metrics.Counter
	gaps          *metrics.Counter
	duplicates    *metrics.Counter
	resets        *metrics.Counter
}

func newServerMetrics(connections, recordings func() float64) *serverMetrics {
	s := metrics.NewSet()
	s.NewGauge(`sdsio_server_connections`, connections)
	s.NewGauge(`sdsio_server_recordings_active`, recordings)
	return &serverMetrics{
		set:           s,
		bytesRecorded: s.NewCounter(`sdsio_bytes_total{dir="in"}`),
		bytesPlayed:   s.NewCounter(`sdsio_bytes_total{dir="out"}`),
		framesIn:      s.NewCounter(`sdsio_frames_total{dir="in"}`),
		framesOut:     s.NewCounter(`sdsio_frames_total{dir="out"}`),
		gaps:          s.NewCounter(`sdsio_sequence_gaps_total`),
		duplicates:    s.NewCounter(`sdsio_duplicates_total`),
		resets:        s.NewCounter(`sdsio_server_resets_total`),
	}
}
