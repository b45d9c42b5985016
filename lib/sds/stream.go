package sds

import (
	"errors"
	"github.com/ValentinKolb/sdsio/rpc/common"
)

// Stream adapts an open stream to io.ReadWriteCloser
type Stream struct {
	svc  *Service
	h    Handle
	name string
}

// OpenStream opens name in mode and wraps the handle
func (s *Service) OpenStream(name string, mode common.Mode) (*Stream, error) {
	h, err := s.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return &Stream{svc: s, h: h, name: name}, nil
}

// Name returns the stream name
func (st *Stream) Name() string { return st.name }

// Handle returns the underlying handle
func (st *Stream) Handle() Handle { return st.h }

// Read implements io.Reader. Timeouts are returned as ErrTimeout, the caller
// may retry.
func (st *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return st.svc.Read(st.h, p)
}

// Write implements io.Writer. It keeps writing until all of p is accepted or
// an error occurs, including a timeout without progress.
func (st *Stream) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := st.svc.Write(st.h, p[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Close implements io.Closer, closing a stream twice is not an error
func (st *Stream) Close() error {
	err := st.svc.Close(st.h)
	if errors.Is(err, ErrInvalidHandle) {
		return nil
	}
	return err
}
