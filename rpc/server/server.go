package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/serializer"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"github.com/ValentinKolb/sdsio/rpc/transport/serial"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/multierr"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("server")

// serialRetryInterval is the pause before a lost serial port is re-opened
const serialRetryInterval = time.Second

// Server is the counterpart of the stream service. It records write streams
// to files in the output directory and plays recordings back to readers.
type Server struct {
	conf       common.ServerConfig
	serializer serializer.IControlSerializer
	timeout    time.Duration
	recs       *recordings
	metrics    *serverMetrics
	sessions   *xsync.MapOf[string, *session]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	listener   net.Listener
	status     *http.Server
	statusAddr net.Addr
}

// New creates a server. The output directory must exist.
//
// Usage:
//
//	s, err := server.New(config)
//	if err != nil {
//		return err
//	}
//	if err := s.Serve(); err != nil {
//		return err
//	}
func New(conf common.ServerConfig) (*Server, error) {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	st, err := os.Stat(conf.OutDir)
	if err != nil {
		return nil, fmt.Errorf("output directory: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("output directory %s is not a directory", conf.OutDir)
	}

	ser, err := serializer.New(conf.Serializer)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(conf.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = common.DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		conf:       conf,
		serializer: ser,
		timeout:    timeout,
		recs:       newRecordings(conf.OutDir),
		sessions:   xsync.NewMapOf[string, *session](),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.metrics = newServerMetrics(
		func() float64 { return float64(s.sessions.Size()) },
		func() float64 { return float64(len(s.recs.list())) },
	)

	Logger.Infof("created SDS I/O server")
	Logger.Infof(conf.String())
	return s, nil
}

// Start opens the listener (or serial port) and the optional status
// endpoint, then serves in the background
func (s *Server) Start() error {
	if s.conf.StatusEndpoint != "" {
		if err := s.startStatus(); err != nil {
			return err
		}
	}

	if s.conf.Network == "serial" {
		tr, err := serial.New(s.conf.Serial)
		if err != nil {
			return err
		}
		s.wg.Add(1)
		go s.serialLoop(tr)
		return nil
	}

	connector, err := ServerConnectorFor(s.conf.Network)
	if err != nil {
		return err
	}
	listener, err := connector.Listen(s.conf)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	Logger.Infof("listening on %s (%s)", listener.Addr(), connector.GetName())
	s.wg.Add(1)
	go s.acceptLoop(listener, connector)
	return nil
}

// Serve starts the server and blocks until Shutdown is called
func (s *Server) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}
	<-s.ctx.Done()
	return nil
}

// ServeTransport serves a single client over an already created transport
// and blocks until the session ends
func (s *Server) ServeTransport(tr transport.ITransport) error {
	if err := tr.Connect(s.ctx); err != nil {
		return err
	}
	s.wg.Add(1)
	defer s.wg.Done()
	s.serve(uuid.NewString(), tr)
	return nil
}

// Shutdown stops accepting clients, ends every session and closes all
// recordings
func (s *Server) Shutdown() error {
	s.cancel()

	var errs error
	s.mu.Lock()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
	}
	if s.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		errs = multierr.Append(errs, s.status.Shutdown(ctx))
		cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	errs = multierr.Append(errs, s.recs.closeAll())

	Logger.Infof("server stopped")
	return errs
}

// Addr returns the address of the listener, nil before Start or for serial
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// StatusAddr returns the address of the status endpoint, nil if disabled
func (s *Server) StatusAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusAddr
}

// Recordings returns the recordings in progress
func (s *Server) Recordings() []RecordingInfo {
	return s.recs.list()
}

// WritePrometheus writes the server metrics in Prometheus text format
func (s *Server) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *Server) serve(id string, tr transport.ITransport) {
	sess := newSession(id, s, tr)
	s.sessions.Store(id, sess)
	defer s.sessions.Delete(id)

	sess.run()
	Logger.Infof("[%s] connection closed", id)
}

// serialLoop serves the serial line, re-opening the port when it fails
func (s *Server) serialLoop(tr *serial.Transport) {
	defer s.wg.Done()

	for s.ctx.Err() == nil {
		if err := tr.Connect(s.ctx); err != nil {
			Logger.Warningf("%v, retrying", err)
		} else {
			s.serve(uuid.NewString(), tr)
		}

		select {
		case <-s.ctx.Done():
		case <-time.After(serialRetryInterval):
		}
	}
	tr.Disconnect()
}
