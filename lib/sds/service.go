package sds

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/serializer"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"github.com/ValentinKolb/sdsio/rpc/transport/file"
	"github.com/ValentinKolb/sdsio/rpc/transport/serial"
	"github.com/ValentinKolb/sdsio/rpc/transport/socket"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("sds")

// Option configures a Service at Init
type Option func(*Service)

// WithTransport uses tr for every stream routed to kind instead of creating
// a transport from the configuration. The transport must be session oriented.
func WithTransport(kind common.TransportKind, tr transport.ITransport) Option {
	return func(s *Service) {
		s.injected[kind] = tr
	}
}

// WithFileOptions passes options to every file transport of the service
func WithFileOptions(opts ...file.Option) Option {
	return func(s *Service) {
		s.fileOpts = append(s.fileOpts, opts...)
	}
}

// Service is an instance of the stream service. It owns the stream registry
// and the links of all configured transports.
type Service struct {
	conf       common.ServiceConfig
	serializer serializer.IControlSerializer
	reg        *registry
	metrics    *serviceMetrics
	running    atomic.Bool

	fileDir  string
	fileOpts []file.Option

	injected map[common.TransportKind]transport.ITransport
	remotes  map[common.TransportKind]*remoteLink
}

// Init brings up every transport referenced by the routes of cfg in parallel.
// A remote counterpart that is not reachable yet is not an error, Open
// reports it.
func Init(cfg common.ServiceConfig, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, opErr("init", "", fmt.Errorf("%w: %v", ErrParameter, err))
	}
	ser, err := serializer.New(cfg.Serializer)
	if err != nil {
		return nil, opErr("init", "", fmt.Errorf("%w: %v", ErrParameter, err))
	}

	s := &Service{
		conf:       cfg,
		serializer: ser,
		reg:        newRegistry(),
		injected:   make(map[common.TransportKind]transport.ITransport),
		remotes:    make(map[common.TransportKind]*remoteLink),
	}
	s.metrics = newServiceMetrics(func() float64 { return float64(s.reg.count()) })
	for _, opt := range opts {
		opt(s)
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(context.Background())
	for _, kind := range cfg.Kinds() {
		kind := kind
		g.Go(func() error {
			return s.initKind(ctx, kind, &mu)
		})
	}
	if err := g.Wait(); err != nil {
		for _, rl := range s.remotes {
			rl.close()
		}
		return nil, opErr("init", "", err)
	}

	s.running.Store(true)
	Logger.Infof("stream service initialized with %d route(s)", len(cfg.Routes))
	Logger.Debugf("configuration: %s", cfg.String())
	return s, nil
}

// Uninit closes every open stream and disconnects all transports. Resources
// are released even if some streams fail to close, in that case the
// returned error wraps ErrUninitIncomplete and the individual failures.
func (s *Service) Uninit() error {
	if !s.running.CompareAndSwap(true, false) {
		return opErr("uninit", "", ErrNotInitialized)
	}

	var errs error
	for _, d := range s.reg.stop() {
		if err := s.closeDescriptor(d); err != nil && !errors.Is(err, ErrInvalidHandle) {
			errs = multierr.Append(errs, fmt.Errorf("close %s (%s): %w", d.name, d.mode, err))
		}
	}
	for kind, rl := range s.remotes {
		if err := rl.close(); err != nil && !transport.IsDisconnect(err) {
			errs = multierr.Append(errs, fmt.Errorf("disconnect %s: %w", kind, err))
		}
	}

	if errs != nil {
		Logger.Warningf("uninit incomplete: %v", errs)
		return opErr("uninit", "", fmt.Errorf("%w: %w", ErrUninitIncomplete, errs))
	}
	Logger.Infof("stream service stopped")
	return nil
}

// --------------------------------------------------------------------------
// Stream operations
// --------------------------------------------------------------------------

// Open opens the stream name in mode and returns its handle
func (s *Service) Open(name string, mode common.Mode) (Handle, error) {
	defer s.metrics.opDuration.UpdateDuration(time.Now())

	if !s.running.Load() {
		return 0, opErr("open", name, ErrNotInitialized)
	}
	if !mode.Valid() {
		return 0, opErr("open", name, fmt.Errorf("%w: %s", ErrParameter, mode))
	}
	if err := common.ValidateName(name); err != nil {
		return 0, opErr("open", name, classify(err))
	}
	kind, err := route(s.conf.Routes, name)
	if err != nil {
		return 0, opErr("open", name, err)
	}

	h, err := s.reg.reserve(name, mode)
	if err != nil {
		return 0, opErr("open", name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.conf.Timeout)
	defer cancel()

	b, err := s.bind(ctx, kind, name, mode)
	if err != nil {
		s.reg.release(h, name, mode)
		return 0, opErr("open", name, classify(err))
	}

	d := newDescriptor(h, name, mode, b, &s.conf, s.metrics)
	if !s.reg.publish(d) {
		// Uninit ran while the stream was being bound
		if err := d.shutdown(); err != nil {
			Logger.Debugf("release %s after uninit: %v", name, err)
		}
		s.reg.release(h, name, mode)
		return 0, opErr("open", name, ErrNotInitialized)
	}

	Logger.Infof("opened %s for %s via %s", name, mode, d.info.Endpoint)
	return h, nil
}

// Close ends the stream of h. Write streams are flushed and terminated with
// an end of stream marker. A Read or Write pending on h returns ErrHandleClosed.
func (s *Service) Close(h Handle) error {
	if !s.running.Load() {
		return opErr("close", "", ErrNotInitialized)
	}
	d, ok := s.reg.get(h)
	if !ok {
		return opErr("close", "", ErrInvalidHandle)
	}
	return opErr("close", d.name, s.closeDescriptor(d))
}

// Write writes p to the stream of h and returns the number of bytes accepted
func (s *Service) Write(h Handle, p []byte) (int, error) {
	d, err := s.lookup(h)
	if err != nil {
		return 0, opErr("write", "", err)
	}
	n, err := d.write(p)
	return n, opErr("write", d.name, err)
}

// Read reads up to len(p) bytes from the stream of h. It returns io.EOF once
// the writer closed the stream and every byte was read.
func (s *Service) Read(h Handle, p []byte) (int, error) {
	d, err := s.lookup(h)
	if err != nil {
		return 0, opErr("read", "", err)
	}
	n, err := d.read(p)
	return n, opErr("read", d.name, err)
}

// Stat returns information about the stream of h
func (s *Service) Stat(h Handle) (StreamInfo, error) {
	d, err := s.lookup(h)
	if err != nil {
		return StreamInfo{}, opErr("stat", "", err)
	}
	return d.stat(), nil
}

// Streams returns all open streams ordered by name and mode
func (s *Service) Streams() []StreamInfo {
	var infos []StreamInfo
	for _, d := range s.reg.all() {
		infos = append(infos, d.stat())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].Mode < infos[j].Mode
	})
	return infos
}

// WritePrometheus writes the metrics of the service in Prometheus text format
func (s *Service) WritePrometheus(w io.Writer) {
	s.metrics.writePrometheus(w)
}

// Config returns the configuration the service was initialized with
func (s *Service) Config() common.ServiceConfig {
	return s.conf
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *Service) lookup(h Handle) (*descriptor, error) {
	if !s.running.Load() {
		return nil, ErrNotInitialized
	}
	d, ok := s.reg.get(h)
	if !ok {
		return nil, ErrInvalidHandle
	}
	return d, nil
}

func (s *Service) closeDescriptor(d *descriptor) error {
	err := d.shutdown()
	if errors.Is(err, ErrInvalidHandle) {
		return err
	}
	s.reg.remove(d)
	Logger.Infof("closed %s (%s) after %d bytes", d.name, d.mode, d.bytes.Load())
	return err
}

// initKind prepares the transport of one kind
func (s *Service) initKind(ctx context.Context, kind common.TransportKind, mu *sync.Mutex) error {
	if kind == common.TransportFile {
		dir, err := file.PrepareDir(s.conf.File.Dir)
		if err != nil {
			return fmt.Errorf("%w: file transport: %v", ErrInterface, err)
		}
		s.fileDir = dir
		return nil
	}

	tr, err := s.newTransport(kind)
	if err != nil {
		return err
	}
	if !tr.Info().SessionOriented {
		return fmt.Errorf("%w: %s transport is not session oriented", ErrParameter, kind)
	}

	rl := newRemoteLink(tr, s.serializer, s.conf.Timeout)
	mu.Lock()
	s.remotes[kind] = rl
	mu.Unlock()

	// connecting early only saves time on the first Open
	wctx, cancel := context.WithTimeout(ctx, s.conf.Timeout)
	defer cancel()
	if _, err := rl.session(wctx); err != nil {
		Logger.Infof("%s transport %s not reachable yet: %v", kind, tr.Info().Endpoint, err)
	}
	return nil
}

func (s *Service) newTransport(kind common.TransportKind) (transport.ITransport, error) {
	if tr, ok := s.injected[kind]; ok {
		return tr, nil
	}

	switch kind {
	case common.TransportSocket:
		tr, err := socket.New(s.conf.Socket)
		if err != nil {
			return nil, fmt.Errorf("%w: socket transport: %v", ErrParameter, err)
		}
		return tr, nil
	case common.TransportSerial:
		tr, err := serial.New(s.conf.Serial)
		if err != nil {
			return nil, fmt.Errorf("%w: serial transport: %v", ErrParameter, err)
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("%w: no %s transport provided", ErrParameter, kind)
	}
}

// bind creates the binding of a new stream
func (s *Service) bind(ctx context.Context, kind common.TransportKind, name string, mode common.Mode) (binding, error) {
	if rl, ok := s.remotes[kind]; ok {
		return newRemoteBinding(ctx, rl, name, mode, s.conf.FrameSize, s.conf.BufferSize)
	}

	conf := s.conf.File
	conf.Dir = s.fileDir
	opts := append([]file.Option{
		file.WithWriterCheck(func() bool { return s.reg.hasKey(name, common.ModeWrite) }),
	}, s.fileOpts...)

	return newDirectBinding(ctx, file.New(conf, name, mode, opts...), s.conf.FrameSize)
}
