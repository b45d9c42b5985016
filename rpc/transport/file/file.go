package file

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var Logger = logger.GetLogger("transport")

// Extension of stream files
const Extension = ".sds"

// Option configures a file transport
type Option func(*Transport)

// WithClock replaces the time source, used by tests to control quiescence
func WithClock(c clock.Clock) Option {
	return func(t *Transport) {
		t.clock = c
	}
}

// WithWriterCheck installs a function that reports whether a writer in the
// same process still holds the stream open. While it returns true a reader
// never reports end of stream.
func WithWriterCheck(active func() bool) Option {
	return func(t *Transport) {
		t.writerActive = active
	}
}

// Transport implements transport.ITransport for a single stream file
type Transport struct {
	conf common.FileConf
	name string
	mode common.Mode
	path string

	clock        clock.Clock
	writerActive func() bool

	mu        sync.Mutex
	f         *os.File
	watcher   *fsnotify.Watcher
	grown     chan struct{}
	idleSince time.Time
}

// Path returns the file that backs the stream name in dir
func Path(dir, name string) string {
	return filepath.Join(dir, name+Extension)
}

// PrepareDir resolves dir to an absolute path and creates it if needed
func PrepareDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", abs, err)
	}
	return abs, nil
}

// New creates a file transport for the stream name opened in mode.
// The file is opened by Connect.
func New(conf common.FileConf, name string, mode common.Mode, opts ...Option) *Transport {
	if conf.Quiescence <= 0 {
		conf.Quiescence = common.DefaultQuiescence
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = common.DefaultPoll
	}

	t := &Transport{
		conf:         conf,
		name:         name,
		mode:         mode,
		path:         Path(conf.Dir, name),
		clock:        clock.New(),
		writerActive: func() bool { return false },
		grown:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.f != nil {
		return nil
	}

	var f *os.File
	var err error
	if t.mode == common.ModeWrite {
		f, err = os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	} else {
		f, err = os.Open(t.path)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", transport.ErrNotFound, t.path)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", t.path, err)
	}
	t.f = f
	t.idleSince = t.clock.Now()

	if t.mode == common.ModeRead {
		t.watch()
	}

	Logger.Debugf("opened %s for %s", t.path, t.mode)
	return nil
}

func (t *Transport) Send(ctx context.Context, p []byte) (int, error) {
	if t.mode != common.ModeWrite {
		return 0, fmt.Errorf("%s is opened for reading", t.path)
	}
	if err := ctx.Err(); err != nil {
		return 0, transport.ContextError(ctx)
	}

	f := t.file()
	if f == nil {
		return 0, transport.ErrClosed
	}
	return f.Write(p)
}

// Receive reads the next bytes of the file. At the end of the file it waits
// for the file to grow. End of stream is reported once the file has not
// grown for the quiescence period and no local writer holds the stream.
func (t *Transport) Receive(ctx context.Context, p []byte) (int, error) {
	if t.mode != common.ModeRead {
		return 0, fmt.Errorf("%s is opened for writing", t.path)
	}

	for {
		f := t.file()
		if f == nil {
			return 0, transport.ErrClosed
		}

		// sampled before the read: a writer that is gone has flushed everything
		active := t.writerActive()

		n, err := f.Read(p)
		if n > 0 {
			t.idleSince = t.clock.Now()
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}

		if !active && t.clock.Since(t.idleSince) >= t.conf.Quiescence {
			return 0, io.EOF
		}

		select {
		case <-ctx.Done():
			return 0, transport.ContextError(ctx)
		case <-t.grown:
		case <-t.clock.After(t.conf.PollInterval):
		}
	}
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.watcher != nil {
		t.watcher.Close()
		t.watcher = nil
	}
	if t.f == nil {
		return nil
	}

	var err error
	if t.mode == common.ModeWrite {
		err = t.f.Sync()
	}
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	t.f = nil
	return err
}

func (t *Transport) Info() transport.Info {
	return transport.Info{
		Kind:     common.TransportFile,
		Endpoint: t.path,
		Reliable: true,
		Buffered: true,
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *Transport) file() *os.File {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.f
}

// watch starts forwarding write events of the file. Without a watcher the
// reader falls back to polling. Must be called with mu held.
func (t *Transport) watch() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		Logger.Debugf("no file watcher for %s, polling: %v", t.path, err)
		return
	}
	if err := w.Add(t.path); err != nil {
		Logger.Debugf("cannot watch %s, polling: %v", t.path, err)
		w.Close()
		return
	}
	t.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) {
					select {
					case t.grown <- struct{}{}:
					default:
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				Logger.Debugf("watcher error on %s: %v", t.path, err)
			}
		}
	}()
}
