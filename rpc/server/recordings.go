package server

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/transport/file"
	"go.uber.org/multierr"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var (
	errNotFound = errors.New("no recording")
)

// recording is a stream file that is currently written
type recording struct {
	name    string
	path    string
	f       *os.File
	started time.Time
	bytes   atomic.Uint64

	// changed is signalled on every write, done is closed when the recording ends
	changed chan struct{}
	done    chan struct{}
}

func (r *recording) write(p []byte) error {
	if _, err := r.f.Write(p); err != nil {
		return err
	}
	r.bytes.Add(uint64(len(p)))
	select {
	case r.changed <- struct{}{}:
	default:
	}
	return nil
}

// RecordingInfo describes an active recording
type RecordingInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Bytes   uint64    `json:"bytes"`
	Started time.Time `json:"started"`
}

// recordings manages the stream files in the output directory. Write streams
// are recorded to the first free <name>.<index>.sds, read streams play back
// <name>.<index>.sds with the index counting the read opens of the name.
type recordings struct {
	dir string

	mu      sync.Mutex
	active  map[string]*recording
	readIdx map[string]int
}

func newRecordings(dir string) *recordings {
	return &recordings{
		dir:     dir,
		active:  make(map[string]*recording),
		readIdx: make(map[string]int),
	}
}

func (rs *recordings) path(name string, idx int) string {
	return filepath.Join(rs.dir, name+"."+strconv.Itoa(idx)+file.Extension)
}

// create starts a new recording of name
func (rs *recordings) create(name string) (*recording, error) {
	if err := common.ValidateName(name); err != nil {
		return nil, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	for idx := 0; ; idx++ {
		path := rs.path(name, idx)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}

		r := &recording{
			name:    name,
			path:    path,
			f:       f,
			started: time.Now(),
			changed: make(chan struct{}, 1),
			done:    make(chan struct{}),
		}
		rs.active[path] = r
		Logger.Infof("recording %s to %s", name, path)
		return r, nil
	}
}

// finish ends a recording, further calls are no-ops
func (rs *recordings) finish(r *recording) error {
	rs.mu.Lock()
	if rs.active[r.path] != r {
		rs.mu.Unlock()
		return nil
	}
	delete(rs.active, r.path)
	rs.mu.Unlock()

	err := r.f.Sync()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	close(r.done)
	Logger.Infof("recorded %d bytes of %s", r.bytes.Load(), r.name)
	return err
}

// openPlayback opens the next recording of name for playback
func (rs *recordings) openPlayback(name string) (*os.File, string, error) {
	if err := common.ValidateName(name); err != nil {
		return nil, "", err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	path := rs.path(name, rs.readIdx[name])
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", errNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	rs.readIdx[name]++
	Logger.Infof("playing back %s from %s", name, path)
	return f, path, nil
}

// activeRecording returns the recording that writes path, if any
func (rs *recordings) activeRecording(path string) *recording {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.active[path]
}

// list returns all active recordings ordered by path
func (rs *recordings) list() []RecordingInfo {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	infos := make([]RecordingInfo, 0, len(rs.active))
	for _, r := range rs.active {
		infos = append(infos, RecordingInfo{Name: r.name, Path: r.path, Bytes: r.bytes.Load(), Started: r.started})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos
}

// closeAll ends every active recording
func (rs *recordings) closeAll() error {
	rs.mu.Lock()
	all := make([]*recording, 0, len(rs.active))
	for _, r := range rs.active {
		all = append(all, r)
	}
	rs.mu.Unlock()

	var errs error
	for _, r := range all {
		errs = multierr.Append(errs, rs.finish(r))
	}
	return errs
}
