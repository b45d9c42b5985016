package sds

import (
	"bytes"
	"context"
	"errors"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/frame"
	"github.com/ValentinKolb/sdsio/rpc/serializer"
	"github.com/ValentinKolb/sdsio/rpc/server"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"github.com/ValentinKolb/sdsio/rpc/transport/mem"
	"github.com/stretchr/testify/require"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func fileConfig(t *testing.T) common.ServiceConfig {
	cfg := common.DefaultServiceConfig()
	cfg.File.Dir = t.TempDir()
	cfg.File.Quiescence = 50 * time.Millisecond
	cfg.File.PollInterval = 10 * time.Millisecond
	cfg.Timeout = 500 * time.Millisecond
	return cfg
}

func initService(t *testing.T, cfg common.ServiceConfig, opts ...Option) *Service {
	t.Helper()
	svc, err := Init(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Uninit() })
	return svc
}

// memService starts a server on one end of a pipe and a service routing
// every stream to the other end. setup may install faults on the server end.
func memService(t *testing.T, cfg common.ServiceConfig, setup func(serverEnd *mem.Transport)) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	srv, err := server.New(common.ServerConfig{OutDir: dir, Serializer: cfg.Serializer, TimeoutSecond: 1})
	require.NoError(t, err)

	client, serverEnd := mem.NewPipe()
	if setup != nil {
		setup(serverEnd)
	}
	go srv.ServeTransport(serverEnd)
	t.Cleanup(func() { srv.Shutdown() })

	cfg.Routes = []common.Route{{Pattern: "*", Transport: common.TransportMem}}
	return initService(t, cfg, WithTransport(common.TransportMem, client)), dir
}

// fakeServer speaks the link protocol by hand on the server end of a pipe.
// It acks every open with stream id 1 and records the payload of data frames.
// While gate is held it does not read, so the pipe blocks the client.
type fakeServer struct {
	t   *testing.T
	tr  *mem.Transport
	ser serializer.IControlSerializer

	gate   sync.Mutex
	sendMu sync.Mutex

	mu   sync.Mutex
	data bytes.Buffer
	eos  bool
}

func newFakeServer(t *testing.T, cfg common.ServiceConfig) (*fakeServer, *Service) {
	t.Helper()
	ser, err := serializer.New(cfg.Serializer)
	require.NoError(t, err)

	client, serverEnd := mem.NewPipe()
	fs := &fakeServer{t: t, tr: serverEnd, ser: ser}
	go fs.receive()
	t.Cleanup(func() { serverEnd.Disconnect() })

	cfg.Routes = []common.Route{{Pattern: "*", Transport: common.TransportMem}}
	return fs, initService(t, cfg, WithTransport(common.TransportMem, client))
}

func (fs *fakeServer) receive() {
	dec := frame.NewDecoder(frame.MaxPayload)
	buf := make([]byte, 64*1024)
	for {
		fs.gate.Lock()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		n, err := fs.tr.Receive(ctx, buf)
		cancel()
		fs.gate.Unlock()

		dec.Feed(buf[:n])
		for {
			f, derr := dec.Next()
			if derr != nil || f == nil {
				break
			}
			fs.handle(f)
		}
		if err != nil && !transport.IsTimeout(err) {
			return
		}
	}
}

func (fs *fakeServer) handle(f *frame.Frame) {
	if !f.IsControl() {
		fs.mu.Lock()
		fs.data.Write(f.Payload)
		fs.eos = fs.eos || f.EOS()
		fs.mu.Unlock()
		return
	}

	var msg common.Control
	if err := fs.ser.Deserialize(f.Payload, &msg); err != nil || msg.Kind != common.CtlOpen {
		return
	}
	payload, err := fs.ser.Serialize(*common.NewAck(msg.Token, 1, msg.Mode, common.StatusOK, ""))
	if err != nil {
		return
	}
	fs.send(&frame.Frame{Flags: frame.FlagControl, Payload: payload})
}

func (fs *fakeServer) send(f *frame.Frame) {
	fs.sendMu.Lock()
	defer fs.sendMu.Unlock()

	b, err := f.Encode()
	if err != nil {
		fs.t.Error(err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := fs.tr.Send(ctx, b); err != nil {
		fs.t.Errorf("fake server send: %v", err)
	}
}

// received returns the recorded payload and whether the end of stream arrived
func (fs *fakeServer) received() ([]byte, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return bytes.Clone(fs.data.Bytes()), fs.eos
}

func memConfig() common.ServiceConfig {
	cfg := common.DefaultServiceConfig()
	cfg.FrameSize = 4096
	cfg.BufferSize = 16 * 1024
	cfg.Timeout = time.Second
	return cfg
}

func writeAll(t *testing.T, svc *Service, name string, data []byte) {
	t.Helper()
	st, err := svc.OpenStream(name, common.ModeWrite)
	require.NoError(t, err)
	_, err = st.Write(data)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

// readAll reads h until io.EOF with chunks of size bytes, timeouts are retried
func readAll(t *testing.T, svc *Service, h Handle, size int) []byte {
	t.Helper()
	var out bytes.Buffer
	buf := make([]byte, size)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		n, err := svc.Read(h, buf)
		out.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			return out.Bytes()
		}
		if errors.Is(err, ErrTimeout) {
			continue
		}
		require.NoError(t, err)
	}
	t.Fatal("no end of stream within 10s")
	return nil
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

// --------------------------------------------------------------------------
// File transport
// --------------------------------------------------------------------------

func TestSensorScenario(t *testing.T) {
	cfg := fileConfig(t)
	svc := initService(t, cfg)

	h, err := svc.Open("sensor1", common.ModeWrite)
	require.NoError(t, err)
	n, err := svc.Write(h, []byte("ABCDEFGH"))
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.NoError(t, svc.Close(h))

	content, err := os.ReadFile(filepath.Join(cfg.File.Dir, "sensor1.sds"))
	require.NoError(t, err)
	require.Equal(t, "ABCDEFGH", string(content))

	h, err = svc.Open("sensor1", common.ModeRead)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err = svc.Read(h, buf)
	require.NoError(t, err)
	require.Equal(t, "ABCD", string(buf[:n]))

	n, err = svc.Read(h, buf)
	require.NoError(t, err)
	require.Equal(t, "EFGH", string(buf[:n]))

	n, err = svc.Read(h, buf)
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, CodeEOS, CodeOf(err))

	// end of stream is sticky
	_, err = svc.Read(h, buf)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, svc.Close(h))
}

func TestFileRoundTripLarge(t *testing.T) {
	cfg := fileConfig(t)
	cfg.FrameSize = 512
	cfg.BufferSize = 2048
	svc := initService(t, cfg)

	data := pattern(10000)
	writeAll(t, svc, "big", data)

	h, err := svc.Open("big", common.ModeRead)
	require.NoError(t, err)
	require.Equal(t, data, readAll(t, svc, h, 700))

	info, err := svc.Stat(h)
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), info.Bytes)
	require.Equal(t, common.TransportFile, info.Transport)
	require.NoError(t, svc.Close(h))
}

func TestOpenMissingForRead(t *testing.T) {
	svc := initService(t, fileConfig(t))

	_, err := svc.Open("missing", common.ModeRead)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, ErrInterface)
	require.Equal(t, CodeInterface, CodeOf(err))

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	require.Equal(t, "open", opErr.Op)
	require.Equal(t, "missing", opErr.Name)

	// the failed open must not block the name
	require.Empty(t, svc.Streams())
}

func TestEmptyReadTimesOutWhileWriterIsOpen(t *testing.T) {
	cfg := fileConfig(t)
	cfg.Timeout = 150 * time.Millisecond
	svc := initService(t, cfg)

	w, err := svc.Open("live", common.ModeWrite)
	require.NoError(t, err)
	r, err := svc.Open("live", common.ModeRead)
	require.NoError(t, err)

	buf := make([]byte, 16)
	for i := 0; i < 3; i++ {
		start := time.Now()
		n, err := svc.Read(r, buf)
		require.Equal(t, 0, n)
		require.ErrorIs(t, err, ErrTimeout)
		require.Equal(t, CodeTimeout, CodeOf(err))
		require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	}

	_, err = svc.Write(w, []byte("late"))
	require.NoError(t, err)
	require.NoError(t, svc.Close(w))

	require.Equal(t, "late", string(readAll(t, svc, r, 16)))
	require.NoError(t, svc.Close(r))
}

func TestWriteIsBufferedUntilFrameSize(t *testing.T) {
	cfg := fileConfig(t)
	svc := initService(t, cfg)

	h, err := svc.Open("buffered", common.ModeWrite)
	require.NoError(t, err)
	_, err = svc.Write(h, []byte("xyz"))
	require.NoError(t, err)

	// below the frame size nothing reaches the file before Close
	content, err := os.ReadFile(filepath.Join(cfg.File.Dir, "buffered.sds"))
	require.NoError(t, err)
	require.Empty(t, content)

	require.NoError(t, svc.Close(h))
	content, err = os.ReadFile(filepath.Join(cfg.File.Dir, "buffered.sds"))
	require.NoError(t, err)
	require.Equal(t, "xyz", string(content))
}

// --------------------------------------------------------------------------
// Registry semantics
// --------------------------------------------------------------------------

func TestDoubleOpenConflict(t *testing.T) {
	svc := initService(t, fileConfig(t))

	h, err := svc.Open("dup", common.ModeWrite)
	require.NoError(t, err)

	_, err = svc.Open("dup", common.ModeWrite)
	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, CodeError, CodeOf(err))

	// the other direction is a different stream
	r, err := svc.Open("dup", common.ModeRead)
	require.NoError(t, err)

	require.NoError(t, svc.Close(h))
	require.NoError(t, svc.Close(r))

	h, err = svc.Open("dup", common.ModeWrite)
	require.NoError(t, err)
	require.NoError(t, svc.Close(h))
}

func TestUseAfterClose(t *testing.T) {
	svc := initService(t, fileConfig(t))

	h, err := svc.Open("once", common.ModeWrite)
	require.NoError(t, err)
	require.NoError(t, svc.Close(h))

	_, err = svc.Write(h, []byte("x"))
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.Equal(t, CodeParameter, CodeOf(err))

	_, err = svc.Read(h, make([]byte, 1))
	require.ErrorIs(t, err, ErrInvalidHandle)

	err = svc.Close(h)
	require.ErrorIs(t, err, ErrInvalidHandle)

	_, err = svc.Stat(h)
	require.ErrorIs(t, err, ErrInvalidHandle)

	// the slot is reused with a new generation, the old handle stays invalid
	h2, err := svc.Open("twice", common.ModeWrite)
	require.NoError(t, err)
	require.NotEqual(t, h, h2)
	require.Equal(t, h.slot(), h2.slot())
	_, err = svc.Write(h, []byte("x"))
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.NoError(t, svc.Close(h2))

	require.ErrorIs(t, svc.Close(0), ErrInvalidHandle)
}

func TestParameterErrors(t *testing.T) {
	svc := initService(t, fileConfig(t))

	tests := []struct {
		name string
		mode common.Mode
		want error
	}{
		{"", common.ModeWrite, ErrInvalidName},
		{"a/b", common.ModeWrite, ErrInvalidName},
		{"what?", common.ModeRead, ErrInvalidName},
		{strings.Repeat("n", 256), common.ModeWrite, ErrInvalidName},
		{"fine", common.Mode(9), ErrParameter},
	}
	for _, tt := range tests {
		_, err := svc.Open(tt.name, tt.mode)
		require.ErrorIs(t, err, tt.want, "open %q", tt.name)
		require.Equal(t, CodeParameter, CodeOf(err))
	}

	h, err := svc.Open("p", common.ModeWrite)
	require.NoError(t, err)
	defer svc.Close(h)

	_, err = svc.Write(h, nil)
	require.ErrorIs(t, err, ErrParameter)
	_, err = svc.Read(h, make([]byte, 4))
	require.ErrorIs(t, err, ErrParameter, "read on a write stream")
}

func TestNoRoute(t *testing.T) {
	cfg := fileConfig(t)
	cfg.Routes = []common.Route{{Pattern: "sensor*", Transport: common.TransportFile}}
	svc := initService(t, cfg)

	_, err := svc.Open("other", common.ModeWrite)
	require.ErrorIs(t, err, ErrParameter)
}

func TestCloseUnblocksRead(t *testing.T) {
	cfg := fileConfig(t)
	cfg.Timeout = 2 * time.Second
	svc := initService(t, cfg)

	w, err := svc.Open("wait", common.ModeWrite)
	require.NoError(t, err)
	defer svc.Close(w)
	r, err := svc.Open("wait", common.ModeRead)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		svc.Close(r)
	}()

	start := time.Now()
	_, err = svc.Read(r, make([]byte, 8))
	require.ErrorIs(t, err, ErrHandleClosed)
	require.Equal(t, CodeInterface, CodeOf(err))
	require.Less(t, time.Since(start), time.Second)

	_, err = svc.Read(r, make([]byte, 8))
	require.ErrorIs(t, err, ErrInvalidHandle)
}

func TestParallelStreams(t *testing.T) {
	cfg := fileConfig(t)
	cfg.FrameSize = 128
	cfg.BufferSize = 512
	svc := initService(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := "parallel" + string(rune('A'+i))
			data := pattern(1000 + i)
			writeAll(t, svc, name, data)

			h, err := svc.Open(name, common.ModeRead)
			require.NoError(t, err)
			require.Equal(t, data, readAll(t, svc, h, 100))
			require.NoError(t, svc.Close(h))
		}()
	}
	wg.Wait()
	require.Empty(t, svc.Streams())
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestUninitClosesStreams(t *testing.T) {
	cfg := fileConfig(t)
	svc, err := Init(cfg)
	require.NoError(t, err)

	h, err := svc.Open("pending", common.ModeWrite)
	require.NoError(t, err)
	_, err = svc.Write(h, []byte("flushed on uninit"))
	require.NoError(t, err)
	require.Len(t, svc.Streams(), 1)

	require.NoError(t, svc.Uninit())

	content, err := os.ReadFile(filepath.Join(cfg.File.Dir, "pending.sds"))
	require.NoError(t, err)
	require.Equal(t, "flushed on uninit", string(content))

	_, err = svc.Open("after", common.ModeWrite)
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = svc.Write(h, []byte("x"))
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, svc.Uninit(), ErrNotInitialized)
}

func TestInitRejectsInvalidConfig(t *testing.T) {
	cfg := fileConfig(t)
	cfg.FrameSize = 0
	_, err := Init(cfg)
	require.ErrorIs(t, err, ErrParameter)

	cfg = fileConfig(t)
	cfg.Serializer = "xml"
	_, err = Init(cfg)
	require.ErrorIs(t, err, ErrParameter)

	// mem transports cannot be created from configuration
	cfg = fileConfig(t)
	cfg.Routes = []common.Route{{Pattern: "*", Transport: common.TransportMem}}
	_, err = Init(cfg)
	require.ErrorIs(t, err, ErrParameter)
}

func TestDefaultService(t *testing.T) {
	cfg := fileConfig(t)

	_, err := Open("x", common.ModeWrite)
	require.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, InitDefault(cfg))
	require.ErrorIs(t, InitDefault(cfg), ErrAlreadyInitialized)
	require.Equal(t, CodeError, CodeOf(InitDefault(cfg)))

	h, err := Open("default", common.ModeWrite)
	require.NoError(t, err)
	_, err = Write(h, []byte("abc"))
	require.NoError(t, err)
	require.NoError(t, Close(h))

	h, err = Open("default", common.ModeRead)
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err := Read(h, buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf[:n]))

	// uninit closes the remaining read stream
	require.NoError(t, UninitDefault())
	require.Nil(t, Default())
	require.ErrorIs(t, UninitDefault(), ErrNotInitialized)
}

func TestMetrics(t *testing.T) {
	svc := initService(t, fileConfig(t))
	writeAll(t, svc, "m", []byte("12345"))

	h, err := svc.Open("m", common.ModeRead)
	require.NoError(t, err)
	defer svc.Close(h)

	var out bytes.Buffer
	svc.WritePrometheus(&out)
	require.Contains(t, out.String(), "sdsio_streams_open 1")
	require.Contains(t, out.String(), `sdsio_bytes_total{dir="out"} 5`)
}

// --------------------------------------------------------------------------
// Remote transports (in-process server)
// --------------------------------------------------------------------------

func TestMemRoundTrip(t *testing.T) {
	svc, dir := memService(t, memConfig(), nil)

	data := pattern(10000)
	writeAll(t, svc, "sensor1", data)

	// the server handles frames in order, so the recording is complete once
	// the open for reading is acknowledged
	h, err := svc.Open("sensor1", common.ModeRead)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "sensor1.0.sds"))
	require.NoError(t, err)
	require.Equal(t, data, content)

	require.Equal(t, data, readAll(t, svc, h, 1000))
	require.NoError(t, svc.Close(h))
}

func TestMemSensorScenario(t *testing.T) {
	svc, _ := memService(t, memConfig(), nil)
	writeAll(t, svc, "sensor1", []byte("ABCDEFGH"))

	h, err := svc.Open("sensor1", common.ModeRead)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := svc.Read(h, buf)
	require.NoError(t, err)
	require.Equal(t, "ABCD", string(buf[:n]))
	n, err = svc.Read(h, buf)
	require.NoError(t, err)
	require.Equal(t, "EFGH", string(buf[:n]))
	_, err = svc.Read(h, buf)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, svc.Close(h))
}

func TestMemRecordingIndex(t *testing.T) {
	svc, dir := memService(t, memConfig(), nil)

	writeAll(t, svc, "run", []byte("first"))
	writeAll(t, svc, "run", []byte("second"))

	for i, want := range []string{"first", "second"} {
		h, err := svc.Open("run", common.ModeRead)
		require.NoError(t, err)

		content, err := os.ReadFile(filepath.Join(dir, "run."+string(rune('0'+i))+".sds"))
		require.NoError(t, err)
		require.Equal(t, want, string(content))

		require.Equal(t, want, string(readAll(t, svc, h, 64)))
		require.NoError(t, svc.Close(h))
	}

	// a third read open has no recording to play back
	_, err := svc.Open("run", common.ModeRead)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemOpenMissing(t *testing.T) {
	svc, _ := memService(t, memConfig(), nil)

	_, err := svc.Open("missing", common.ModeRead)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, CodeInterface, CodeOf(err))
}

func TestMemDroppedFrameIsInterfaceError(t *testing.T) {
	svc, dir := memService(t, memConfig(), func(serverEnd *mem.Transport) {
		serverEnd.DropFrame(2)
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lossy.0.sds"), pattern(10000), 0o644))

	h, err := svc.Open("lossy", common.ModeRead)
	require.NoError(t, err)

	buf := make([]byte, 8192)
	n, err := svc.Read(h, buf)
	require.NoError(t, err)
	require.Equal(t, pattern(10000)[:n], buf[:n])

	var rerr error
	for i := 0; i < 10 && rerr == nil; i++ {
		_, rerr = svc.Read(h, buf)
	}
	require.ErrorIs(t, rerr, ErrInterface)
	require.Equal(t, CodeInterface, CodeOf(rerr))

	// the stream stays broken until it is closed
	_, err = svc.Read(h, buf)
	require.ErrorIs(t, err, ErrInterface)

	info, err := svc.Stat(h)
	require.NoError(t, err)
	require.Equal(t, "broken", info.State)
	require.NoError(t, svc.Close(h))
}

func TestMemDuplicatedFrameIsDiscarded(t *testing.T) {
	svc, dir := memService(t, memConfig(), func(serverEnd *mem.Transport) {
		serverEnd.DuplicateFrame(1)
	})
	data := pattern(10000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.0.sds"), data, 0o644))

	h, err := svc.Open("echo", common.ModeRead)
	require.NoError(t, err)
	require.Equal(t, data, readAll(t, svc, h, 3000))
	require.NoError(t, svc.Close(h))

	var out bytes.Buffer
	svc.WritePrometheus(&out)
	require.Contains(t, out.String(), "sdsio_duplicates_total 1")
}

func TestMemServerGoneBreaksStreams(t *testing.T) {
	dir := t.TempDir()
	srv, err := server.New(common.ServerConfig{OutDir: dir, TimeoutSecond: 1})
	require.NoError(t, err)

	client, serverEnd := mem.NewPipe()
	go srv.ServeTransport(serverEnd)

	cfg := memConfig()
	cfg.Routes = []common.Route{{Pattern: "*", Transport: common.TransportMem}}
	svc := initService(t, cfg, WithTransport(common.TransportMem, client))

	h, err := svc.Open("orphan", common.ModeWrite)
	require.NoError(t, err)

	require.NoError(t, srv.Shutdown())

	var werr error
	deadline := time.Now().Add(2 * time.Second)
	for werr == nil && time.Now().Before(deadline) {
		_, werr = svc.Write(h, pattern(cfg.FrameSize))
	}
	require.ErrorIs(t, werr, ErrNoServer)
	require.Equal(t, CodeNoServer, CodeOf(werr))

	// the pipe cannot be re-established
	_, err = svc.Open("again", common.ModeWrite)
	require.ErrorIs(t, err, ErrNoServer)
	require.NoError(t, svc.Close(h))
}

func TestSocketRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srv, err := server.New(common.ServerConfig{
		OutDir:   dir,
		Network:  "tcp",
		Endpoint: "127.0.0.1:0",
		TCPConf:  common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Shutdown()

	cfg := memConfig()
	cfg.Routes = []common.Route{{Pattern: "*", Transport: common.TransportSocket}}
	cfg.Socket.Endpoint = srv.Addr().String()
	svc := initService(t, cfg)

	data := pattern(20000)
	writeAll(t, svc, "net", data)

	h, err := svc.Open("net", common.ModeRead)
	require.NoError(t, err)
	require.Equal(t, data, readAll(t, svc, h, 4096))

	info, err := svc.Stat(h)
	require.NoError(t, err)
	require.Equal(t, common.TransportSocket, info.Transport)
	require.NoError(t, svc.Close(h))
}

func TestSocketNoServer(t *testing.T) {
	// reserve a port nobody listens on
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	cfg := memConfig()
	cfg.Routes = []common.Route{{Pattern: "*", Transport: common.TransportSocket}}
	cfg.Socket.Endpoint = addr
	cfg.Socket.RetryCount = 1

	// an unreachable server is no error at Init
	svc := initService(t, cfg)

	_, err = svc.Open("nobody", common.ModeWrite)
	require.ErrorIs(t, err, ErrNoServer)
	require.Equal(t, CodeNoServer, CodeOf(err))
}

func TestMemFramesBeforeDisconnectAreDelivered(t *testing.T) {
	for run := 0; run < 20; run++ {
		fs, svc := newFakeServer(t, memConfig())

		h, err := svc.Open("s", common.ModeRead)
		require.NoError(t, err)

		for seq := uint32(0); seq < 3; seq++ {
			fs.send(&frame.Frame{StreamID: 1, Seq: seq, Payload: []byte("abcd")})
		}
		fs.send(&frame.Frame{StreamID: 1, Seq: 3, Flags: frame.FlagEOS})
		require.NoError(t, fs.tr.Disconnect())

		// the link failure reaches the stream before the first read
		time.Sleep(50 * time.Millisecond)

		require.Equal(t, "abcdabcdabcd", string(readAll(t, svc, h, 4)), "run %d", run)
		require.NoError(t, svc.Close(h))
	}
}

func TestMemDisconnectAfterDataReportsNoServer(t *testing.T) {
	fs, svc := newFakeServer(t, memConfig())

	h, err := svc.Open("s", common.ModeRead)
	require.NoError(t, err)
	fs.send(&frame.Frame{StreamID: 1, Seq: 0, Payload: []byte("abcd")})
	require.NoError(t, fs.tr.Disconnect())
	time.Sleep(50 * time.Millisecond)

	buf := make([]byte, 16)
	n, err := svc.Read(h, buf)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(buf[:n]))

	_, err = svc.Read(h, buf)
	require.ErrorIs(t, err, ErrNoServer)
	require.NoError(t, svc.Close(h))
}

func TestMemWriteTimeoutKeepsBytes(t *testing.T) {
	cfg := memConfig()
	cfg.Timeout = 200 * time.Millisecond
	fs, svc := newFakeServer(t, cfg)

	h, err := svc.Open("w", common.ModeWrite)
	require.NoError(t, err)

	// the server stops reading, the first frame cannot leave
	fs.gate.Lock()
	data := pattern(64 * 1024)

	n, err := svc.Write(h, data)
	require.NoError(t, err)
	require.Equal(t, cfg.BufferSize, n)

	// the buffer is full, nothing is accepted
	m, err := svc.Write(h, data[n:])
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, CodeTimeout, CodeOf(err))
	require.Zero(t, m)

	fs.gate.Unlock()

	for off := n; off < len(data); {
		m, err := svc.Write(h, data[off:])
		off += m
		if errors.Is(err, ErrTimeout) {
			continue
		}
		require.NoError(t, err)
	}
	require.NoError(t, svc.Close(h))

	require.Eventually(t, func() bool {
		_, eos := fs.received()
		return eos
	}, 2*time.Second, 10*time.Millisecond)
	got, _ := fs.received()
	require.Equal(t, data, got)
}

func TestMemCloseWakesBlockedWrite(t *testing.T) {
	cfg := memConfig()
	cfg.Timeout = 300 * time.Millisecond
	fs, svc := newFakeServer(t, cfg)

	h, err := svc.Open("w", common.ModeWrite)
	require.NoError(t, err)

	fs.gate.Lock()
	data := pattern(64 * 1024)

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := svc.Write(h, data)
		done <- result{n, err}
	}()

	time.Sleep(50 * time.Millisecond)
	closed := make(chan error, 1)
	go func() { closed <- svc.Close(h) }()

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write not woken by close")
	}
	require.ErrorIs(t, res.err, ErrHandleClosed)
	require.Equal(t, CodeInterface, CodeOf(res.err))
	fs.gate.Unlock()

	// Close delivers the accepted bytes and the end of stream
	require.NoError(t, <-closed)
	require.Eventually(t, func() bool {
		_, eos := fs.received()
		return eos
	}, 2*time.Second, 10*time.Millisecond)
	got, _ := fs.received()
	require.Equal(t, data[:res.n], got)

	_, err = svc.Write(h, data)
	require.ErrorIs(t, err, ErrInvalidHandle)
}
