package file

import (
	"context"
	"errors"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"github.com/benbjohnson/clock"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConf(dir string) common.FileConf {
	return common.FileConf{Dir: dir, Quiescence: 500 * time.Millisecond, PollInterval: 10 * time.Millisecond}
}

func writeStream(t *testing.T, conf common.FileConf, name string, chunks ...string) {
	t.Helper()
	w := New(conf, name, common.ModeWrite)
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("Connect for write failed: %v", err)
	}
	for _, c := range chunks {
		if n, err := w.Send(context.Background(), []byte(c)); err != nil || n != len(c) {
			t.Fatalf("Send(%q) = %d, %v", c, n, err)
		}
	}
	if err := w.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
}

type result struct {
	n   int
	err error
}

// receiveWithMock runs Receive while advancing the mock clock until it returns
func receiveWithMock(t *testing.T, tr *Transport, mock *clock.Mock, p []byte) result {
	t.Helper()
	ch := make(chan result, 1)
	go func() {
		n, err := tr.Receive(context.Background(), p)
		ch <- result{n, err}
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-ch:
			return r
		case <-time.After(time.Millisecond):
			mock.Add(50 * time.Millisecond)
		case <-deadline:
			t.Fatal("Receive did not return")
		}
	}
}

func TestWriteThenRead(t *testing.T) {
	conf := testConf(t.TempDir())
	writeStream(t, conf, "sensor1", "ABCD", "EFGH")

	mock := clock.NewMock()
	r := New(conf, "sensor1", common.ModeRead, WithClock(mock))
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect for read failed: %v", err)
	}
	defer r.Disconnect()

	buf := make([]byte, 16)
	n, err := r.Receive(context.Background(), buf)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(buf[:n]) != "ABCDEFGH" {
		t.Errorf("Expected ABCDEFGH, got %q", buf[:n])
	}

	res := receiveWithMock(t, r, mock, buf)
	if !errors.Is(res.err, io.EOF) {
		t.Errorf("Expected io.EOF after quiescence, got %d, %v", res.n, res.err)
	}
}

func TestAppendMode(t *testing.T) {
	conf := testConf(t.TempDir())
	writeStream(t, conf, "log", "one")
	writeStream(t, conf, "log", "two")

	data, err := os.ReadFile(filepath.Join(conf.Dir, "log.sds"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "onetwo" {
		t.Errorf("Expected appended content, got %q", data)
	}
}

func TestReadMissing(t *testing.T) {
	r := New(testConf(t.TempDir()), "missing", common.ModeRead)
	err := r.Connect(context.Background())
	if !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestNoEOSWhileWriterActive(t *testing.T) {
	conf := testConf(t.TempDir())
	writeStream(t, conf, "live", "x")

	mock := clock.NewMock()
	r := New(conf, "live", common.ModeRead, WithClock(mock), WithWriterCheck(func() bool { return true }))
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer r.Disconnect()

	buf := make([]byte, 8)
	if _, err := r.Receive(context.Background(), buf); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	mock.Add(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := r.Receive(ctx, buf)
	if !transport.IsTimeout(err) {
		t.Fatalf("Expected timeout while the writer is active, got %v", err)
	}
}

func TestTailGrowingFile(t *testing.T) {
	conf := testConf(t.TempDir())
	conf.Quiescence = 5 * time.Second
	writeStream(t, conf, "tail", "first")

	r := New(conf, "tail", common.ModeRead)
	if err := r.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer r.Disconnect()

	buf := make([]byte, 32)
	if n, err := r.Receive(context.Background(), buf); err != nil || string(buf[:n]) != "first" {
		t.Fatalf("Expected first, got %q, %v", buf[:n], err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		writeStream(t, conf, "tail", "second")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := r.Receive(ctx, buf)
	if err != nil {
		t.Fatalf("Receive after growth failed: %v", err)
	}
	if string(buf[:n]) != "second" {
		t.Errorf("Expected second, got %q", buf[:n])
	}
}

func TestWrongDirection(t *testing.T) {
	conf := testConf(t.TempDir())
	w := New(conf, "dir", common.ModeWrite)
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer w.Disconnect()

	if _, err := w.Receive(context.Background(), make([]byte, 1)); err == nil {
		t.Error("Receive on a write stream should fail")
	}
}

func TestSendAfterDisconnect(t *testing.T) {
	conf := testConf(t.TempDir())
	w := New(conf, "closed", common.ModeWrite)
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	w.Disconnect()

	if _, err := w.Send(context.Background(), []byte("x")); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestInfo(t *testing.T) {
	info := New(testConf("/data"), "s", common.ModeRead).Info()
	if info.Kind != common.TransportFile || info.Multiplexed || info.SessionOriented || !info.Reliable {
		t.Errorf("Unexpected info %+v", info)
	}
	if info.Endpoint != filepath.Join("/data", "s.sds") {
		t.Errorf("Unexpected endpoint %s", info.Endpoint)
	}
}

func TestPrepareDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	abs, err := PrepareDir(dir)
	if err != nil {
		t.Fatalf("PrepareDir failed: %v", err)
	}
	if st, err := os.Stat(abs); err != nil || !st.IsDir() {
		t.Errorf("Expected directory %s to exist", abs)
	}
}
