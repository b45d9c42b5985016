package server

import (
	"context"
	"errors"
	"github.com/ValentinKolb/sdsio/rpc/common"
	"github.com/ValentinKolb/sdsio/rpc/frame"
	"github.com/ValentinKolb/sdsio/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// chunkSize is the maximum payload of a played back frame
const chunkSize = 4096

// session serves the streams of one client connection
type session struct {
	id   string
	srv  *Server
	link *frame.Link

	ctx    context.Context
	cancel context.CancelFunc

	nextID  atomic.Uint32
	writers *xsync.MapOf[uint32, *writeStream]
	players *xsync.MapOf[uint32, *player]

	// ids of finished or reset writers, their late frames are dropped silently
	dropped *xsync.MapOf[uint32, struct{}]
}

type writeStream struct {
	rec *recording
	seq frame.Sequencer
}

func newSession(id string, srv *Server, tr transport.ITransport) *session {
	ctx, cancel := context.WithCancel(srv.ctx)
	return &session{
		id:      id,
		srv:     srv,
		link:    frame.NewLink(tr, frame.LinkConfig{WriteTimeout: srv.timeout, MaxPayload: frame.MaxPayload}),
		ctx:     ctx,
		cancel:  cancel,
		writers: xsync.NewMapOf[uint32, *writeStream](),
		players: xsync.NewMapOf[uint32, *player](),
		dropped: xsync.NewMapOf[uint32, struct{}](),
	}
}

// run serves the session until the link goes down or the server shuts down
func (s *session) run() {
	s.link.Start(s.handle)

	select {
	case <-s.link.Done():
	case <-s.ctx.Done():
		s.link.Close()
	}
	s.cancel()

	s.players.Range(func(id uint32, p *player) bool {
		p.wait()
		return true
	})
	s.writers.Range(func(id uint32, w *writeStream) bool {
		if err := s.srv.recs.finish(w.rec); err != nil {
			Logger.Warningf("[%s] failed to finish %s: %v", s.id, w.rec.path, err)
		}
		return true
	})

	if err := s.link.Err(); err != nil && !errors.Is(err, frame.ErrLinkClosed) {
		Logger.Infof("[%s] session ended: %v", s.id, err)
	}
}

// --------------------------------------------------------------------------
// Frame handling (runs on the receive loop of the link)
// --------------------------------------------------------------------------

func (s *session) handle(f *frame.Frame) {
	if f.IsControl() {
		s.handleControl(f)
		return
	}

	w, ok := s.writers.Load(f.StreamID)
	if !ok {
		if _, gone := s.dropped.Load(f.StreamID); gone {
			Logger.Debugf("[%s] dropping late %s", s.id, f)
			return
		}
		s.reset(f.StreamID, common.StatusProtocol, "unknown stream")
		return
	}

	switch w.seq.Check(f.Seq) {
	case frame.Duplicate:
		s.srv.metrics.duplicates.Inc()
		return
	case frame.Gap:
		s.srv.metrics.gaps.Inc()
		s.dropWriter(f.StreamID, w)
		s.reset(f.StreamID, common.StatusProtocol, "sequence gap")
		return
	}

	if len(f.Payload) > 0 {
		if err := w.rec.write(f.Payload); err != nil {
			Logger.Errorf("[%s] write to %s failed: %v", s.id, w.rec.path, err)
			s.dropWriter(f.StreamID, w)
			s.reset(f.StreamID, common.StatusIOError, err.Error())
			return
		}
		s.srv.metrics.bytesRecorded.Add(len(f.Payload))
	}
	s.srv.metrics.framesIn.Inc()

	if f.EOS() {
		s.dropWriter(f.StreamID, w)
	}
}

func (s *session) handleControl(f *frame.Frame) {
	var msg common.Control
	if err := s.srv.serializer.Deserialize(f.Payload, &msg); err != nil {
		Logger.Warningf("[%s] invalid control frame: %v", s.id, err)
		return
	}

	switch msg.Kind {
	case common.CtlOpen:
		s.open(&msg)
	case common.CtlCredit:
		if p, ok := s.players.Load(f.StreamID); ok {
			p.grant(msg.Credit)
		}
	case common.CtlClose:
		if p, ok := s.players.LoadAndDelete(f.StreamID); ok {
			p.stop()
		}
	case common.CtlReset:
		if w, ok := s.writers.Load(f.StreamID); ok {
			Logger.Warningf("[%s] %s reset by client: %s", s.id, w.rec.name, msg.Reason)
			s.dropWriter(f.StreamID, w)
		}
		if p, ok := s.players.LoadAndDelete(f.StreamID); ok {
			p.stop()
		}
	default:
		Logger.Debugf("[%s] ignoring %s control", s.id, msg.Kind)
	}
}

func (s *session) open(req *common.Control) {
	if err := common.ValidateName(req.Name); err != nil {
		s.ack(req, 0, common.StatusInvalidName, err.Error())
		return
	}

	id := s.nextID.Add(1)
	switch req.Mode {
	case common.ModeWrite:
		rec, err := s.srv.recs.create(req.Name)
		if err != nil {
			s.ack(req, 0, common.StatusIOError, err.Error())
			return
		}
		s.writers.Store(id, &writeStream{rec: rec})

	case common.ModeRead:
		f, path, err := s.srv.recs.openPlayback(req.Name)
		if errors.Is(err, errNotFound) {
			s.ack(req, 0, common.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			s.ack(req, 0, common.StatusIOError, err.Error())
			return
		}
		p := newPlayer(s, id, f, path)
		s.players.Store(id, p)
		go p.run()

	default:
		s.ack(req, 0, common.StatusProtocol, "invalid mode")
		return
	}

	s.ack(req, id, common.StatusOK, "")
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *session) dropWriter(id uint32, w *writeStream) {
	s.writers.Delete(id)
	s.dropped.Store(id, struct{}{})
	if err := s.srv.recs.finish(w.rec); err != nil {
		Logger.Warningf("[%s] failed to finish %s: %v", s.id, w.rec.path, err)
	}
}

func (s *session) ack(req *common.Control, id uint32, status common.Status, reason string) {
	if status != common.StatusOK {
		Logger.Infof("[%s] open %s (%s) rejected: %s", s.id, req.Name, req.Mode, reason)
	}
	s.sendControl(0, common.NewAck(req.Token, id, req.Mode, status, reason))
}

func (s *session) reset(id uint32, status common.Status, reason string) {
	s.srv.metrics.resets.Inc()
	Logger.Warningf("[%s] resetting stream %d: %s", s.id, id, reason)
	s.sendControl(id, common.NewReset(status, reason))
}

func (s *session) sendControl(id uint32, msg *common.Control) {
	payload, err := s.srv.serializer.Serialize(*msg)
	if err != nil {
		Logger.Errorf("[%s] failed to serialize %s: %v", s.id, msg.Kind, err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.srv.timeout)
	defer cancel()
	if err := s.link.Send(ctx, &frame.Frame{Flags: frame.FlagControl, StreamID: id, Payload: payload}); err != nil {
		Logger.Debugf("[%s] failed to send %s: %v", s.id, msg.Kind, err)
	}
}

// --------------------------------------------------------------------------
// Player (plays back a recording, bounded by the credit of the reader)
// --------------------------------------------------------------------------

type player struct {
	s    *session
	id   uint32
	f    *os.File
	path string

	credit atomic.Int64
	more   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newPlayer(s *session, id uint32, f *os.File, path string) *player {
	ctx, cancel := context.WithCancel(s.ctx)
	return &player{
		s:      s,
		id:     id,
		f:      f,
		path:   path,
		more:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (p *player) grant(n uint32) {
	p.credit.Add(int64(n))
	select {
	case p.more <- struct{}{}:
	default:
	}
}

func (p *player) stop() {
	p.cancel()
}

func (p *player) wait() {
	<-p.done
}

func (p *player) run() {
	defer close(p.done)
	defer p.f.Close()
	defer p.s.players.Delete(p.id)

	buf := make([]byte, chunkSize)
	var seq uint32

	for {
		credit := p.waitCredit()
		if credit <= 0 {
			return
		}

		n, err := p.f.Read(buf[:min(int64(len(buf)), credit)])
		if n > 0 {
			if !p.send(&frame.Frame{StreamID: p.id, Seq: seq, Payload: buf[:n]}) {
				return
			}
			seq++
			p.credit.Add(-int64(n))
			p.s.srv.metrics.bytesPlayed.Add(n)
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			Logger.Errorf("[%s] playback of %s failed: %v", p.s.id, p.path, err)
			p.s.reset(p.id, common.StatusIOError, err.Error())
			return
		}

		// end of file: wait while the file is still being recorded
		if rec := p.s.srv.recs.activeRecording(p.path); rec != nil {
			select {
			case <-rec.changed:
			case <-rec.done:
			case <-time.After(50 * time.Millisecond):
			case <-p.ctx.Done():
				return
			}
			continue
		}

		p.send(&frame.Frame{StreamID: p.id, Seq: seq, Flags: frame.FlagEOS})
		return
	}
}

// waitCredit blocks until the reader granted credit, 0 means stop
func (p *player) waitCredit() int64 {
	for {
		if c := p.credit.Load(); c > 0 {
			return c
		}
		select {
		case <-p.more:
		case <-p.ctx.Done():
			return 0
		}
	}
}

// send emits a frame, retrying while the link is busy
func (p *player) send(f *frame.Frame) bool {
	for {
		ctx, cancel := context.WithTimeout(p.ctx, p.s.srv.timeout)
		err := p.s.link.Send(ctx, f)
		cancel()
		if err == nil {
			p.s.srv.metrics.framesOut.Inc()
			return true
		}
		if !transport.IsTimeout(err) || p.ctx.Err() != nil {
			Logger.Debugf("[%s] playback of %s stopped: %v", p.s.id, p.path, err)
			return false
		}
	}
}
