package net

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"go.uber.org/zap"
)

// Options are the per-connection limits shared by every transport.
type Options struct {
	Endian       packet.Endian
	OutQueueSize int
	MaxFrameSize int
	PktPerSec    int // 0 = unlimited
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// OptionsFromConfig derives session options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	e, _ := packet.ParseEndian(cfg.Network.Endian) // validated by config.Load
	o := Options{
		Endian:       e,
		OutQueueSize: cfg.Network.OutQueueSize,
		MaxFrameSize: cfg.Network.MaxFrameSize,
		ReadTimeout:  cfg.Network.ReadTimeout,
		WriteTimeout: cfg.Network.WriteTimeout,
	}
	if cfg.RateLimit.Enabled {
		o.PktPerSec = cfg.RateLimit.PacketsPerSecond
	}
	return o
}

// DispatchFunc consumes one inbound frame. A non-nil error closes the
// connection.
type DispatchFunc func(sess *Session, buf *packet.Buffer) error

var nextSessionID atomic.Uint64

// Session represents a single client connection. Reads and dispatch run on
// the goroutine that calls Serve; writes run in a dedicated writer goroutine.
type Session struct {
	ID   uint64
	conn net.Conn
	opts Options

	state  atomic.Int32  // packet.OnlineType
	player atomic.Uint64 // entity key once Online, 0 before

	OutQueue chan []byte // writer goroutine reads from here

	IP          string // host part of the remote address
	AccountID   int64  // set by login, connection goroutine only
	AccountName string

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// Per-second packet rate limiter (Serve goroutine only, no lock needed)
	pktCount   int
	pktResetAt int64

	log *zap.Logger
}

func NewSession(conn net.Conn, opts Options, log *zap.Logger) *Session {
	id := nextSessionID.Add(1)
	ip := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return &Session{
		ID:       id,
		conn:     conn,
		opts:     opts,
		OutQueue: make(chan []byte, opts.OutQueueSize),
		IP:       ip,
		closeCh:  make(chan struct{}),
		log:      log.With(zap.Uint64("session", id)),
	}
}

func (s *Session) State() packet.OnlineType {
	return packet.OnlineType(s.state.Load())
}

// Promote moves the session exactly one step forward (None → Accepted →
// Online). Any other transition is refused.
func (s *Session) Promote(to packet.OnlineType) bool {
	for {
		cur := s.state.Load()
		if int32(to) != cur+1 || to > packet.OnlineOnline {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

func (s *Session) Endian() packet.Endian { return s.opts.Endian }

// Player returns the entity key bound at login, 0 if none.
func (s *Session) Player() uint64 { return s.player.Load() }

func (s *Session) SetPlayer(key uint64) { s.player.Store(key) }

// Logger returns the session-scoped logger.
func (s *Session) Logger() *zap.Logger { return s.log }

// Start launches the writer goroutine.
func (s *Session) Start() {
	go s.writeLoop()
}

// Send queues a finished buffer for the writer. Non-blocking: if OutQueue is
// full the session is disconnected (backpressure). Safe from any goroutine.
func (s *Session) Send(b *packet.Buffer) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.OutQueue <- b.Bytes():
		return true
	case <-s.closeCh:
		return false
	default:
		s.log.Warn("輸出佇列已滿，斷開慢速連線")
		s.Close()
		return false
	}
}

// Close gracefully shuts down the session. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.closeCh
}

// Serve reads frames and dispatches them inline until the connection fails or
// dispatch returns an error. It closes the session before returning.
func (s *Session) Serve(dispatch DispatchFunc) {
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		if s.opts.ReadTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		}
		frame, err := ReadFrame(s.conn, s.opts.Endian, s.opts.MaxFrameSize)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("讀取錯誤", zap.Error(err))
			}
			return
		}

		if !s.allowPacket() {
			s.log.Warn("封包速率超限，斷開連線", zap.Int("pps", s.pktCount))
			return
		}

		buf, err := packet.Wrap(frame, s.opts.Endian)
		if err != nil {
			s.log.Debug("封包框架錯誤", zap.Error(err))
			return
		}
		if err := dispatch(s, buf); err != nil {
			s.log.Info("封包處理失敗，斷開連線",
				zap.String("state", s.State().String()),
				zap.Error(err),
			)
			return
		}
	}
}

func (s *Session) allowPacket() bool {
	if s.opts.PktPerSec <= 0 {
		return true
	}
	now := time.Now().Unix()
	if now != s.pktResetAt {
		s.pktCount = 0
		s.pktResetAt = now
	}
	s.pktCount++
	return s.pktCount <= s.opts.PktPerSec
}

// writeLoop runs in its own goroutine and writes queued frames in order.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if !s.writeOne(data) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeOne(data []byte) bool {
	if s.opts.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	if err := WriteFrame(s.conn, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("寫入錯誤", zap.Error(err))
		}
		return false
	}
	return true
}
