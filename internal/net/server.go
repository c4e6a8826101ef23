package net

import (
	"errors"
	"net"

	"go.uber.org/zap"
)

// Server accepts TCP connections and hands new Sessions to the login relay.
type Server struct {
	listener net.Listener
	intake   chan<- *Session
	opts     Options
	log      *zap.Logger
	closeCh  chan struct{}
}

func NewServer(bindAddr string, opts Options, intake chan<- *Session, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: ln,
		intake:   intake,
		opts:     opts,
		log:      log,
		closeCh:  make(chan struct{}),
	}
	return s, nil
}

// AcceptLoop accepts connections until Shutdown. New sessions start in
// OnlineNone and are pushed to the relay; a full intake refuses the socket.
func (s *Server) AcceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return nil // server shutting down
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("連線接受失敗", zap.Error(err))
			continue
		}

		sess := NewSession(conn, s.opts, s.log)
		s.log.Info("玩家連線", zap.Uint64("session", sess.ID), zap.String("ip", sess.IP), zap.String("transport", "tcp"))
		handOff(sess, s.intake, s.log)
	}
}

func handOff(sess *Session, intake chan<- *Session, log *zap.Logger) {
	select {
	case intake <- sess:
	default:
		log.Warn("連線佇列已滿，拒絕新連線", zap.Uint64("session", sess.ID))
		sess.Close()
	}
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown() {
	select {
	case <-s.closeCh:
		return
	default:
	}
	close(s.closeCh)
	s.listener.Close()
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
