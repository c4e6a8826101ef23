package net

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSServer accepts websocket clients. Every binary message carries frames
// in the same format as TCP, so sessions are transport agnostic.
type WSServer struct {
	http     *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
	intake   chan<- *Session
	opts     Options
	log      *zap.Logger
}

func NewWSServer(bindAddr string, opts Options, intake chan<- *Session, log *zap.Logger) (*WSServer, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	s := &WSServer{
		listener: ln,
		intake:   intake,
		opts:     opts,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.MaxFrameSize,
			WriteBufferSize: opts.MaxFrameSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handle)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

func (s *WSServer) handle(rw http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		s.log.Debug("websocket 升級失敗", zap.Error(err))
		return
	}
	ws.SetReadLimit(int64(s.opts.MaxFrameSize) + 8)
	sess := NewSession(&wsConn{ws: ws}, s.opts, s.log)
	s.log.Info("玩家連線", zap.Uint64("session", sess.ID), zap.String("ip", sess.IP), zap.String("transport", "ws"))
	handOff(sess, s.intake, s.log)
}

// Serve blocks until Shutdown.
func (s *WSServer) Serve() error {
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *WSServer) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *WSServer) Addr() net.Addr {
	return s.listener.Addr()
}

// wsConn adapts a websocket connection to net.Conn. Reads stream across
// message boundaries; each Write is one binary message.
type wsConn struct {
	ws *websocket.Conn
	r  io.Reader
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error                       { return c.ws.Close() }
func (c *wsConn) LocalAddr() net.Addr                { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }
func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}
