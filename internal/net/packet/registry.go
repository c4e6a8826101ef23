package packet

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OnlineType is the connection lifecycle. It only moves forward:
// None → Accepted → Online.
type OnlineType int32

const (
	OnlineNone     OnlineType = iota // socket accepted, not yet relayed
	OnlineAccepted                   // relayed, awaiting login
	OnlineOnline                     // logged in, playing
)

func (s OnlineType) String() string {
	switch s {
	case OnlineNone:
		return "None"
	case OnlineAccepted:
		return "Accepted"
	case OnlineOnline:
		return "Online"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// ErrDuplicateLogin is returned when an Online connection repeats a login
// step.
var ErrDuplicateLogin = errors.New("duplicate login")

// ProtocolViolation reports a packet that the connection state does not
// allow.
type ProtocolViolation struct {
	Packet ClientPacket
	State  OnlineType
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %s not allowed while %s", e.Packet, e.State)
}

// Gate decides whether a packet may be processed in the given state. It runs
// before any payload decoding.
func Gate(state OnlineType, id ClientPacket) error {
	switch state {
	case OnlineOnline:
		switch id {
		case CLogin, CRegister, CHandShake, COnlineCheck:
			return ErrDuplicateLogin
		}
		return nil
	case OnlineAccepted:
		switch id {
		case CLogin, CRegister, COnlineCheck, CHandShake, CPing:
			return nil
		}
	}
	return &ProtocolViolation{Packet: id, State: state}
}

// HandlerFunc handles one decoded command. sess is the connection session,
// passed as an opaque value to avoid an import cycle with net.
type HandlerFunc func(sess any, cmd Command)

// Router gates, decodes and dispatches client packets.
type Router struct {
	handlers [clientPacketCount]HandlerFunc
	log      *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	return &Router{log: log}
}

// Register binds a handler to a client packet. Registering twice replaces the
// previous handler.
func (rt *Router) Register(id ClientPacket, fn HandlerFunc) {
	if !id.Valid() {
		panic(fmt.Sprintf("register unknown client packet %d", uint16(id)))
	}
	rt.handlers[id] = fn
}

// Handle reads the packet id, applies the gate and only then decodes the
// typed payload.
func (rt *Router) Handle(state OnlineType, buf *Buffer) (Command, error) {
	raw, err := buf.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("read packet id: %w", err)
	}
	id := ClientPacket(raw)
	if !id.Valid() {
		return nil, fmt.Errorf("%w: unknown client packet %d", ErrDecode, raw)
	}
	if err := Gate(state, id); err != nil {
		return nil, err
	}
	cmd, err := decodeCommand(id, buf)
	if err != nil {
		return nil, err
	}
	if buf.Lossy() > 0 {
		rt.log.Warn("封包字串含無效 UTF-8，已替換為空字串",
			zap.String("packet", id.String()),
			zap.Int("count", buf.Lossy()),
			zap.Uint64("total", LossyStrings()),
		)
	}
	return cmd, nil
}

// Dispatch runs Handle and then the registered handler. A packet with no
// handler is an error so that no declared packet is silently dropped.
func (rt *Router) Dispatch(sess any, state OnlineType, buf *Buffer) error {
	cmd, err := rt.Handle(state, buf)
	if err != nil {
		return err
	}
	rt.log.Debug("收到封包",
		zap.String("packet", cmd.Packet().String()),
		zap.Int("size", buf.Len()),
		zap.String("state", state.String()),
	)
	fn := rt.handlers[cmd.Packet()]
	if fn == nil {
		return fmt.Errorf("no handler for %s", cmd.Packet())
	}
	return rt.safeCall(fn, sess, cmd)
}

// safeCall executes a handler with panic recovery so that one bad packet
// only costs its own connection.
func (rt *Router) safeCall(fn HandlerFunc, sess any, cmd Command) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.log.Error("處理器 panic 已恢復",
				zap.String("packet", cmd.Packet().String()),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for %s: %v", cmd.Packet(), rec)
		}
	}()
	fn(sess, cmd)
	return nil
}
