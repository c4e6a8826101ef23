package packet

import (
	"errors"
	"testing"

	"github.com/bmizerany/assert"
	"go.uber.org/zap"
)

type gateResult int

const (
	allow gateResult = iota
	duplicate
	violation
)

func expectedGate(state OnlineType, id ClientPacket) gateResult {
	loginStep := id == CLogin || id == CRegister || id == CHandShake || id == COnlineCheck
	switch state {
	case OnlineOnline:
		if loginStep {
			return duplicate
		}
		return allow
	case OnlineAccepted:
		if loginStep || id == CPing {
			return allow
		}
		return violation
	}
	return violation
}

func sampleCommand(id ClientPacket) Command {
	switch id {
	case CRegister:
		return Register{Username: "ann", Password: "pw", Email: "a@b.c"}
	case CLogin:
		return Login{Username: "ann", Password: "pw", Version: 3}
	case CHandShake:
		return HandShake{Handshake: "worldmesh"}
	case CMove:
		return Move{Dir: 2, X: 5, Y: -1}
	case CMessage:
		return Message{Channel: 1, Text: "hi", Target: "bob"}
	case CSwitchInvSlot:
		return SwitchInvSlot{Old: 1, New: 2, Amount: 10}
	case CDepositItem:
		return DepositItem{InvSlot: 1, BankSlot: 2, Amount: 3}
	}
	cmd, err := decodeCommand(id, withZeroPayload(id))
	if err != nil {
		panic(err)
	}
	return cmd
}

// withZeroPayload builds a frame body that decodes as the zero value of id.
func withZeroPayload(id ClientPacket) *Buffer {
	zero := map[ClientPacket]int{
		CDir: 1, CAttack: 9, CUseItem: 4, CUnequip: 2, CDropItem: 6, CDeleteItem: 2,
		CAdminCommand: 8, CSetTarget: 8, CUseEmote: 1, CTradeRequest: 8,
		CAddTradeItem: 10, CRemoveTradeItem: 2, CSwitchStorageSlot: 12,
		CWithdrawItem: 12, CBuyItem: 2, CSellItem: 10,
	}
	b := NewBuffer(LittleEndian)
	b.WriteBytes(make([]byte, zero[id]))
	in, _ := Wrap(b.MustFinish().Bytes(), LittleEndian)
	return in
}

func TestGateCrossProduct(t *testing.T) {
	rt := NewRouter(zap.NewNop())
	states := []OnlineType{OnlineNone, OnlineAccepted, OnlineOnline}
	for _, state := range states {
		for _, id := range AllClientPackets() {
			frame := Encode(LittleEndian, sampleCommand(id))
			buf, err := Wrap(frame.Bytes(), LittleEndian)
			assert.Equal(t, nil, err)

			cmd, err := rt.Handle(state, buf)
			switch expectedGate(state, id) {
			case allow:
				assert.Tf(t, err == nil, "%s/%s: %v", state, id, err)
				assert.Equal(t, id, cmd.Packet())
			case duplicate:
				assert.Tf(t, errors.Is(err, ErrDuplicateLogin), "%s/%s: %v", state, id, err)
			case violation:
				var pv *ProtocolViolation
				assert.Tf(t, errors.As(err, &pv), "%s/%s: %v", state, id, err)
				assert.Equal(t, id, pv.Packet)
			}
		}
	}
}

func TestGateRunsBeforeDecode(t *testing.T) {
	// a Move with a truncated payload is rejected by the gate first
	b := NewBuffer(LittleEndian)
	b.WriteU16(uint16(CMove))
	b.WriteU8(1)
	buf, _ := Wrap(b.MustFinish().Bytes(), LittleEndian)

	_, err := NewRouter(zap.NewNop()).Handle(OnlineAccepted, buf)
	var pv *ProtocolViolation
	assert.T(t, errors.As(err, &pv), err)
}

func TestHandleDecodeErrors(t *testing.T) {
	rt := NewRouter(zap.NewNop())

	unknown := NewBuffer(LittleEndian)
	unknown.WriteU16(9999)
	buf, _ := Wrap(unknown.MustFinish().Bytes(), LittleEndian)
	_, err := rt.Handle(OnlineOnline, buf)
	assert.T(t, errors.Is(err, ErrDecode), err)

	empty, _ := Wrap(NewBuffer(LittleEndian).MustFinish().Bytes(), LittleEndian)
	_, err = rt.Handle(OnlineOnline, empty)
	assert.T(t, errors.Is(err, ErrDecode), err)

	short := NewBuffer(LittleEndian)
	short.WriteU16(uint16(CMove))
	short.WriteU8(1)
	buf, _ = Wrap(short.MustFinish().Bytes(), LittleEndian)
	_, err = rt.Handle(OnlineOnline, buf)
	assert.T(t, errors.Is(err, ErrDecode), err)

	trailing := NewBuffer(LittleEndian)
	trailing.WriteU16(uint16(CPing))
	trailing.WriteU8(0)
	buf, _ = Wrap(trailing.MustFinish().Bytes(), LittleEndian)
	_, err = rt.Handle(OnlineAccepted, buf)
	assert.T(t, errors.Is(err, ErrDecode), err)
}

func TestDecodeRoundTrip(t *testing.T) {
	rt := NewRouter(zap.NewNop())
	want := Message{Channel: 2, Text: "世界你好", Target: ""}
	frame := Encode(BigEndian, want)
	buf, _ := Wrap(frame.Bytes(), BigEndian)
	got, err := rt.Handle(OnlineOnline, buf)
	assert.Equal(t, nil, err)
	assert.Equal(t, want, got)
}

func TestDispatchRecoversPanic(t *testing.T) {
	rt := NewRouter(zap.NewNop())
	rt.Register(CPing, func(sess any, cmd Command) { panic("boom") })

	buf, _ := Wrap(Encode(LittleEndian, Ping{}).Bytes(), LittleEndian)
	err := rt.Dispatch(nil, OnlineAccepted, buf)
	assert.NotEqual(t, nil, err)

	var got Command
	rt.Register(CPing, func(sess any, cmd Command) { got = cmd })
	buf, _ = Wrap(Encode(LittleEndian, Ping{}).Bytes(), LittleEndian)
	assert.Equal(t, nil, rt.Dispatch(nil, OnlineAccepted, buf))
	assert.Equal(t, Command(Ping{}), got)
}

func TestDispatchMissingHandler(t *testing.T) {
	rt := NewRouter(zap.NewNop())
	buf, _ := Wrap(Encode(LittleEndian, OnlineList{}).Bytes(), LittleEndian)
	assert.NotEqual(t, nil, rt.Dispatch(nil, OnlineOnline, buf))
}

func TestEveryPacketHasDecoder(t *testing.T) {
	for _, id := range AllClientPackets() {
		assert.Tf(t, decoders[id] != nil, "%s has no decoder", id)
	}
}
