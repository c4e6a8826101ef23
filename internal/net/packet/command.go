package packet

import "fmt"

// Command is a fully decoded client packet.
type Command interface {
	Packet() ClientPacket
}

type (
	Ping struct{}

	Register struct {
		Username string
		Password string
		Email    string
	}

	Login struct {
		Username string
		Password string
		Version  uint32
	}

	HandShake struct {
		Handshake string
	}

	OnlineCheck struct{}

	// Move carries the client's belief of its position so the server can
	// correct drift.
	Move struct {
		Dir  uint8
		X, Y int32
	}

	Dir struct {
		Dir uint8
	}

	Attack struct {
		Dir    uint8
		Target uint64
	}

	UseItem struct {
		Slot       uint16
		TargetSlot uint16
	}

	Unequip struct {
		Slot uint16
	}

	SwitchInvSlot struct {
		Old, New uint16
		Amount   uint64
	}

	PickUp struct{}

	DropItem struct {
		Slot   uint16
		Amount uint32
	}

	DeleteItem struct {
		Slot uint16
	}

	Message struct {
		Channel uint8
		Text    string
		Target  string
	}

	AdminCommand struct {
		Cmd string
	}

	SetTarget struct {
		Target uint64
	}

	UseEmote struct {
		Emote uint8
	}

	TradeRequest struct {
		Target uint64
	}

	AcceptTrade  struct{}
	DeclineTrade struct{}

	AddTradeItem struct {
		Slot   uint16
		Amount uint64
	}

	RemoveTradeItem struct {
		Slot uint16
	}

	SubmitTrade struct{}

	SwitchStorageSlot struct {
		Old, New uint16
		Amount   uint64
	}

	DepositItem struct {
		InvSlot  uint16
		BankSlot uint16
		Amount   uint64
	}

	WithdrawItem struct {
		InvSlot  uint16
		BankSlot uint16
		Amount   uint64
	}

	CloseStorage struct{}
	CloseShop    struct{}

	BuyItem struct {
		Slot uint16
	}

	SellItem struct {
		Slot   uint16
		Amount uint64
	}

	Logout      struct{}
	SyncRequest struct{}
	OnlineList  struct{}
)

func (Ping) Packet() ClientPacket              { return CPing }
func (Register) Packet() ClientPacket          { return CRegister }
func (Login) Packet() ClientPacket             { return CLogin }
func (HandShake) Packet() ClientPacket         { return CHandShake }
func (OnlineCheck) Packet() ClientPacket       { return COnlineCheck }
func (Move) Packet() ClientPacket              { return CMove }
func (Dir) Packet() ClientPacket               { return CDir }
func (Attack) Packet() ClientPacket            { return CAttack }
func (UseItem) Packet() ClientPacket           { return CUseItem }
func (Unequip) Packet() ClientPacket           { return CUnequip }
func (SwitchInvSlot) Packet() ClientPacket     { return CSwitchInvSlot }
func (PickUp) Packet() ClientPacket            { return CPickUp }
func (DropItem) Packet() ClientPacket          { return CDropItem }
func (DeleteItem) Packet() ClientPacket        { return CDeleteItem }
func (Message) Packet() ClientPacket           { return CMessage }
func (AdminCommand) Packet() ClientPacket      { return CAdminCommand }
func (SetTarget) Packet() ClientPacket         { return CSetTarget }
func (UseEmote) Packet() ClientPacket          { return CUseEmote }
func (TradeRequest) Packet() ClientPacket      { return CTradeRequest }
func (AcceptTrade) Packet() ClientPacket       { return CAcceptTrade }
func (DeclineTrade) Packet() ClientPacket      { return CDeclineTrade }
func (AddTradeItem) Packet() ClientPacket      { return CAddTradeItem }
func (RemoveTradeItem) Packet() ClientPacket   { return CRemoveTradeItem }
func (SubmitTrade) Packet() ClientPacket       { return CSubmitTrade }
func (SwitchStorageSlot) Packet() ClientPacket { return CSwitchStorageSlot }
func (DepositItem) Packet() ClientPacket       { return CDepositItem }
func (WithdrawItem) Packet() ClientPacket      { return CWithdrawItem }
func (CloseStorage) Packet() ClientPacket      { return CCloseStorage }
func (CloseShop) Packet() ClientPacket         { return CCloseShop }
func (BuyItem) Packet() ClientPacket           { return CBuyItem }
func (SellItem) Packet() ClientPacket          { return CSellItem }
func (Logout) Packet() ClientPacket            { return CLogout }
func (SyncRequest) Packet() ClientPacket       { return CSyncRequest }
func (OnlineList) Packet() ClientPacket        { return COnlineList }

// fields reads a sequence of primitives and keeps the first error, so a
// decoder can be written as straight-line field reads.
type fields struct {
	b   *Buffer
	err error
}

func (f *fields) u8() uint8 {
	if f.err != nil {
		return 0
	}
	v, err := f.b.ReadU8()
	f.err = err
	return v
}

func (f *fields) u16() uint16 {
	if f.err != nil {
		return 0
	}
	v, err := f.b.ReadU16()
	f.err = err
	return v
}

func (f *fields) u32() uint32 {
	if f.err != nil {
		return 0
	}
	v, err := f.b.ReadU32()
	f.err = err
	return v
}

func (f *fields) u64() uint64 {
	if f.err != nil {
		return 0
	}
	v, err := f.b.ReadU64()
	f.err = err
	return v
}

func (f *fields) i32() int32 {
	if f.err != nil {
		return 0
	}
	v, err := f.b.ReadI32()
	f.err = err
	return v
}

func (f *fields) str() string {
	if f.err != nil {
		return ""
	}
	v, err := f.b.ReadStr()
	f.err = err
	return v
}

type decodeFunc func(f *fields) Command

// decoders is indexed by ClientPacket; every declared packet has an entry.
var decoders = [clientPacketCount]decodeFunc{
	CPing: func(*fields) Command { return Ping{} },
	CRegister: func(f *fields) Command {
		return Register{Username: f.str(), Password: f.str(), Email: f.str()}
	},
	CLogin: func(f *fields) Command {
		return Login{Username: f.str(), Password: f.str(), Version: f.u32()}
	},
	CHandShake:   func(f *fields) Command { return HandShake{Handshake: f.str()} },
	COnlineCheck: func(*fields) Command { return OnlineCheck{} },
	CMove: func(f *fields) Command {
		return Move{Dir: f.u8(), X: f.i32(), Y: f.i32()}
	},
	CDir:     func(f *fields) Command { return Dir{Dir: f.u8()} },
	CAttack:  func(f *fields) Command { return Attack{Dir: f.u8(), Target: f.u64()} },
	CUseItem: func(f *fields) Command { return UseItem{Slot: f.u16(), TargetSlot: f.u16()} },
	CUnequip: func(f *fields) Command { return Unequip{Slot: f.u16()} },
	CSwitchInvSlot: func(f *fields) Command {
		return SwitchInvSlot{Old: f.u16(), New: f.u16(), Amount: f.u64()}
	},
	CPickUp:     func(*fields) Command { return PickUp{} },
	CDropItem:   func(f *fields) Command { return DropItem{Slot: f.u16(), Amount: f.u32()} },
	CDeleteItem: func(f *fields) Command { return DeleteItem{Slot: f.u16()} },
	CMessage: func(f *fields) Command {
		return Message{Channel: f.u8(), Text: f.str(), Target: f.str()}
	},
	CAdminCommand:    func(f *fields) Command { return AdminCommand{Cmd: f.str()} },
	CSetTarget:       func(f *fields) Command { return SetTarget{Target: f.u64()} },
	CUseEmote:        func(f *fields) Command { return UseEmote{Emote: f.u8()} },
	CTradeRequest:    func(f *fields) Command { return TradeRequest{Target: f.u64()} },
	CAcceptTrade:     func(*fields) Command { return AcceptTrade{} },
	CDeclineTrade:    func(*fields) Command { return DeclineTrade{} },
	CAddTradeItem:    func(f *fields) Command { return AddTradeItem{Slot: f.u16(), Amount: f.u64()} },
	CRemoveTradeItem: func(f *fields) Command { return RemoveTradeItem{Slot: f.u16()} },
	CSubmitTrade:     func(*fields) Command { return SubmitTrade{} },
	CSwitchStorageSlot: func(f *fields) Command {
		return SwitchStorageSlot{Old: f.u16(), New: f.u16(), Amount: f.u64()}
	},
	CDepositItem: func(f *fields) Command {
		return DepositItem{InvSlot: f.u16(), BankSlot: f.u16(), Amount: f.u64()}
	},
	CWithdrawItem: func(f *fields) Command {
		return WithdrawItem{InvSlot: f.u16(), BankSlot: f.u16(), Amount: f.u64()}
	},
	CCloseStorage: func(*fields) Command { return CloseStorage{} },
	CCloseShop:    func(*fields) Command { return CloseShop{} },
	CBuyItem:      func(f *fields) Command { return BuyItem{Slot: f.u16()} },
	CSellItem:     func(f *fields) Command { return SellItem{Slot: f.u16(), Amount: f.u64()} },
	CLogout:       func(*fields) Command { return Logout{} },
	CSyncRequest:  func(*fields) Command { return SyncRequest{} },
	COnlineList:   func(*fields) Command { return OnlineList{} },
}

// decodeCommand reads the payload of id from b. The whole remaining payload
// must be consumed.
func decodeCommand(id ClientPacket, b *Buffer) (Command, error) {
	if !id.Valid() || decoders[id] == nil {
		return nil, fmt.Errorf("%w: unknown client packet %d", ErrDecode, uint16(id))
	}
	f := &fields{b: b}
	cmd := decoders[id](f)
	if f.err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, f.err)
	}
	if n := b.Remaining(); n != 0 {
		return nil, fmt.Errorf("%w: %s has %d trailing bytes", ErrDecode, id, n)
	}
	return cmd, nil
}

// Encode writes cmd as a client frame. Used by tools and tests that play the
// client side.
func Encode(e Endian, cmd Command) *Buffer {
	b := NewBuffer(e)
	b.WriteU16(uint16(cmd.Packet()))
	switch c := cmd.(type) {
	case Register:
		b.WriteStr(c.Username)
		b.WriteStr(c.Password)
		b.WriteStr(c.Email)
	case Login:
		b.WriteStr(c.Username)
		b.WriteStr(c.Password)
		b.WriteU32(c.Version)
	case HandShake:
		b.WriteStr(c.Handshake)
	case Move:
		b.WriteU8(c.Dir)
		b.WriteI32(c.X)
		b.WriteI32(c.Y)
	case Dir:
		b.WriteU8(c.Dir)
	case Attack:
		b.WriteU8(c.Dir)
		b.WriteU64(c.Target)
	case UseItem:
		b.WriteU16(c.Slot)
		b.WriteU16(c.TargetSlot)
	case Unequip:
		b.WriteU16(c.Slot)
	case SwitchInvSlot:
		b.WriteU16(c.Old)
		b.WriteU16(c.New)
		b.WriteU64(c.Amount)
	case DropItem:
		b.WriteU16(c.Slot)
		b.WriteU32(c.Amount)
	case DeleteItem:
		b.WriteU16(c.Slot)
	case Message:
		b.WriteU8(c.Channel)
		b.WriteStr(c.Text)
		b.WriteStr(c.Target)
	case AdminCommand:
		b.WriteStr(c.Cmd)
	case SetTarget:
		b.WriteU64(c.Target)
	case UseEmote:
		b.WriteU8(c.Emote)
	case TradeRequest:
		b.WriteU64(c.Target)
	case AddTradeItem:
		b.WriteU16(c.Slot)
		b.WriteU64(c.Amount)
	case RemoveTradeItem:
		b.WriteU16(c.Slot)
	case SwitchStorageSlot:
		b.WriteU16(c.Old)
		b.WriteU16(c.New)
		b.WriteU64(c.Amount)
	case DepositItem:
		b.WriteU16(c.InvSlot)
		b.WriteU16(c.BankSlot)
		b.WriteU64(c.Amount)
	case WithdrawItem:
		b.WriteU16(c.InvSlot)
		b.WriteU16(c.BankSlot)
		b.WriteU64(c.Amount)
	case BuyItem:
		b.WriteU16(c.Slot)
	case SellItem:
		b.WriteU16(c.Slot)
		b.WriteU64(c.Amount)
	}
	return b.MustFinish()
}
