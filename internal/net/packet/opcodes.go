package packet

import "fmt"

// ClientPacket identifies a client → server message. The u16 id is the first
// payload field.
type ClientPacket uint16

const (
	CPing ClientPacket = iota
	CRegister
	CLogin
	CHandShake
	COnlineCheck
	CMove
	CDir
	CAttack
	CUseItem
	CUnequip
	CSwitchInvSlot
	CPickUp
	CDropItem
	CDeleteItem
	CMessage
	CAdminCommand
	CSetTarget
	CUseEmote
	CTradeRequest
	CAcceptTrade
	CDeclineTrade
	CAddTradeItem
	CRemoveTradeItem
	CSubmitTrade
	CSwitchStorageSlot
	CDepositItem
	CWithdrawItem
	CCloseStorage
	CCloseShop
	CBuyItem
	CSellItem
	CLogout
	CSyncRequest
	COnlineList

	clientPacketCount
)

var clientPacketNames = [...]string{
	CPing:              "Ping",
	CRegister:          "Register",
	CLogin:             "Login",
	CHandShake:         "HandShake",
	COnlineCheck:       "OnlineCheck",
	CMove:              "Move",
	CDir:               "Dir",
	CAttack:            "Attack",
	CUseItem:           "UseItem",
	CUnequip:           "Unequip",
	CSwitchInvSlot:     "SwitchInvSlot",
	CPickUp:            "PickUp",
	CDropItem:          "DropItem",
	CDeleteItem:        "DeleteItem",
	CMessage:           "Message",
	CAdminCommand:      "AdminCommand",
	CSetTarget:         "SetTarget",
	CUseEmote:          "UseEmote",
	CTradeRequest:      "TradeRequest",
	CAcceptTrade:       "AcceptTrade",
	CDeclineTrade:      "DeclineTrade",
	CAddTradeItem:      "AddTradeItem",
	CRemoveTradeItem:   "RemoveTradeItem",
	CSubmitTrade:       "SubmitTrade",
	CSwitchStorageSlot: "SwitchStorageSlot",
	CDepositItem:       "DepositItem",
	CWithdrawItem:      "WithdrawItem",
	CCloseStorage:      "CloseStorage",
	CCloseShop:         "CloseShop",
	CBuyItem:           "BuyItem",
	CSellItem:          "SellItem",
	CLogout:            "Logout",
	CSyncRequest:       "SyncRequest",
	COnlineList:        "OnlineList",
}

func (p ClientPacket) String() string {
	if p < clientPacketCount {
		return clientPacketNames[p]
	}
	return fmt.Sprintf("ClientPacket(%d)", uint16(p))
}

// Valid reports whether p is a declared client packet.
func (p ClientPacket) Valid() bool { return p < clientPacketCount }

// AllClientPackets lists every declared client packet in id order.
func AllClientPackets() []ClientPacket {
	out := make([]ClientPacket, 0, clientPacketCount)
	for p := ClientPacket(0); p < clientPacketCount; p++ {
		out = append(out, p)
	}
	return out
}

// ServerPacket identifies a server → client message.
type ServerPacket uint16

const (
	SAlertMsg ServerPacket = iota
	SHandShake
	SLoginOk
	SPing
	SOnlineCheck
	SMyIndex
	SPlayerData
	SPlayerSpawn
	SPlayerMove
	SPlayerWarp
	SPlayerDir
	SPlayerVitals
	SPlayerStats
	SPlayerLevel
	SPlayerInv
	SPlayerInvSlot
	SPlayerEquipment
	SPlayerDeath
	SPlayerRespawn
	SPlayerPosCorrection
	SEntityUnload
	SEntityDeath
	SEntityVitals
	SEntityDamage
	SEntityHeal
	SNpcData
	SNpcSpawn
	SNpcMove
	SNpcDir
	SNpcAttack
	SNpcCast
	SNpcTarget
	SAttack
	SSetTarget
	SClearTarget
	SChatMsg
	SEmote
	SOnlineList
	SAdminResult
	SMapData
	SMapDone
	SMapItems
	SMapItemSpawn
	SMapItemClear
	SGameTime
	SWeather
	SSignText
	STradeRequest
	STradeUpdate
	STradeStatus
	STradeClose
	SShopOpen
	SShopClose
	SStorageOpen
	SStorageSlot
	SStorageClose
	SSyncDone
	SLogout
	SKicked
	SServerMessage

	serverPacketCount
)

var serverPacketNames = [...]string{
	SAlertMsg:            "AlertMsg",
	SHandShake:           "HandShake",
	SLoginOk:             "LoginOk",
	SPing:                "Ping",
	SOnlineCheck:         "OnlineCheck",
	SMyIndex:             "MyIndex",
	SPlayerData:          "PlayerData",
	SPlayerSpawn:         "PlayerSpawn",
	SPlayerMove:          "PlayerMove",
	SPlayerWarp:          "PlayerWarp",
	SPlayerDir:           "PlayerDir",
	SPlayerVitals:        "PlayerVitals",
	SPlayerStats:         "PlayerStats",
	SPlayerLevel:         "PlayerLevel",
	SPlayerInv:           "PlayerInv",
	SPlayerInvSlot:       "PlayerInvSlot",
	SPlayerEquipment:     "PlayerEquipment",
	SPlayerDeath:         "PlayerDeath",
	SPlayerRespawn:       "PlayerRespawn",
	SPlayerPosCorrection: "PlayerPosCorrection",
	SEntityUnload:        "EntityUnload",
	SEntityDeath:         "EntityDeath",
	SEntityVitals:        "EntityVitals",
	SEntityDamage:        "EntityDamage",
	SEntityHeal:          "EntityHeal",
	SNpcData:             "NpcData",
	SNpcSpawn:            "NpcSpawn",
	SNpcMove:             "NpcMove",
	SNpcDir:              "NpcDir",
	SNpcAttack:           "NpcAttack",
	SNpcCast:             "NpcCast",
	SNpcTarget:           "NpcTarget",
	SAttack:              "Attack",
	SSetTarget:           "SetTarget",
	SClearTarget:         "ClearTarget",
	SChatMsg:             "ChatMsg",
	SEmote:               "Emote",
	SOnlineList:          "OnlineList",
	SAdminResult:         "AdminResult",
	SMapData:             "MapData",
	SMapDone:             "MapDone",
	SMapItems:            "MapItems",
	SMapItemSpawn:        "MapItemSpawn",
	SMapItemClear:        "MapItemClear",
	SGameTime:            "GameTime",
	SWeather:             "Weather",
	SSignText:            "SignText",
	STradeRequest:        "TradeRequest",
	STradeUpdate:         "TradeUpdate",
	STradeStatus:         "TradeStatus",
	STradeClose:          "TradeClose",
	SShopOpen:            "ShopOpen",
	SShopClose:           "ShopClose",
	SStorageOpen:         "StorageOpen",
	SStorageSlot:         "StorageSlot",
	SStorageClose:        "StorageClose",
	SSyncDone:            "SyncDone",
	SLogout:              "Logout",
	SKicked:              "Kicked",
	SServerMessage:       "ServerMessage",
}

func (p ServerPacket) String() string {
	if p < serverPacketCount {
		return serverPacketNames[p]
	}
	return fmt.Sprintf("ServerPacket(%d)", uint16(p))
}
