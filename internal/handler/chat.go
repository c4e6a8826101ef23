package handler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/l1jgo/worldmesh/internal/net"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/system"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

// Chat channels.
const (
	ChatMap     = 0
	ChatGlobal  = 1
	ChatWhisper = 2
)

const maxChatRunes = 200

// HandleMessage routes a chat line. Map chat starting with "." is an admin
// command.
func HandleMessage(sess *net.Session, cmd packet.Message, deps *Deps) {
	k, ok := player(sess, deps)
	if !ok {
		return
	}
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return
	}
	if utf8.RuneCountInString(text) > maxChatRunes {
		sess.Send(system.AlertMsg(sess.Endian(), "message too long"))
		return
	}
	c, _ := deps.Store.Client.Get(k)

	switch cmd.Channel {
	case ChatMap:
		if strings.HasPrefix(text, ".") {
			HandleAdminCommand(sess, packet.AdminCommand{Cmd: text[1:]}, deps)
			return
		}
		sp, ok := deps.Store.Spatial.Get(k)
		if !ok {
			return
		}
		frame := system.ChatMsg(sess.Endian(), ChatMap, c.Username, text)
		if err := toMap(deps, sp.Pos.Map, frame, world.NoKey); err != nil {
			sess.Logger().Warn("地圖聊天傳送失敗", zap.Stringer("map", sp.Pos.Map), zap.Error(err))
		}

	case ChatGlobal:
		frame := system.ChatMsg(sess.Endian(), ChatGlobal, c.Username, text)
		deps.Store.Client.Range(func(other world.GlobalKey, oc world.Client) bool {
			if oc.Online == packet.OnlineOnline {
				deps.Store.Send(other, frame)
			}
			return true
		})

	case ChatWhisper:
		to, found := deps.Store.FindPlayer(normalizeName(cmd.Target))
		if !found {
			sess.Send(system.AlertMsg(sess.Endian(), fmt.Sprintf("%s is not online", cmd.Target)))
			return
		}
		frame := system.ChatMsg(sess.Endian(), ChatWhisper, c.Username, text)
		deps.Store.Send(to, frame)
		if to != k {
			sess.Send(frame)
		}

	default:
		sess.Logger().Debug("未知聊天頻道", zap.Uint8("channel", cmd.Channel))
	}
}

func HandleEmote(sess *net.Session, cmd packet.UseEmote, deps *Deps) {
	k, ok := player(sess, deps)
	if !ok {
		return
	}
	sp, ok := deps.Store.Spatial.Get(k)
	if !ok {
		return
	}
	if err := toMap(deps, sp.Pos.Map, system.Emote(sess.Endian(), k, uint32(cmd.Emote)), world.NoKey); err != nil {
		sess.Logger().Debug("表情廣播失敗", zap.Error(err))
	}
}

func HandleOnlineList(sess *net.Session, _ packet.OnlineList, deps *Deps) {
	sess.Send(system.OnlineList(sess.Endian(), deps.Store.Players()))
}

// HandleAdminCommand answers the read-only operator commands.
func HandleAdminCommand(sess *net.Session, cmd packet.AdminCommand, deps *Deps) {
	k, ok := player(sess, deps)
	if !ok {
		return
	}
	fields := strings.Fields(cmd.Cmd)
	if len(fields) == 0 {
		return
	}
	e := sess.Endian()
	switch strings.ToLower(fields[0]) {
	case "online":
		sess.Send(system.AdminResult(e, true, fmt.Sprintf("%d players online", len(deps.Store.Players()))))
	case "where":
		sp, _ := deps.Store.Spatial.Get(k)
		sess.Send(system.AdminResult(e, true, sp.Pos.String()))
	case "help":
		sess.Send(system.AdminResult(e, true, "online, where, help"))
	default:
		sess.Send(system.AdminResult(e, false, "unknown command "+fields[0]))
	}
}
