package handler

import (
	"context"
	"sync"

	"github.com/l1jgo/worldmesh/internal/mesh"
	"github.com/l1jgo/worldmesh/internal/net"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/persist"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

// Accept serves every session the relay admits until ctx ends, then closes
// the open sessions and waits for their cleanup.
func Accept(ctx context.Context, ready <-chan *net.Session, rt *packet.Router, deps *Deps) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sess := <-ready:
			wg.Add(2)
			go func() {
				defer wg.Done()
				select {
				case <-ctx.Done():
					sess.Close()
				case <-sess.Done():
				}
			}()
			go func() {
				defer wg.Done()
				Serve(sess, rt, deps)
			}()
		}
	}
}

// Serve runs one session to completion on the calling goroutine.
func Serve(sess *net.Session, rt *packet.Router, deps *Deps) {
	sess.Logger().Debug("連線已接受", zap.String("ip", sess.IP))
	sess.Start()
	sess.Serve(func(s *net.Session, buf *packet.Buffer) error {
		return rt.Dispatch(s, s.State(), buf)
	})
	Disconnect(sess, deps)
}

// Disconnect saves the player's location and takes it out of the world.
func Disconnect(sess *net.Session, deps *Deps) {
	k := world.GlobalKey(sess.Player())
	if k.IsZero() {
		return
	}
	sess.SetPlayer(0)

	sp, placed := deps.Store.Spatial.Get(k)
	if placed && sess.AccountID != 0 {
		deps.Saves.Enqueue(persist.SaveJob{
			Kind:      persist.SaveLocation,
			AccountID: sess.AccountID,
			Location:  persist.Location{Pos: sp.Pos, Dir: sp.Dir},
		})
	}

	var err error
	if placed {
		ctx, cancel := context.WithTimeout(context.Background(), stageTimeout)
		err = deps.Mesh.Send(ctx, sp.Pos.Map, mesh.Incoming{Kind: mesh.EntityLeave, Key: k})
		cancel()
	}
	if !placed || err != nil {
		// no map will remove it
		deps.Store.Remove(k)
	}
	sess.Logger().Info("玩家離線", zap.String("account", sess.AccountName), zap.Stringer("key", k), zap.Error(err))
}
