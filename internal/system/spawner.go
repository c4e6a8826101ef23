package system

import (
	"context"

	"github.com/l1jgo/worldmesh/internal/mesh"
	"github.com/l1jgo/worldmesh/internal/scripting"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MapSpawner wakes map actors on demand for the directory. Every actor runs
// in the spawner's errgroup.
type MapSpawner struct {
	deps Deps
	dir  *mesh.Directory
	ctx  context.Context
	g    *errgroup.Group
	log  *zap.Logger
}

// NewMapSpawner wires deps to dir and installs itself as dir's spawner.
// deps.Mesh and deps.Retirer default to dir.
func NewMapSpawner(ctx context.Context, deps Deps, dir *mesh.Directory) *MapSpawner {
	if deps.Mesh == nil {
		deps.Mesh = dir
	}
	if deps.Retirer == nil {
		deps.Retirer = dir
	}
	g, gctx := errgroup.WithContext(ctx)
	s := &MapSpawner{
		deps: deps,
		dir:  dir,
		ctx:  gctx,
		g:    g,
		log:  deps.Log,
	}
	dir.SetSpawner(s)
	return s
}

// SpawnMap implements mesh.Spawner.
func (s *MapSpawner) SpawnMap(pos world.MapPosition) bool {
	rec, ok := s.deps.Maps.Get(pos)
	if !ok || s.ctx.Err() != nil {
		return false
	}
	inbox := make(chan mesh.Incoming, s.deps.Config.World.InboxSize)
	if err := s.dir.Register(pos, inbox); err != nil {
		return s.dir.Lookup(pos)
	}

	lua, err := scripting.NewEngine(s.deps.Config.World.ScriptsDir, s.log)
	if err != nil {
		s.log.Warn("lua 腳本載入失敗，改用內建規則", zap.Stringer("map", pos), zap.Error(err))
		lua = nil
	}
	actor := NewMapActor(s.deps, rec, inbox, lua)
	s.g.Go(func() error { return actor.Run(s.ctx) })
	return true
}

// WakeAll starts every known map. Used when maps should not load lazily.
func (s *MapSpawner) WakeAll() int {
	n := 0
	for _, pos := range s.deps.Maps.Positions() {
		if s.dir.Wake(pos) {
			n++
		}
	}
	return n
}

// Wait blocks until every actor has returned.
func (s *MapSpawner) Wait() error {
	return s.g.Wait()
}
