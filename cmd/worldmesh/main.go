package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/data"
	"github.com/l1jgo/worldmesh/internal/handler"
	"github.com/l1jgo/worldmesh/internal/mesh"
	gonet "github.com/l1jgo/worldmesh/internal/net"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/persist"
	"github.com/l1jgo/worldmesh/internal/system"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             worldmesh  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m          地圖網格 · Go 遊戲伺服器         \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(編號: %d)\033[0m\n\n", serverName, serverID)
}

// displayWidth counts CJK runes as two columns.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if r > 0x7F {
			w += 2
		} else {
			w++
		}
	}
	return w
}

func printSection(title string) {
	lineLen := max(46-displayWidth(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-displayWidth(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("WORLDMESH_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Database and migrations
	printSection("資料庫")

	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := persist.Open(bootCtx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK(fmt.Sprintf("%s 連線成功", cfg.Database.Driver))

	if err := persist.RunMigrations(bootCtx, db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("資料庫遷移完成")
	fmt.Println()

	// 4. Static data
	printSection("資料載入")

	maps, err := data.LoadMaps(cfg.World.MapDir, cfg.World.MapWidth, cfg.World.MapHeight, log)
	if err != nil {
		return fmt.Errorf("load maps: %w", err)
	}
	printStat("地圖", maps.Count())

	npcs, err := data.LoadNpcTable(cfg.World.NpcFile)
	if err != nil {
		return fmt.Errorf("load npc table: %w", err)
	}
	printStat("NPC 模板", npcs.Count())
	fmt.Println()

	// 5. World core. Map actors and the saver outlive the front end so
	// departing players still reach their map and get saved.
	store := world.NewStore()
	dir := mesh.NewDirectory(log)

	mapsCtx, stopMaps := context.WithCancel(context.Background())
	defer stopMaps()
	spawner := system.NewMapSpawner(mapsCtx, system.Deps{
		Config: cfg,
		Store:  store,
		Maps:   maps,
		Npcs:   npcs,
		Log:    log,
	}, dir)

	spawn := world.MapPosition{X: cfg.World.SpawnMapX, Y: cfg.World.SpawnMapY, Group: cfg.World.SpawnGroup}
	if !dir.Wake(spawn) {
		log.Warn("出生地圖無法啟動", zap.Stringer("map", spawn))
	}

	repos := persist.NewRepos(db)
	saver, err := persist.NewSaver(repos, store, cfg.Persist, log)
	if err != nil {
		return fmt.Errorf("saver: %w", err)
	}
	saveCtx, stopSaver := context.WithCancel(context.Background())
	defer stopSaver()
	saverDone := make(chan error, 1)
	go func() { saverDone <- saver.Run(saveCtx) }()

	clock := system.NewClock(cfg.Clock, dir, log)

	// 6. Network
	printSection("網路")

	relay := gonet.NewRelay(cfg, log)
	opts := gonet.OptionsFromConfig(cfg)

	srv, err := gonet.NewServer(cfg.Network.BindAddress, opts, relay.Intake(), log)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Network.BindAddress, err)
	}
	printOK(fmt.Sprintf("TCP 監聽 %s", srv.Addr()))

	var ws *gonet.WSServer
	if cfg.Network.WSBindAddress != "" {
		ws, err = gonet.NewWSServer(cfg.Network.WSBindAddress, opts, relay.Intake(), log)
		if err != nil {
			srv.Shutdown()
			return fmt.Errorf("listen ws %s: %w", cfg.Network.WSBindAddress, err)
		}
		printOK(fmt.Sprintf("WebSocket 監聽 %s", ws.Addr()))
	}

	deps := &handler.Deps{
		Config: cfg,
		Store:  store,
		Mesh:   dir,
		Repos:  repos,
		Saves:  saver,
		Log:    log,
	}
	rt := packet.NewRouter(log)
	handler.RegisterAll(rt, deps)
	fmt.Println()
	printReady("伺服器已就緒")
	fmt.Println()

	// 7. Serve until a signal or a fatal component error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return clock.Run(gctx) })
	g.Go(func() error { return handler.Accept(gctx, relay.Ready(), rt, deps) })
	g.Go(srv.AcceptLoop)
	g.Go(func() error {
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})
	if ws != nil {
		g.Go(ws.Serve)
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ws.Shutdown(shutCtx)
		})
	}

	errs := g.Wait()
	log.Info("正在關閉伺服器...", zap.Error(ctx.Err()))

	// 8. Shutdown: maps, then saves
	stopMaps()
	errs = multierr.Append(errs, spawner.Wait())
	stopSaver()
	errs = multierr.Append(errs, <-saverDone)

	if errors.Is(errs, context.Canceled) && len(multierr.Errors(errs)) == 1 {
		errs = nil
	}
	if errs != nil {
		log.Error("關閉時發生錯誤", zap.Error(errs))
		return errs
	}
	log.Info("伺服器已關閉")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
