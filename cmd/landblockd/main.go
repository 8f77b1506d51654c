package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/l1jgo/landblock/internal/config"
	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/core/event"
	coresys "github.com/l1jgo/landblock/internal/core/system"
	"github.com/l1jgo/landblock/internal/data"
	"github.com/l1jgo/landblock/internal/entity"
	"github.com/l1jgo/landblock/internal/landblock"
	"github.com/l1jgo/landblock/internal/persist"
	"github.com/l1jgo/landblock/internal/physics"
	"github.com/l1jgo/landblock/internal/scripting"
	"github.com/l1jgo/landblock/internal/system"
	"github.com/l1jgo/landblock/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
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
	fmt.Println("\033[36;1m  │\033[0m             landblockd  v0.1.0            \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(id: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	lineLen := max(46-len(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-len(label)-len(numStr), 3)
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
	if p := os.Getenv("LANDBLOCKD_CONFIG"); p != "" {
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

	// 3. Open world storage
	printSection("storage")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	ids := ecs.NewEntityPool()
	maxIndex, err := store.MaxGUIDIndex(ctx)
	if err != nil {
		return fmt.Errorf("max guid: %w", err)
	}
	ids.SkipTo(maxIndex)
	printOK(fmt.Sprintf("%s ready, guids above %d", cfg.Database.Driver, maxIndex))
	fmt.Println()

	// 4. Load static data
	printSection("data")
	templates, err := data.LoadTemplateTable(filepath.Join(cfg.Server.DataDir, "template_list.yaml"))
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	printStat("object templates", templates.Count())

	landblocks, err := data.LoadLandblockTable(filepath.Join(cfg.Server.DataDir, "landblock_list.yaml"))
	if err != nil {
		return fmt.Errorf("landblocks: %w", err)
	}
	printStat("landblock entries", landblocks.Count())

	ai, err := scripting.NewPool(cfg.Scripting.Dir, cfg.Scripting.PoolSize, log)
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	defer ai.Close()
	printStat("lua engines", ai.Size())
	fmt.Println()

	// 5. Wire the world
	bus := event.NewBus()
	dir := ecs.NewDirectory[landblock.ID]()
	phys := physics.NewEngine(cfg.Physics.CellCapacity, physics.WithLogger(log.Named("physics")))
	saver := persist.NewSaver(store, cfg.Storage.QueueSize, cfg.Storage.SaveTimeout, log.Named("saver"))
	factory := entity.NewFactory(entity.Env{
		Templates: templates,
		IDs:       ids,
		Directory: dir,
		AI:        ai,
		Seed:      rand.Uint64(),
		Log:       log.Named("entity"),
	})
	mgr := world.NewManager(world.Config{
		World:       cfg.World,
		LoadTimeout: cfg.Storage.LoadTimeout,
	}, world.Deps{
		Store:      store,
		Saver:      saver,
		Physics:    phys,
		Factory:    factory,
		Landblocks: landblocks,
		Bus:        bus,
		Directory:  dir,
		Log:        log.Named("world"),
	})

	runner := coresys.NewRunner(log.Named("systems"), cfg.World.SlowTick)
	runner.Register(system.NewDispatchSystem(bus))
	runner.Register(system.NewCleanupSystem(mgr, time.Now, log))
	reportTicks := int(time.Minute / cfg.Server.TickRate)
	runner.Register(system.NewPersistenceSystem(saver, mgr, log, reportTicks))

	printSection("world")
	if err := mgr.Preload(cfg.World.Preload); err != nil {
		return fmt.Errorf("preload: %w", err)
	}
	printStat("landblocks loading", mgr.Loaded())
	fmt.Println()

	// 6. Start tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Server.TickRate)
	defer ticker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("tick loop started (tick: %s)", cfg.Server.TickRate))
	fmt.Println()

	tickCtx, stopTicks := context.WithCancel(context.Background())
	defer stopTicks()

	for {
		select {
		case now := <-ticker.C:
			if err := mgr.Tick(tickCtx, now, runner); err != nil {
				log.Error("tick failed", zap.Error(err))
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			stopTicks()
			return shutdown(mgr, saver, log)
		}
	}
}

// shutdown saves every loaded landblock and waits for the saver to drain.
func shutdown(mgr *world.Manager, saver *persist.Saver, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		return fmt.Errorf("world shutdown: %w", err)
	}
	st := saver.Stats()
	log.Info("server stopped",
		zap.Uint64("saved_records", st.Records),
		zap.Uint64("failed_batches", st.Failed),
	)
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (persist.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		s, err := persist.OpenSQLite(ctx, cfg.Database.Path, cfg.Storage.Compress, log.Named("sqlite"))
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		printOK(fmt.Sprintf("sqlite opened at %s", cfg.Database.Path))
		return s, nil
	default:
		s, err := persist.NewPostgresStore(ctx, cfg.Database, cfg.Storage.Compress, log.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		printOK("postgres connected")
		if err := persist.RunMigrations(ctx, s.Pool); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")
		return s, nil
	}
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
