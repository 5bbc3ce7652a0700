package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l1jgo/worldcore/internal/config"
	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/handle"
	coresys "github.com/l1jgo/worldcore/internal/core/system"
	"github.com/l1jgo/worldcore/internal/persist"
	"github.com/l1jgo/worldcore/internal/scene"
	"github.com/l1jgo/worldcore/internal/scripting"
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

func printBanner(cfgPath string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             worldsim  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mconfig:\033[0m %s\n\n", cfgPath)
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

// ── Simulation driver ─────────────────────────────────────────────

func run() error {
	flagConfig := flag.String("config", "config/worldsim.toml", "config file")
	flagSnapshot := flag.String("restore", "", "restore the named database snapshot instead of the scene file")
	flag.Parse()

	// 1. Load config
	cfgPath := config.Path(*flagConfig)
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

	printBanner(cfgPath)

	// 3. Optional database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var st *store
	if cfg.Database.Enabled {
		printSection("database")
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		version, err := db.RunMigrations(ctx)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK(fmt.Sprintf("schema at version %d", version))
		st = &store{
			snapshots: persist.NewSnapshotRepo(db),
			journal:   persist.NewJournalRepo(db),
			name:      cfg.Database.SnapshotName,
			log:       log,
		}
		fmt.Println()
	}

	// 4. World
	var sched coresys.Scheduler = coresys.NewPool(cfg.World.Workers)
	if cfg.World.Scheduler == "serial" {
		sched = coresys.Serial{}
	}
	w := ecs.New(ecs.Config{
		Log:              log.Named("world"),
		InitialObjects:   cfg.World.InitialObjects,
		ChunkSize:        cfg.World.ChunkSize,
		MaxChunksPerKind: cfg.World.MaxChunksPerKind,
		Debug:            cfg.World.Debug,
		Scheduler:        sched,
	})
	defer func() {
		if err := w.Close(); err != nil {
			log.Warn("world close", zap.Error(err))
		}
	}()
	w.SetSimulating(cfg.Tick.StartSimulating)
	if st != nil {
		st.recorder = persist.NewRecorder(w)
	}

	if cfg.Scripting.Enabled {
		scripting.Register(cfg.Scripting.Dir)
		rt, err := scripting.Attach(w)
		if err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		printOK(fmt.Sprintf("lua scripts loaded (%d)", len(rt.Loaded())))
	}

	// 5. Scene or snapshot
	printSection("content")
	loader := scene.NewLoader(log.Named("scene"))
	f, err := loadContent(ctx, cfg, st, *flagSnapshot)
	if err != nil {
		return err
	}
	sceneName := f.Name
	if err := w.Update(func(ws *ecs.WriteScope) error {
		_, err := loader.Spawn(ws, f)
		return err
	}); err != nil {
		return err
	}
	rs := w.Read()
	printStat("objects", rs.ObjectCount())
	for _, k := range ecs.Kinds() {
		if n := countKind(rs, k); n > 0 {
			printStat(k.Name(), n)
		}
	}
	rs.Release()
	fmt.Println()

	// 6. Runner: the world's own phases plus the driver's systems
	runner := coresys.NewRunner()
	for _, s := range w.Systems() {
		runner.Register(s)
	}
	runner.Register(newPingSystem(w, cfg.Tick.Rate))

	// 7. Tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Tick.Rate)
	defer ticker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("tick loop started (rate: %s, simulating: %v)", cfg.Tick.Rate, w.Simulating()))
	fmt.Println()

	loopCtx, stop := context.WithCancel(context.Background())
	defer stop()

	const (
		journalInterval  = 100  // ticks
		autosaveInterval = 1200 // ticks
	)
	for {
		select {
		case <-ticker.C:
			if err := runner.Tick(loopCtx, cfg.Tick.Rate); err != nil {
				log.Error("tick failed", zap.Uint64("tick", w.TickCount()), zap.Error(err))
			} else if stats := runner.Stats(); stats.Last > cfg.Tick.Rate {
				log.Warn("tick overran", zap.Duration("took", stats.Last), zap.Duration("rate", cfg.Tick.Rate))
			}
			tick := w.TickCount()
			if st != nil {
				if tick%autosaveInterval == 0 {
					st.save(loopCtx, w, loader)
				} else if tick%journalInterval == 0 {
					st.flush(loopCtx)
				}
			}
			if cfg.Tick.MaxTicks > 0 && tick >= cfg.Tick.MaxTicks {
				log.Info("tick limit reached", zap.Uint64("ticks", tick))
				return shutdown(w, loader, st, sceneName, cfg, log)
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal", zap.String("signal", sig.String()))
			return shutdown(w, loader, st, sceneName, cfg, log)
		}
	}
}

func loadContent(ctx context.Context, cfg *config.Config, st *store, restore string) (*scene.File, error) {
	if restore != "" {
		if st == nil {
			return nil, errors.New("restore needs [database] enabled = true")
		}
		f, tick, err := st.snapshots.Load(ctx, restore)
		if err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
		printOK(fmt.Sprintf("snapshot %q restored (tick %d)", restore, tick))
		return f, nil
	}
	f, err := scene.LoadFile(cfg.Scene.Path)
	if err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	printOK(fmt.Sprintf("scene %q loaded", f.Name))
	return f, nil
}

func countKind(s ecs.Scope, k ecs.KindInfo) int {
	n := 0
	for obj := range s.Objects() {
		for _, c := range s.Components(obj) {
			if c.Kind() == k.ID() {
				n++
			}
		}
	}
	return n
}

func shutdown(w *ecs.World, loader *scene.Loader, st *store, sceneName string, cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if st != nil {
		st.save(ctx, w, loader)
	}
	if cfg.Scene.SaveTo != "" {
		rs := w.Read()
		f, err := loader.Capture(rs, sceneName)
		rs.Release()
		if err != nil {
			return fmt.Errorf("capture scene: %w", err)
		}
		if err := f.SaveFile(cfg.Scene.SaveTo); err != nil {
			return err
		}
		log.Info("scene saved", zap.String("path", cfg.Scene.SaveTo), zap.Int("objects", len(f.Objects)))
	}
	log.Info("worldsim stopped", zap.Uint64("ticks", w.TickCount()))
	return nil
}

// store groups the database-backed persistence of one run: periodic
// snapshots plus the journal of structural changes between them.
type store struct {
	snapshots *persist.SnapshotRepo
	journal   *persist.JournalRepo
	recorder  *persist.Recorder
	name      string
	log       *zap.Logger
}

func (st *store) flush(ctx context.Context) {
	if err := st.recorder.Flush(ctx, st.journal); err != nil {
		st.log.Warn("journal flush", zap.Int("pending", st.recorder.Pending()), zap.Error(err))
	}
}

// save writes a snapshot. The journal up to its tick is marked covered by a
// later flush, once the snapshot tick's own changes have been recorded.
func (st *store) save(ctx context.Context, w *ecs.World, loader *scene.Loader) {
	st.flush(ctx)
	rs := w.Read()
	tick := w.TickCount()
	f, err := loader.Capture(rs, st.name)
	rs.Release()
	if err != nil {
		st.log.Error("capture snapshot", zap.Error(err))
		return
	}
	if _, err := st.snapshots.Save(ctx, st.name, tick, f); err != nil {
		st.log.Error("save snapshot", zap.String("name", st.name), zap.Error(err))
		return
	}
	st.recorder.Covered(tick)
}

// pingSystem sends a Ping to every root about once a second.
type pingSystem struct {
	w     *ecs.World
	every uint64
}

func newPingSystem(w *ecs.World, rate time.Duration) *pingSystem {
	every := uint64(time.Second / rate)
	if every == 0 {
		every = 1
	}
	return &pingSystem{w: w, every: every}
}

func (s *pingSystem) Phase() coresys.Phase { return coresys.PhaseLate }

func (s *pingSystem) Update(_ context.Context, _ time.Duration) error {
	tick := s.w.TickCount()
	if tick%s.every != 0 {
		return nil
	}
	return s.w.View(func(rs *ecs.ReadScope) error {
		var roots []handle.Handle
		for r := range rs.Roots() {
			roots = append(roots, r)
		}
		for _, r := range roots {
			ecs.Send(rs, r, Ping{Tick: tick})
		}
		return nil
	})
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
