package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chatterfix/internal/ai"
	"chatterfix/internal/alerting"
	"chatterfix/internal/auth"
	"chatterfix/internal/autonomy"
	"chatterfix/internal/cache"
	"chatterfix/internal/config"
	"chatterfix/internal/events"
	"chatterfix/internal/knowledge"
	"chatterfix/internal/logs"
	"chatterfix/internal/monitor"
	"chatterfix/internal/scheduler"
	"chatterfix/internal/server"
	"chatterfix/internal/voice"
	"chatterfix/internal/websocket"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	port        int
	openBrowser bool
}

var serveFlags serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, dashboard and background loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), serveFlags)
	},
}

func init() {
	serveCmd.Flags().IntVar(&serveFlags.port, "port", 0, "listen port (overrides SERVER_PORT)")
	serveCmd.Flags().BoolVar(&serveFlags.openBrowser, "open", false, "open the dashboard in the default browser")
}

func runServe(parent context.Context, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Every log line is kept for /monitor/logs and streamed to dashboard clients
	logger := logs.NewLogger(2000, logs.INFO)
	logWriter := logs.NewWriter(os.Stdout, logger)
	log.SetOutput(logWriter)

	log.Println("╔════════════════════════════════════════════════════════════════╗")
	log.Println("║              ChatterFix - Maintenance Management               ║")
	log.Println("║      Work Orders • Assets • Parts • Monitoring • AI Assist     ║")
	log.Println("╚════════════════════════════════════════════════════════════════╝")

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if opts.port > 0 {
		cfg := settings.GetSettings()
		cfg.ServerPort = opts.port
		if err := settings.UpdateSettings(cfg); err != nil {
			return err
		}
	}
	cfg := settings.GetSettings()
	log.Println("✅ Configuration loaded successfully")

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer st.Close()
	log.Printf("✅ Database ready (%s)", st.Driver())

	readCache := openCache(ctx, cfg.Cache)
	defer readCache.Close()

	bus := events.NewBus(200)

	hub := websocket.NewHub(cfg.HTTP.CORSOrigins)
	logWriter.SetSink(hub.BroadcastLog)
	bus.Subscribe(hub)

	alerts := alerting.NewSystem(500)
	for _, rule := range alerting.DefaultRules() {
		alerts.RegisterRule(rule)
	}
	alerts.RegisterHandler(func(alert alerting.Alert) {
		hub.Broadcast("alert", alert)
	})
	bus.Subscribe(alerts)
	log.Printf("✅ Alerting ready with %d rules", len(alerts.Rules()))

	if cfg.Events.EnableKafka {
		producer := events.NewKafkaProducer(events.KafkaConfig{
			Brokers: cfg.Events.KafkaBrokers,
			Topic:   cfg.Events.KafkaTopic,
			Async:   true,
		})
		defer producer.Close()
		bus.Subscribe(producer)
		log.Printf("✅ Streaming events to Kafka topic %s", cfg.Events.KafkaTopic)
	}

	index, err := knowledge.New(knowledge.Options{
		Dir:      filepath.Join(cfg.DataDir, "knowledge"),
		Persist:  cfg.Knowledge.Persist,
		Compress: cfg.Knowledge.Compress,
	}, st)
	if err != nil {
		log.Printf("⚠️  Knowledge index unavailable: %v", err)
		index = nil
	} else {
		bus.Subscribe(index)
		go func() {
			if _, err := index.Rebuild(ctx); err != nil {
				log.Printf("⚠️  Knowledge rebuild failed: %v", err)
			}
		}()
	}

	mon := monitor.NewMonitor(cfg.Monitor, bus, logger)
	sched := scheduler.New(cfg.Scheduler, st, bus)
	engine := autonomy.NewEngine(cfg.Autonomy, st, mon, bus)
	assistant := ai.NewService(ctx, cfg.AI)
	defer func() {
		if err := assistant.Close(); err != nil {
			log.Printf("⚠️  Failed to close AI providers: %v", err)
		}
	}()

	authService := auth.NewService(cfg.Auth, st)
	if cfg.Auth.Enabled {
		if _, err := authService.EnsureAdmin(ctx); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	} else {
		log.Println("⚠️  Authentication is disabled; every request acts as an administrator")
	}

	settings.AddChangeListener(mon)
	settings.AddChangeListener(sched)
	settings.AddChangeListener(engine)

	hub.OnCommand("trigger_check", mon.Trigger)
	hub.OnCommand("run_schedules", sched.Trigger)

	app := &server.ChatterFix{
		Settings:     settings,
		SettingsFile: settingsFile,
		Store:        st,
		Cache:        readCache,
		Bus:          bus,
		Hub:          hub,
		Logger:       logger,
		Monitor:      mon,
		Alerts:       alerts,
		AI:           assistant,
		Voice:        voice.NewProcessor(st, bus),
		Autonomy:     engine,
		Scheduler:    sched,
		Knowledge:    index,
		Auth:         authService,
		Version:      Version,
	}

	// Loops idle while disabled so PUT /api/v1/settings can switch them on
	go mon.Start(ctx)
	go sched.Start(ctx)
	go engine.Start(ctx)

	printStartupBanner(cfg)

	if opts.openBrowser {
		go func() {
			time.Sleep(2 * time.Second)
			openDashboardInBrowser(cfg.ServerPort)
		}()
	}

	err = server.Start(ctx, app)
	log.Println("👋 ChatterFix stopped")
	return err
}

// openCache prefers Redis and falls back to the in-process cache
func openCache(ctx context.Context, cfg config.CacheConfig) cache.Cache {
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL)
		if err == nil {
			log.Println("✅ Using Redis read cache")
			return rc
		}
		log.Printf("⚠️  Redis unavailable, using in-memory cache: %v", err)
	}
	return cache.NewMemoryCache(time.Minute)
}

// printStartupBanner prints the startup information banner
func printStartupBanner(cfg *config.Config) {
	log.Println("╔════════════════════════════════════════════════════════════════╗")
	log.Println("║                    🚀 Starting ChatterFix 🚀                   ║")
	log.Printf("║  🗄️  Database: %s", cfg.Database.Driver)
	log.Printf("║  🩺 Monitored services: %d", len(cfg.Monitor.Targets))
	log.Printf("║  🤖 Autonomy mode: %s (min trust %.2f)", cfg.Autonomy.Mode, cfg.Autonomy.MinTrust)
	log.Printf("║  🌐 Server: http://localhost:%d", cfg.ServerPort)
	log.Printf("║  📊 Dashboard: http://localhost:%d", cfg.ServerPort)
	log.Printf("║  🔗 WebSocket: ws://localhost:%d/ws", cfg.ServerPort)
	log.Println("╚════════════════════════════════════════════════════════════════╝")
}

// openDashboardInBrowser opens the dashboard URL in the default web browser
func openDashboardInBrowser(port int) {
	if os.Getenv("CI") != "" || os.Getenv("DOCKER_ENV") != "" {
		return
	}

	dashboardURL := os.Getenv("DASHBOARD_URL")
	if dashboardURL == "" {
		dashboardURL = fmt.Sprintf("http://localhost:%d", port)
	}

	log.Printf("🚀 Opening dashboard in your browser: %s", dashboardURL)
	if err := browser.OpenURL(dashboardURL); err != nil {
		log.Printf("⚠️  Could not open browser: %v", err)
	}
}
