package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Cardanoian/discussion-server/internal/battle"
	"github.com/Cardanoian/discussion-server/internal/config"
	"github.com/Cardanoian/discussion-server/internal/core"
	"github.com/Cardanoian/discussion-server/internal/judge"
	"github.com/Cardanoian/discussion-server/internal/room"
	"github.com/Cardanoian/discussion-server/internal/storage"
	"github.com/Cardanoian/discussion-server/internal/ws"
	"github.com/Cardanoian/discussion-server/web/handlers"
)

var (
	configPath string
	dbPath     string
	portFlag   int
	debugFlag  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "discussion-server",
	Short: "Real-time debate match server",
	Long: `discussion-server coordinates two-player structured debates moderated by an
AI judge and an optional human referee. Clients speak a named-event protocol
over WebSocket; finished matches are persisted with Elo updates.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ~/.discussion-server/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: ~/.discussion-server/discussion.db)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(subjectsCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = config.DefaultDBPath()
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	return cfg, nil
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Store.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the match server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "Listen port (overrides config)")
	serveCmd.Flags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debugFlag {
		opts.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, opts)))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("initializing storage", "path", cfg.Store.DBPath)
	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	judgeClient := judge.NewHTTPClient(judge.Config{
		URL:     cfg.Judge.URL,
		APIKey:  cfg.Judge.APIKey,
		Model:   cfg.Judge.Model,
		Timeout: cfg.Judge.Timeout,
	})
	if cfg.Judge.APIKey == "" {
		slog.Warn("no judge API key configured; evaluations will fail")
	}

	sessions := room.NewSessions()
	deduper := room.NewDeduper(0)
	gateway := handlers.NewGateway(store, sessions, deduper)
	hub := ws.NewHub(gateway.HandleEvent, gateway.HandleDisconnect)

	engine := battle.NewEngine(battle.EngineParams{
		Store:   store,
		Judge:   judgeClient,
		Emitter: gateway,
		Clock:   core.SystemClock{},
		Limits: battle.Limits{
			RoundLimitMs:    cfg.Battle.RoundLimitMs,
			TotalLimitMs:    cfg.Battle.TotalLimitMs,
			OvertimeLimitMs: cfg.Battle.OvertimeLimitMs,
			PenaltyStep:     cfg.Battle.PenaltyStep,
			PenaltyMax:      cfg.Battle.PenaltyMax,
		},
	})
	registry := room.NewRegistry(store, engine, gateway, cfg.Battle.SettleDelay)
	gateway.Attach(hub, registry, engine)

	h := handlers.New(gateway, hub, store, registry, cfg.Server.AllowedOrigins)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: h.Router(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down...")
		server.Close()
	}()

	slog.Info("starting discussion server", "addr", addr, "origins", cfg.Server.AllowedOrigins)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "Manage debate subjects",
}

var subjectsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the built-in subject list into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		inserted := 0
		for _, subject := range storage.BuiltinSubjects() {
			if err := store.InsertSubject(subject); err != nil {
				// Re-seeding over existing rows is fine.
				continue
			}
			inserted++
		}
		fmt.Printf("Seeded %d subjects.\n", inserted)
		return nil
	},
}

var subjectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subjects in the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		subjects, err := store.ListSubjects()
		if err != nil {
			return err
		}
		if len(subjects) == 0 {
			fmt.Println("No subjects found. Run 'discussion-server subjects seed' first.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE")
		for _, subject := range subjects {
			fmt.Fprintf(w, "%s\t%s\n", subject.ID, subject.Title)
		}
		return w.Flush()
	},
}

func init() {
	subjectsCmd.AddCommand(subjectsSeedCmd)
	subjectsCmd.AddCommand(subjectsListCmd)
}
