// Command picqer-sync runs the one-way replication engine (spec §4): a
// cobra CLI exposing the scheduler's in-process entry points (spec §6) as
// subcommands, plus a "serve" mode that keeps those same entry points
// reachable over the thin admin HTTP surface (pkg/adminapi).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rene1985-stack/picqer-sync/pkg/adminapi"
	"github.com/Rene1985-stack/picqer-sync/pkg/config"
	"github.com/Rene1985-stack/picqer-sync/pkg/events"
	"github.com/Rene1985-stack/picqer-sync/pkg/log"
	"github.com/Rene1985-stack/picqer-sync/pkg/metrics"
	"github.com/Rene1985-stack/picqer-sync/pkg/ratelimiter"
	"github.com/Rene1985-stack/picqer-sync/pkg/scheduler"
	"github.com/Rene1985-stack/picqer-sync/pkg/store"
	"github.com/Rene1985-stack/picqer-sync/pkg/syncengine"
	"github.com/Rene1985-stack/picqer-sync/pkg/types"
	"github.com/Rene1985-stack/picqer-sync/pkg/vendorapi"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "picqer-sync",
	Short:   "One-way replication of a fulfillment vendor's catalog into a SQL Server warehouse",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("picqer-sync %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (spec §6 keys)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(countCmd)

	syncCmd.AddCommand(syncAllCmd)
	syncCmd.AddCommand(syncEntityCmd)
	syncCmd.AddCommand(syncRetryCmd)

	syncEntityCmd.Flags().String("mode", "incremental", "full|incremental|days_window|retry")
	syncEntityCmd.Flags().Int("days", 0, "N for days_window mode")
	syncAllCmd.Flags().Bool("full", false, "run every entity kind in full mode instead of incremental")
	serveCmd.Flags().String("addr", ":8081", "address for the admin HTTP surface (spec §6, collaborator not core)")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// loadConfig resolves --config plus PICQER_* env overrides (pkg/config).
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// wiring bundles every collaborator the scheduler needs, assembled the way
// spec §9 describes moving off a shared module-level singleton: an explicit
// pool built once in main and passed down to each component.
type wiring struct {
	cfg     config.Config
	db      *store.DB
	limiter *ratelimiter.Limiter
	broker  *events.Broker
	client  *vendorapi.Client
	engine  *syncengine.Engine
	sched   *scheduler.Scheduler
}

func buildWiring(cmd *cobra.Command) (*wiring, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := store.Open(cfg.DBDSN)
	if err != nil {
		metrics.RegisterComponent("database", false, err.Error())
		return nil, fmt.Errorf("opening database: %w", err)
	}
	metrics.RegisterComponent("database", true, "")
	if err := db.EnsureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	limiter := ratelimiter.New(ratelimiter.Config{
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxRetries:        cfg.MaxRetries,
		CoolDown:          time.Duration(cfg.RateLimitSleepMs) * time.Millisecond,
	})
	metrics.RegisterComponent("rate_limiter", true, "")
	broker := events.NewBroker()
	broker.Start()

	client := vendorapi.New(cfg.BaseURL, cfg.APIKey, limiter)
	metrics.RegisterComponent("vendor_api", true, "")
	engine := syncengine.New(client, db, db, broker, cfg)
	sched := scheduler.New(engine, db, broker)

	collector := metrics.NewCollector(db)
	collector.Start()

	return &wiring{cfg: cfg, db: db, limiter: limiter, broker: broker, client: client, engine: engine, sched: sched}, nil
}

func (w *wiring) Close() {
	w.broker.Stop()
	w.limiter.Stop()
	_ = w.db.Close()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin HTTP surface (collaborator, not core) until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := buildWiring(cmd)
		if err != nil {
			return err
		}
		defer w.Close()

		addr, _ := cmd.Flags().GetString("addr")
		admin := adminapi.New(w.sched, w.db)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info(fmt.Sprintf("starting admin HTTP surface on %s", addr))
		return admin.Start(ctx, addr)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drive syncs through the scheduler",
}

var syncAllCmd = &cobra.Command{
	Use:   "all",
	Short: "sync_all(full?): dispatch every entity kind concurrently",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := buildWiring(cmd)
		if err != nil {
			return err
		}
		defer w.Close()

		full, _ := cmd.Flags().GetBool("full")
		results := w.sched.SyncAll(context.Background(), full)
		for kind, outcome := range results {
			fmt.Printf("%s: success=%v items=%d error=%s\n", kind, outcome.Success, outcome.ItemsProcessed, outcome.Error)
		}
		return nil
	},
}

var syncEntityCmd = &cobra.Command{
	Use:   "entity <kind>",
	Short: "sync_entity(kind, mode): dispatch one entity kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := buildWiring(cmd)
		if err != nil {
			return err
		}
		defer w.Close()

		entityKind := types.EntityKind(args[0])
		modeFlag, _ := cmd.Flags().GetString("mode")
		days, _ := cmd.Flags().GetInt("days")

		outcome, err := w.sched.SyncEntity(context.Background(), entityKind, types.SyncMode(modeFlag), days)
		if err != nil {
			return err
		}
		fmt.Printf("%s: success=%v items=%d\n", outcome.EntityKind, outcome.Success, outcome.ItemsProcessed)
		return nil
	},
}

var syncRetryCmd = &cobra.Command{
	Use:   "retry <sync_id>",
	Short: "retry(sync_id): resume a failed or abandoned sync from its stored offset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := buildWiring(cmd)
		if err != nil {
			return err
		}
		defer w.Close()

		outcome, err := w.sched.Retry(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: success=%v items=%d\n", outcome.SyncID, outcome.Success, outcome.ItemsProcessed)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <kind>",
	Short: "status(kind): last_sync_date and the most recent dispatch outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := buildWiring(cmd)
		if err != nil {
			return err
		}
		defer w.Close()

		entityKind := types.EntityKind(args[0])
		lastSync, err := w.db.GetLastSyncDate(context.Background(), entityKind)
		if err != nil {
			return err
		}
		fmt.Printf("%s: last_sync_date=%s\n", entityKind, lastSync.Format("2006-01-02 15:04:05"))
		if outcome, ok := w.sched.LastResult(entityKind); ok {
			fmt.Printf("  last_outcome: success=%v items=%d\n", outcome.Success, outcome.ItemsProcessed)
		}
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count <kind>",
	Short: "count(kind): current row count of the entity's parent table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := buildWiring(cmd)
		if err != nil {
			return err
		}
		defer w.Close()

		n, err := w.db.Count(context.Background(), types.EntityKind(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}
