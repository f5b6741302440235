package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"netzwaechter/config"
	"netzwaechter/internal/api"
	"netzwaechter/internal/collector"
	"netzwaechter/internal/dashboard"
	"netzwaechter/internal/energy"
	"netzwaechter/internal/meter"
	"netzwaechter/internal/mqtt"
	"netzwaechter/internal/settings"
	"netzwaechter/internal/storage"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "netzwaechter",
		Short: "Energy data and dashboard service",
		Long:  "Aggregates monthly meter consumption from the external and local stores and composes the Grafana dashboard tabs of each object",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(tabsCmd())
	rootCmd.AddCommand(testSourceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stack is the wiring shared by all commands.
type stack struct {
	cfg        *config.Config
	db         *storage.Database
	settings   *settings.Reader
	aggregator *energy.Aggregator
	scheme     meter.Scheme
}

func setup() (*stack, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg.Log)

	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.WithField("path", cfg.Database.Path).Debug("Database opened")

	reader := settings.NewReader(db, settings.Defaults{
		BaseURL:       cfg.Grafana.BaseURL,
		DashboardPath: cfg.Grafana.Dashboard,
		TimeParams:    cfg.Grafana.TimeParams,
	})

	overrides, err := loadOverrides(cfg.Overrides)
	if err != nil {
		db.Close()
		return nil, err
	}

	scheme := meter.DefaultScheme()
	resolver := energy.NewResolver(energy.ResolverConfig{
		Sources:     reader,
		Local:       db,
		Synthetic:   cfg.Energy.SyntheticFallback,
		DemoObjects: cfg.Energy.DemoObjects,
	})
	aggregator := energy.NewAggregator(energy.AggregatorConfig{
		Resolver:     resolver,
		Overrides:    overrides,
		Scheme:       scheme,
		Workers:      cfg.Energy.Workers,
		MeterTimeout: cfg.Energy.MeterTimeout,
	})

	return &stack{cfg: cfg, db: db, settings: reader, aggregator: aggregator, scheme: scheme}, nil
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("level", cfg.Level).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	if verbose {
		level = log.DebugLevel
	}
	log.SetLevel(level)
}

func loadOverrides(cfg config.OverridesConfig) (energy.Overrides, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	overrides := energy.LegacyOverrides()
	if cfg.File == "" {
		return overrides, nil
	}
	fromFile, err := energy.LoadOverrides(cfg.File)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"file": cfg.File, "objects": len(fromFile)}).Info("Loaded meter overrides")
	return overrides.Merge(fromFile), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the service",
		Long:  "Start the API server, the collector and the MQTT publisher",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := setup()
			if err != nil {
				return err
			}
			defer st.db.Close()
			cfg := st.cfg

			collCfg := collector.CollectorConfig{
				Aggregator: st.aggregator,
				Objects:    st.db,
				Interval:   cfg.Collector.Interval,
				Enabled:    cfg.Collector.Enabled,
				ObjectIDs:  cfg.Collector.Objects,
				TimeRange:  cfg.Collector.TimeRange,
			}

			publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
				Broker:      cfg.MQTT.Broker,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				Enabled:     cfg.MQTT.Enabled,
			})
			if err != nil {
				log.WithError(err).Warn("MQTT connection failed")
			} else {
				defer publisher.Close()
				if cfg.MQTT.Enabled {
					log.WithField("broker", cfg.MQTT.Broker).Info("MQTT connected")
					collCfg.Publisher = publisher
				}
			}

			coll := collector.NewCollector(collCfg)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				if err := coll.Start(ctx); err != nil {
					log.WithError(err).Error("Collector error")
				}
			}()

			var server *api.Server
			if cfg.API.Enabled {
				server = api.NewServer(api.ServerConfig{
					Port:         cfg.API.Port,
					Collector:    coll,
					Objects:      st.db,
					Readings:     st.db,
					Settings:     st.settings,
					Aggregator:   st.aggregator,
					Scheme:       st.scheme,
					DefaultLimit: cfg.Energy.DefaultLimit,
				})

				go func() {
					if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.WithError(err).Error("API server error")
					}
				}()
			}

			log.Info("Netzwaechter started. Press Ctrl+C to stop.")

			<-sigChan
			log.Info("Shutting down...")
			cancel()

			if server != nil {
				shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				if err := server.Stop(shutdownCtx); err != nil {
					log.WithError(err).Warn("API server shutdown failed")
				}
			}
			return nil
		},
	}
}

func fetchCmd() *cobra.Command {
	var timeRange string

	cmd := &cobra.Command{
		Use:   "fetch <objectId>",
		Short: "Fetch the monthly series of every meter of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objectID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid object id %q", args[0])
			}

			st, err := setup()
			if err != nil {
				return err
			}
			defer st.db.Close()

			ctx := cmd.Context()
			m, err := st.db.ObjectMeters(ctx, objectID)
			if err != nil {
				log.WithError(err).Warn("No stored meters, relying on overrides")
			}

			series, err := st.aggregator.FetchAllMeters(ctx, objectID, m, timeRange)
			if err != nil {
				return fmt.Errorf("failed to fetch meters: %w", err)
			}

			output, _ := json.MarshalIndent(series, "", "  ")
			fmt.Println(string(output))
			return nil
		},
	}
	cmd.Flags().StringVarP(&timeRange, "time-range", "t", "now-1y", "time range token")
	return cmd
}

func tabsCmd() *cobra.Command {
	var (
		timeRange string
		panelID   int
	)

	cmd := &cobra.Command{
		Use:   "tabs <objectId>",
		Short: "Print the dashboard tabs of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objectID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid object id %q", args[0])
			}

			st, err := setup()
			if err != nil {
				return err
			}
			defer st.db.Close()

			ctx := cmd.Context()
			m, err := st.db.ObjectMeters(ctx, objectID)
			if err != nil {
				return err
			}
			dcfg, err := st.settings.Dashboard(ctx)
			if err != nil {
				return fmt.Errorf("failed to load dashboard settings: %w", err)
			}

			view := dashboard.NewView(dashboard.NewComposer(dcfg, st.scheme))
			view.SetObject(objectID, m)
			if panelID > 0 {
				view.SelectPanel(panelID)
			}
			view.SetTimeRange(timeRange)

			state := view.State()
			fmt.Printf("Object %d: %s layout, %d tabs\n", objectID, state.Mode, len(state.Tabs))
			if state.Reason != "" {
				fmt.Printf("  %s\n", state.Reason)
			}
			for _, tab := range state.Tabs {
				fmt.Printf("\n[%s] %s (panel %d)\n", tab.ID, tab.Label, tab.PanelID)
				for i, p := range tab.Panels {
					fmt.Printf("  %-28s %s\n", p.OriginalID, tab.Meters[i].Name)
					fmt.Printf("    %s\n", p.URL)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&timeRange, "time-range", "t", dashboard.DefaultTimeRange, "time range")
	cmd.Flags().IntVarP(&panelID, "panel", "p", 0, "diagram panel id")
	return cmd
}

func testSourceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-source",
		Short: "Test the connection to the external energy database",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := setup()
			if err != nil {
				return err
			}
			defer st.db.Close()

			ctx := cmd.Context()
			src, err := st.settings.DataSource(ctx)
			if err != nil {
				return fmt.Errorf("failed to read source settings: %w", err)
			}
			if src == nil {
				fmt.Println("No external source configured, the local store is used.")
				return nil
			}

			fmt.Printf("Testing connection to %s:%d/%s (table %s)...\n", src.Host, src.Port, src.Database, src.Table)

			timeout := src.ConnectionTimeout
			if timeout <= 0 {
				timeout = settings.DefaultTimeout
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			db, err := energy.OpenPostgres(ctx, *src)
			if err != nil {
				fmt.Printf("Connection FAILED: %v\n", err)
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			if !storage.ValidTable(src.Table) {
				return fmt.Errorf("invalid table name %q", src.Table)
			}
			var rows []storage.MonthlyReading
			if err := db.WithContext(ctx).Table(src.Table).Order("_time desc").Limit(1).Find(&rows).Error; err != nil {
				fmt.Printf("Query FAILED: %v\n", err)
				return err
			}

			fmt.Println("Connection SUCCESS!")
			if len(rows) > 0 {
				fmt.Printf("  Latest row: meter %d, %s\n", rows[0].MeterID, rows[0].Time.Format("01.2006"))
			}
			return nil
		},
	}
}
