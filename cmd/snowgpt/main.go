package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frostlabs/snowgpt/assistant/gen"
	"github.com/frostlabs/snowgpt/assistant/handoff"
	"github.com/frostlabs/snowgpt/assistant/metrics"
	"github.com/frostlabs/snowgpt/assistant/pipeline"
	"github.com/frostlabs/snowgpt/assistant/router"
	"github.com/frostlabs/snowgpt/assistant/session"
	"github.com/frostlabs/snowgpt/internal/profile"
	"github.com/frostlabs/snowgpt/internal/version"
	"github.com/frostlabs/snowgpt/server"
	"github.com/frostlabs/snowgpt/warehouse"
)

var rootCmd = &cobra.Command{
	Use:   "snowgpt",
	Short: `A natural-language assistant for your data warehouse. Ask questions, get SQL, charts and dashboards.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Try to load .env from the current directory; missing file is fine.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Version: version.String(),
		}
		instanceProfile.FromEnv()
		if dsn := viper.GetString("warehouse-dsn"); dsn != "" {
			instanceProfile.WarehouseDSN = dsn
		}
		if db := viper.GetString("database"); db != "" {
			instanceProfile.WarehouseDatabase = db
		}
		if schema := viper.GetString("schema"); schema != "" {
			instanceProfile.WarehouseSchema = schema
		}
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}
		initLogger(instanceProfile)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		wh, err := warehouse.Open(
			instanceProfile.WarehouseDriver,
			instanceProfile.WarehouseDSN,
			instanceProfile.WarehouseDatabase,
			instanceProfile.WarehouseSchema,
		)
		if err != nil {
			slog.Error("failed to connect to warehouse", "error", err)
			os.Exit(1)
		}
		defer wh.Close()
		if err := wh.Ping(ctx); err != nil {
			slog.Error("warehouse is unreachable", "error", err, "dsn", instanceProfile.WarehouseDSN)
			os.Exit(1)
		}

		store, closeStore, err := newSessionStore(instanceProfile)
		if err != nil {
			slog.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		defer closeStore()

		genService, err := gen.NewService(&gen.Config{
			Provider: instanceProfile.LLMProvider,
			Model:    instanceProfile.LLMModel,
			APIKey:   instanceProfile.LLMAPIKey,
			BaseURL:  instanceProfile.LLMBaseURL,
			Timeout:  instanceProfile.LLMTimeout,
		})
		if err != nil {
			slog.Error("failed to create generation service", "error", err)
			os.Exit(1)
		}

		exporter := metrics.NewExporter(metrics.DefaultConfig())

		chartPipe := pipeline.NewChartPipeline(genService)
		sqlPipe := pipeline.NewSQLPipeline(genService, wh, chartPipe, pipeline.SQLConfig{
			ValidatorEnabled: instanceProfile.ValidatorEnabled,
			ForceValidator:   instanceProfile.ForceValidator,
			MaxRetries:       instanceProfile.MaxQueryRetries,
		}, exporter)
		dashPipe := pipeline.NewDashboardPipeline(genService, wh, chartPipe, instanceProfile.PanelParallelism, exporter)

		machine := handoff.NewMachine(handoff.Config{
			Router:          router.New(genService, router.KeywordConfirm(instanceProfile.ConfirmKeywords)),
			SQLPipeline:     sqlPipe,
			DashPipeline:    dashPipe,
			Store:           store,
			DataContext:     wh,
			Metrics:         exporter,
			MaxClarifyTurns: instanceProfile.MaxClarifyTurns,
		})

		srv := server.NewServer(instanceProfile, machine, store, wh, exporter)

		c := make(chan os.Signal, 1)
		// SIGTERM is what most process managers send for graceful shutdown.
		signal.Notify(c, terminationSignals...)
		go func() {
			<-c
			cancel()
		}()

		printGreetings(instanceProfile)
		if err := srv.Start(ctx); err != nil {
			slog.Error("server exited with error", "error", err)
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version.StringFull())
	},
}

// initLogger selects the slog handler: JSON in prod, text with debug
// level elsewhere.
func initLogger(p *profile.Profile) {
	if p.IsDev() {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

func newSessionStore(p *profile.Profile) (session.Store, func(), error) {
	switch p.SessionDriver {
	case "sqlite":
		s, err := session.NewSQLiteStore(p.SessionDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return session.NewMemoryStore(), func() {}, nil
	}
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("warehouse-dsn", "", "warehouse data source name (DSN)")
	rootCmd.PersistentFlags().String("database", "", "active warehouse database")
	rootCmd.PersistentFlags().String("schema", "", "active warehouse schema")

	for _, flag := range []string{"mode", "addr", "port", "data", "warehouse-dsn", "database", "schema"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("snowgpt")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(versionCmd)
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("SnowGPT %s started successfully!\n", p.Version)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Warehouse: %s (%s.%s)\n", p.WarehouseDriver, p.WarehouseDatabase, p.WarehouseSchema)
	fmt.Printf("Session store: %s\n", p.SessionDriver)
	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
