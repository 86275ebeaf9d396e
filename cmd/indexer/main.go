package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/goran-ethernal/StarkIndexor/internal/common"
	"github.com/goran-ethernal/StarkIndexor/internal/config"
	"github.com/goran-ethernal/StarkIndexor/internal/engine"
	"github.com/goran-ethernal/StarkIndexor/internal/indexer"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/internal/metrics"
	// Register the built-in projection types
	_ "github.com/goran-ethernal/StarkIndexor/internal/projection/nft"
	"github.com/goran-ethernal/StarkIndexor/internal/storage/gateway"
	"github.com/goran-ethernal/StarkIndexor/pkg/api"
	pkgconfig "github.com/goran-ethernal/StarkIndexor/pkg/config"
	pkgindexer "github.com/goran-ethernal/StarkIndexor/pkg/indexer"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║          StarkIndexor v%s              ║
║   Starknet Event Projection Framework     ║
╚═══════════════════════════════════════════╝
`
	metricsStopTimeout = 5 * time.Second
)

var (
	configPath string
	envFile    string
	resetName  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "StarkIndexor - Starknet event projection framework",
	Long: `StarkIndexor follows a Starknet node block by block, decodes contract events and
projects them into queryable tables. Every block is applied atomically together
with its cursor, and chain reorganizations are rolled back to the common ancestor.`,
	Version:           version,
	PersistentPreRunE: loadEnv,
	RunE:              runIndexer,
	SilenceUsage:      true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available projection types",
	Long:  `List all registered projection types that can be used in the configuration file.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Available projection types:")
		types := pkgindexer.ListRegistered()
		if len(types) == 0 {
			fmt.Println("  (no projections registered)")
			return
		}
		for _, t := range types {
			fmt.Printf("  - %s\n", t)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored checkpoint of every configured indexer",
	RunE:  showStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe the projection and checkpoint of one indexer",
	Long: `Remove every projection row, tracked block and the checkpoint of the named
indexer. The next run starts again from its starting_block.`,
	RunE: resetIndexer,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		r := &jsonschema.Reflector{
			FieldNameTag:   "json",
			ExpandedStruct: true,
		}
		s := r.Reflect(&pkgconfig.Config{})
		s.Title = "StarkIndexor configuration"

		out, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode schema: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file loaded before the configuration")

	resetCmd.Flags().StringVar(&resetName, "name", "", "name of the indexer to reset")
	_ = resetCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(listCmd, statusCmd, resetCmd, schemaCmd)
}

// loadEnv loads the .env file so ${VAR} references in the configuration resolve.
// A missing file is not an error.
func loadEnv(cmd *cobra.Command, args []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

func loadConfig() (*pkgconfig.Config, *logger.Logger, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, development := "info", false
	if cfg.Logging != nil {
		level, development = cfg.Logging.GetDefaultLevel(), cfg.Logging.IsDevelopment()
	}
	log, err := logger.NewLogger(level, development)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetDefaultLogger(log)

	return cfg, log, nil
}

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("creating %d indexer(s), rpc_url=%s finality=%s", len(cfg.Indexers), cfg.Stream.RPCURL, cfg.Stream.Finality)
	coordinator, err := indexer.NewCoordinator(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := coordinator.Close(); err != nil {
			log.Warnf("failed to close indexers: %v", err)
		}
	}()

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, coordinator,
			logger.NewComponentLoggerFromConfig(common.ComponentMetrics, cfg.Logging))
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), metricsStopTimeout)
			defer cancel()
			if err := metricsServer.Stop(stopCtx); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
	}

	// A failing API server stops the indexers, and stopped indexers stop the API server
	g, gctx := errgroup.WithContext(ctx)

	if cfg.API != nil && cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, coordinator,
			logger.NewComponentLoggerFromConfig(common.ComponentAPI, cfg.Logging))
		g.Go(func() error { return apiServer.Start(gctx) })
	}

	log.Info("starting StarkIndexor")
	g.Go(func() error {
		defer stop()
		return coordinator.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("StarkIndexor stopped")
	return nil
}

// openIndexer builds the projection and opens the storage gateway of one
// configured indexer without connecting to the node.
func openIndexer(
	ctx context.Context,
	ic pkgconfig.IndexerConfig,
	log *logger.Logger,
) (pkgindexer.Projection, storage.Gateway, error) {
	projection, err := pkgindexer.Create(ic.Type, ic, log)
	if err != nil {
		return nil, nil, err
	}
	g, err := gateway.Open(ctx, ic, projection.Tables(), log)
	if err != nil {
		return nil, nil, err
	}
	return projection, g, nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0) //nolint:mnd
	fmt.Fprintln(tw, "NAME\tTYPE\tDRIVER\tBLOCK\tHASH\tFINALITY\tUPDATED")

	for _, ic := range cfg.Indexers {
		_, g, err := openIndexer(ctx, ic, log.WithIndexer(ic.Name))
		if err != nil {
			return fmt.Errorf("indexer %s: %w", ic.Name, err)
		}

		cp, err := g.ReadCursor(ctx)
		g.Close()
		switch {
		case errors.Is(err, storage.ErrNotFound):
			fmt.Fprintf(tw, "%s\t%s\t%s\t-\t-\t-\t-\n", ic.Name, ic.Type, ic.Storage.Driver)
		case err != nil:
			return fmt.Errorf("indexer %s: %w", ic.Name, err)
		default:
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n", ic.Name, ic.Type, ic.Storage.Driver,
				cp.Cursor.OrderKey, cp.Cursor.UniqueKey.Hex(), cp.Finality, cp.UpdatedAt.Format(time.RFC3339))
		}
	}
	return tw.Flush()
}

func resetIndexer(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	for _, ic := range cfg.Indexers {
		if ic.Name != resetName {
			continue
		}

		ilog := log.WithIndexer(ic.Name)
		projection, g, err := openIndexer(ctx, ic, ilog)
		if err != nil {
			return fmt.Errorf("indexer %s: %w", ic.Name, err)
		}
		defer g.Close()

		eng, err := engine.New(ic.Name, g, projection, ic.ReorgWindow, ilog.WithComponent(common.ComponentEngine))
		if err != nil {
			return err
		}
		if err := eng.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset %s: %w", ic.Name, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "indexer %s reset; it will start again from block %d\n", ic.Name, ic.StartingBlock)
		return nil
	}

	return fmt.Errorf("indexer %q is not configured", resetName)
}
