package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/bizgraph/pkg/bizgraph"
	"github.com/orneryd/bizgraph/pkg/config"
	"github.com/orneryd/bizgraph/pkg/graph"
	"github.com/orneryd/bizgraph/pkg/logging"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bizgraph",
		Short: "bizgraph - customer behaviour knowledge graph",
		Long: `bizgraph builds a customer/product/category graph from transactional
CSV exports and answers customer, product and business questions from it.

Typical flow:
  bizgraph import ./exports     load CSV batches into the record store
  bizgraph build                build and snapshot the graph
  bizgraph customer c-42        insights for one customer
  bizgraph serve                rebuild on a schedule, expose /metrics`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("BIZGRAPH_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Record store directory (overrides config)")
	rootCmd.PersistentFlags().String("snapshot", "", "Graph snapshot path (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: json or console")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bizgraph v%s (%s)\n", version, commit)
		},
	})

	importCmd := &cobra.Command{
		Use:   "import [directory]",
		Short: "Import customers.csv, products.csv and transactions.csv",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	importCmd.Flags().Bool("build", false, "Build the graph after importing")
	rootCmd.AddCommand(importCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Build the graph from the record store and save a snapshot",
		Args:  cobra.NoArgs,
		RunE:  runBuild,
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the graph fresh on a schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().String("schedule", "", "Rebuild schedule, e.g. \"@every 1h\" (overrides config)")
	serveCmd.Flags().String("metrics-addr", ":9464", "Address for the Prometheus /metrics endpoint (empty disables)")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "customer [id]",
		Short: "Customer insights",
		Args:  cobra.ExactArgs(1),
		RunE: queryCmd(func(svc *bizgraph.Service, args []string) (any, error) {
			return svc.CustomerInsights(graph.CustomerID(args[0]))
		}),
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "product [id]",
		Short: "Product intelligence",
		Args:  cobra.ExactArgs(1),
		RunE: queryCmd(func(svc *bizgraph.Service, args []string) (any, error) {
			return svc.ProductIntelligence(graph.ProductID(args[0]))
		}),
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Graph summary",
		Args:  cobra.NoArgs,
		RunE: queryCmd(func(svc *bizgraph.Service, _ []string) (any, error) {
			return svc.GraphSummary()
		}),
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "journey [id]",
		Short: "Customer journey and next best action",
		Args:  cobra.ExactArgs(1),
		RunE: queryCmd(func(svc *bizgraph.Service, args []string) (any, error) {
			return svc.CustomerJourney(graph.CustomerID(args[0]))
		}),
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "business",
		Short: "Business-wide insights",
		Args:  cobra.NoArgs,
		RunE: queryCmd(func(svc *bizgraph.Service, _ []string) (any, error) {
			return svc.BusinessInsights()
		}),
	})

	buildsCmd := &cobra.Command{
		Use:   "builds",
		Short: "Show the build log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			svc, _, err := openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()
			recs, err := svc.Builds(limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, recs)
		},
	}
	buildsCmd.Flags().Int("limit", 10, "Entries to show (0 = all)")
	rootCmd.AddCommand(buildsCmd)

	return rootCmd
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFromEnvOrFile(path)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("snapshot"); v != "" {
		cfg.Snapshot.Path = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	return cfg, cfg.Validate()
}

func openService(cmd *cobra.Command) (*bizgraph.Service, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg.Runtime.ApplyRuntime()
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	svc, err := bizgraph.Open(cfg, bizgraph.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return svc, logger, nil
}

// ensureGraph makes a graph active: the saved snapshot if there is one,
// otherwise a fresh build from the record store.
func ensureGraph(ctx context.Context, svc *bizgraph.Service) error {
	if svc.Status().Built {
		return nil
	}
	loaded, err := svc.Load()
	if err != nil && !errors.Is(err, graph.ErrValidation) {
		return err
	}
	if loaded {
		return nil
	}
	_, err = svc.RebuildFromStore(ctx)
	return err
}

func queryCmd(run func(svc *bizgraph.Service, args []string) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()
		if err := ensureGraph(cmd.Context(), svc); err != nil {
			return err
		}
		out, err := run(svc, args)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runImport(cmd *cobra.Command, args []string) error {
	andBuild, _ := cmd.Flags().GetBool("build")
	svc, _, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	counts, err := svc.ImportDir(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !andBuild {
		return printJSON(cmd, counts)
	}
	res, err := svc.RebuildFromStore(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

func runBuild(cmd *cobra.Command, args []string) error {
	svc, _, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.RebuildFromStore(cmd.Context())
	if err != nil {
		return err
	}
	if !svc.Config().Snapshot.AutoSave && svc.Config().Snapshot.Path != "" {
		if err := svc.Save(); err != nil {
			return err
		}
	}
	return printJSON(cmd, res)
}

func runServe(cmd *cobra.Command, args []string) error {
	schedule, _ := cmd.Flags().GetString("schedule")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	svc, logger, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ensureGraph(ctx, svc); err != nil {
		// keep serving; the scheduler may succeed once data arrives
		logger.Warn("no graph available at startup", zap.Error(err))
	}
	if schedule != "" || svc.Config().Schedule.Rebuild != "" {
		if err := svc.StartScheduler(schedule); err != nil {
			return err
		}
	}

	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(svc.Registry(), promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
		logger.Info("metrics endpoint listening", zap.String("addr", metricsAddr))
	}

	logger.Info("bizgraph serving", zap.String("version", version))
	<-ctx.Done()
	logger.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics endpoint shutdown", zap.Error(err))
		}
	}
	return nil
}
