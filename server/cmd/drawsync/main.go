package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"drawsync/server/internal/config"

	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := newLogger("")
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("drawsync command failed")
		return 1
	}
	return 0
}

type cfgKey struct{}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "drawsync",
		Short:         "Shared drawing canvas backed by an append-only event log",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			// 环境变量中的 LOG_LEVEL 仍然优先
			logger := newLogger(cfg.Logging.Level)
			ctx := pslog.ContextWithLogger(cmd.Context(), logger)
			cmd.SetContext(context.WithValue(ctx, cfgKey{}, cfg))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRenderCmd())
	root.AddCommand(newDrawCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newDiscoverCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func configFrom(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(cfgKey{}).(*config.Config); ok {
		return cfg
	}
	cfg := config.DefaultConfig()
	return &cfg
}

func newLogger(level string) pslog.Logger {
	opts := pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.InfoLevel}
	switch level {
	case "trace":
		opts.MinLevel = pslog.TraceLevel
	case "debug":
		opts.MinLevel = pslog.DebugLevel
	case "warn":
		opts.MinLevel = pslog.WarnLevel
	case "error":
		opts.MinLevel = pslog.ErrorLevel
	}
	return pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(opts),
	)
}
