package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/internal/infrastructure/monitoring"
	"github.com/turtacn/accessgate/pkg/logger"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand 构建 accessgate 服务启动命令
func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "accessgate",
		Short:         "Run the accessgate security gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = os.Getenv(config.EnvPrefix + "_CONFIG")
			}
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: search ./, ./configs, /etc/accessgate)")
	return cmd
}

func run(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := monitoring.NewZapLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "Failed to initialize accessgate", err)
		return err
	}

	log.Info(ctx, "accessgate starting",
		logger.String("environment", cfg.Environment),
		logger.String("http_addr", cfg.Server.Addr()),
		logger.Bool("grpc_enabled", cfg.GRPC.Enabled),
	)
	if err := app.Run(ctx); err != nil {
		log.Error(ctx, "accessgate stopped with error", err)
		return err
	}
	log.Info(context.Background(), "accessgate stopped")
	return nil
}

//Personal.AI order the ending
