// Package cli implements accessgate-admin, the operator tool for minting and inspecting
// tokens, checking policy documents and validating configuration offline.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/internal/infrastructure/monitoring"
	"github.com/turtacn/accessgate/pkg/logger"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

// NewRootCommand builds the accessgate-admin command tree.
// NewRootCommand 构建 accessgate-admin 命令树。
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "accessgate-admin",
		Short: "Administer the accessgate security gateway",
		Long: `accessgate-admin performs offline administrative tasks for accessgate:
minting and inspecting tokens with the configured signing secret, validating and
querying policy documents, and checking configuration files before a rollout.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml")

	cmd.AddCommand(
		newTokenCommand(opts),
		newPolicyCommand(opts),
		newConfigCommand(opts),
	)
	return cmd
}

// Execute runs the CLI and exits non-zero on error.
// Execute 运行 CLI，出错时以非零状态退出。
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.LoadConfig(o.configPath)
}

// cliLogger writes warnings and errors to stderr so command output stays parseable.
func cliLogger(w io.Writer) logger.Logger {
	level := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), level)
	return monitoring.NewLoggerFromCore(core, level)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
