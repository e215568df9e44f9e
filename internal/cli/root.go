// Package cli implements the vnc-use command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PipeOpsHQ/vnc-use-go/desktop"
	"github.com/PipeOpsHQ/vnc-use-go/internal/config"
	"github.com/PipeOpsHQ/vnc-use-go/internal/logging"
	"github.com/PipeOpsHQ/vnc-use-go/planner"
	"github.com/PipeOpsHQ/vnc-use-go/prompt"
	"github.com/PipeOpsHQ/vnc-use-go/providers/factory"
)

// Version is set at build time.
var Version = "dev"

type app struct {
	configFile string
	cfg        *config.Config
	logger     *zap.Logger

	in io.Reader

	newPlanner    func(ctx context.Context, cfg factory.Config) (planner.Planner, error)
	newController func(cfg config.DesktopConfig, logger *zap.Logger) desktop.Controller
}

func newApp() *app {
	return &app{
		in:            os.Stdin,
		logger:        zap.NewNop(),
		newPlanner:    factory.New,
		newController: controllerFor,
	}
}

// NewRootCommand returns the vnc-use command tree.
func NewRootCommand() *cobra.Command {
	return newApp().command()
}

// Execute runs the command line against os.Args.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (a *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:           "vnc-use",
		Short:         "Drive remote desktops with a vision-capable model",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Sources{ConfigFile: a.configFile})
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.Logger, zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
			a.logger.Debug("configuration loaded", zap.String("version", Version), zap.String("provider", cfg.Planner.Provider))
			n, err := prompt.LoadDir(cfg.Planner.PromptDir)
			if err != nil {
				return fmt.Errorf("load prompts: %w", err)
			}
			if n > 0 {
				a.logger.Info("prompt overrides loaded", zap.Int("count", n), zap.String("dir", cfg.Planner.PromptDir))
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file (default ./vnc-use.yaml or ~/.vnc-use/vnc-use.yaml)")
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.SetIn(a.in)

	root.AddCommand(
		a.runCommand(),
		a.serveCommand(),
		a.runsCommand(),
		a.credentialsCommand(),
	)
	return root
}
