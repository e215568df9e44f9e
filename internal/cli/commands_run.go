package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/safety"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

func (a *app) runCommand() *cobra.Command {
	var (
		server, password, hostname string
		provider                   string
		stepLimit                  int
		timeout                    time.Duration
		noHITL                     bool
		asJSON                     bool
	)
	cmd := &cobra.Command{
		Use:   "run [flags] -- <task>",
		Short: "Execute a task on a remote desktop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.TrimSpace(strings.Join(args, " "))
			if task == "" {
				return errors.New("task cannot be empty")
			}
			ctx := cmd.Context()
			target, err := a.resolveTarget(ctx, server, password, hostname)
			if err != nil {
				return err
			}
			rt, err := a.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			o := overrides{provider: provider, stepLimit: stepLimit, timeout: timeout}
			if noHITL {
				off := false
				o.hitl = &off
			}
			approver := safety.NewTerminalApprover(cmd.InOrStdin(), cmd.ErrOrStderr())
			session, err := a.newSession(ctx, rt, o, target, approver)
			if err != nil {
				return err
			}

			a.logger.Info("starting task", zap.String("server", target.Address), zap.String("task", task))
			result, runErr := session.Run(ctx, task)
			if err := printResult(cmd.OutOrStdout(), result, asJSON); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if !result.Success {
				return fmt.Errorf("task failed: %s", result.Error)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&server, "server", "", "VNC server (host::port or host:display)")
	flags.StringVar(&password, "password", "", "VNC password")
	flags.StringVar(&hostname, "hostname", "", "look up server and password in the credential store")
	flags.StringVar(&provider, "provider", "", "planner provider (gemini, anthropic, openai, ollama, azure-openai)")
	flags.IntVar(&stepLimit, "step-limit", 0, "maximum executed actions (default from config)")
	flags.DurationVar(&timeout, "timeout", 0, "wall-clock limit for the run (default from config)")
	flags.BoolVar(&noHITL, "no-hitl", false, "execute actions that need confirmation without asking")
	flags.BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func printResult(w io.Writer, result types.RunResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(w, "Run ID:   %s\n", result.RunID)
	fmt.Fprintf(w, "Status:   %s\n", result.Status)
	fmt.Fprintf(w, "Success:  %t\n", result.Success)
	fmt.Fprintf(w, "Steps:    %d\n", result.Steps)
	if result.RunDir != "" {
		fmt.Fprintf(w, "Run dir:  %s\n", result.RunDir)
	}
	if result.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", result.Error)
	}
	if result.Usage != nil && result.Usage.TotalTokens > 0 {
		fmt.Fprintf(w, "Tokens:   %d\n", result.Usage.TotalTokens)
	}
	if len(result.ActionHistory) > 0 {
		fmt.Fprintln(w, "Actions:")
		for i, entry := range result.ActionHistory {
			fmt.Fprintf(w, "  %d. %s\n", i+1, entry)
		}
	}
	return nil
}
