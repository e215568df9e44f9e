package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/PipeOpsHQ/vnc-use-go/recorder"
	"github.com/PipeOpsHQ/vnc-use-go/state"
)

func (a *app) runsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect past runs",
	}
	cmd.AddCommand(a.runsListCommand(), a.runsShowCommand())
	return cmd
}

func (a *app) runsListCommand() *cobra.Command {
	var (
		limit    int
		status   string
		provider string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintln(tw, "RUN ID\tSTATUS\tSTEPS\tUPDATED\tTASK")

			if rt.store != nil {
				runs, err := rt.store.ListRuns(cmd.Context(), state.ListRunsQuery{Limit: limit, Status: status, Provider: provider})
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
				for _, run := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", run.RunID, run.Status, run.Step, formatTime(run.UpdatedAt), truncate(run.Task, 60))
				}
				return nil
			}
			if rt.recorder == nil {
				return errors.New("no state store or recorder configured")
			}
			dirs, err := rt.recorder.ListRuns()
			if err != nil {
				return fmt.Errorf("list run directories: %w", err)
			}
			shown := 0
			for _, dir := range dirs {
				if limit > 0 && shown >= limit {
					break
				}
				meta, err := recorder.ReadMetadata(dir)
				if err != nil {
					continue
				}
				runStatus := "failed"
				if meta.Success {
					runStatus = "completed"
				}
				if (status != "" && status != runStatus) || (provider != "" && provider != meta.Provider) {
					continue
				}
				end := meta.EndTime
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", meta.RunID, runStatus, meta.FinalState.Step, formatTime(&end), truncate(meta.Task, 60))
				shown++
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status")
	cmd.Flags().StringVar(&provider, "provider", "", "only runs planned by this provider")
	return cmd
}

func (a *app) runsShowCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := strings.TrimSpace(args[0])
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			var doc any
			if rt.store != nil {
				rec, err := rt.store.LoadRun(cmd.Context(), runID)
				switch {
				case err == nil:
					doc = rec
				case !errors.Is(err, state.ErrNotFound):
					return fmt.Errorf("load run: %w", err)
				}
			}
			if doc == nil && rt.recorder != nil {
				if dir, err := rt.recorder.FindRun(runID); err == nil {
					meta, err := recorder.ReadMetadata(dir)
					if err != nil {
						return err
					}
					doc = struct {
						recorder.Metadata
						Dir string `json:"run_dir"`
					}{meta, filepath.Clean(dir)}
				}
			}
			if doc == nil {
				return fmt.Errorf("run %s not found", runID)
			}
			return writeDocument(cmd.OutOrStdout(), doc, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	return cmd
}

// writeDocument prints v as JSON or as YAML keyed by the JSON field names.
func writeDocument(w io.Writer, v any, format string) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if strings.EqualFold(format, "json") {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
