package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/vnc-use-go/agent"
	"github.com/PipeOpsHQ/vnc-use-go/desktop"
	"github.com/PipeOpsHQ/vnc-use-go/observe"
	"github.com/PipeOpsHQ/vnc-use-go/server"
)

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv, err := server.New(server.Config{
				Addr: addr,
				Sessions: func(ctx context.Context, req server.RunRequest, target desktop.Target, observer observe.Sink) (*agent.Session, error) {
					o := overrides{stepLimit: req.StepLimit, hitl: req.HITL, excludedActions: req.ExcludedActions}
					if req.TimeoutSeconds > 0 {
						o.timeout = time.Duration(req.TimeoutSeconds) * time.Second
					}
					return a.newSession(ctx, rt, o, target, nil, observer)
				},
				Credentials:     a.credentialStore(),
				Store:           rt.store,
				MaxConcurrent:   a.cfg.Server.MaxConcurrent,
				ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
				Logger:          a.logger,
				TracerProvider:  rt.tracer,
			})
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
