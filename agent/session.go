package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/desktop"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

// Session ties an Agent to the desktop connection it drives: connect, run,
// disconnect. Connection failures are reported in the result as well as in
// the returned error.
type Session struct {
	agent   *Agent
	desktop desktop.Controller
	target  desktop.Target
	logger  *zap.Logger
}

func NewSession(a *Agent, d desktop.Controller, target desktop.Target) *Session {
	return &Session{
		agent:   a,
		desktop: d,
		target:  target,
		logger:  a.logger.Named("session"),
	}
}

func (s *Session) Agent() *Agent { return s.agent }

// Run connects, executes task and disconnects. A suspended run leaves the
// desktop disconnected; Resume reconnects.
func (s *Session) Run(ctx context.Context, task string, opts ...RunOption) (types.RunResult, error) {
	return s.within(ctx, task, func(ctx context.Context) (types.RunResult, error) {
		return s.agent.Run(ctx, task, opts...)
	})
}

func (s *Session) Resume(ctx context.Context, runID, decision string) (types.RunResult, error) {
	return s.within(ctx, "", func(ctx context.Context) (types.RunResult, error) {
		return s.agent.Resume(ctx, runID, decision)
	})
}

func (s *Session) within(ctx context.Context, task string, fn func(context.Context) (types.RunResult, error)) (result types.RunResult, err error) {
	if err := s.desktop.Connect(ctx, s.target); err != nil {
		s.logger.Error("connect failed", zap.String("address", s.target.Address), zap.Error(err))
		var connErr *desktop.ConnectionError
		if !errors.As(err, &connErr) {
			err = &desktop.ConnectionError{Address: s.target.Address, Err: err}
		}
		return types.RunResult{
			Task:   task,
			Status: types.RunStatusFailed,
			Done:   true,
			Error:  "connection failed: " + err.Error(),
		}, err
	}
	s.logger.Info("connected", zap.String("address", s.target.Address))

	defer func() {
		if derr := s.desktop.Disconnect(); derr != nil {
			s.logger.Warn("disconnect failed", zap.Error(derr))
			if err == nil {
				err = fmt.Errorf("disconnect: %w", derr)
			}
		}
	}()
	return fn(ctx)
}
