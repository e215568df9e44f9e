package safety

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PipeOpsHQ/vnc-use-go/types"
)

// Approver decides whether a batch of calls that needs confirmation may run.
type Approver interface {
	Approve(ctx context.Context, verdict types.SafetyVerdict, pending []types.ActionCall) (bool, error)
}

type ApproverFunc func(ctx context.Context, verdict types.SafetyVerdict, pending []types.ActionCall) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, verdict types.SafetyVerdict, pending []types.ActionCall) (bool, error) {
	return f(ctx, verdict, pending)
}

// AutoApprover answers every request with a fixed decision.
type AutoApprover struct {
	Allow bool
}

func (a AutoApprover) Approve(context.Context, types.SafetyVerdict, []types.ActionCall) (bool, error) {
	return a.Allow, nil
}

// TerminalApprover prompts on Out and reads a y/N answer from In. One
// goroutine owns In for the approver's lifetime, so a cancelled prompt leaves
// no reader behind; the next line typed answers whichever prompt is waiting.
type TerminalApprover struct {
	In  io.Reader
	Out io.Writer

	once  sync.Once
	lines chan string
}

func NewTerminalApprover(in io.Reader, out io.Writer) *TerminalApprover {
	return &TerminalApprover{In: in, Out: out}
}

// readLines feeds lines from In until it fails; the channel is closed on
// EOF or error.
func (a *TerminalApprover) readLines() {
	defer close(a.lines)
	r := bufio.NewReader(a.In)
	for {
		line, err := r.ReadString('\n')
		if line != "" || err == nil {
			a.lines <- line
		}
		if err != nil {
			return
		}
	}
}

func (a *TerminalApprover) Approve(ctx context.Context, verdict types.SafetyVerdict, pending []types.ActionCall) (bool, error) {
	a.once.Do(func() {
		a.lines = make(chan string)
		go a.readLines()
	})

	reason := verdict.Reason
	if reason == "" {
		reason = "confirmation required"
	}
	fmt.Fprintf(a.Out, "\nConfirmation required: %s\n", reason)
	for i, call := range pending {
		fmt.Fprintf(a.Out, "  %d. %s\n", i+1, call.String())
	}
	fmt.Fprint(a.Out, "Approve? [y/N]: ")

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-a.lines:
		if !ok {
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
