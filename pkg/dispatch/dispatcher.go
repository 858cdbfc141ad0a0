// Package dispatch turns parsed responses into supervised tasks.
//
// Dispatch never waits for the work it submits: the spoken message, every
// skill and every movement each run as their own task, so a long camera
// session cannot hold up the next query.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-neurobridge/pkg/resource"
	"github.com/teslashibe/go-neurobridge/pkg/response"
	"github.com/teslashibe/go-neurobridge/pkg/server"
	"github.com/teslashibe/go-neurobridge/pkg/skills"
)

// Executor performs the side effects of a response.
type Executor interface {
	Execute(ctx context.Context, inv response.Invocation) error
	Say(ctx context.Context, text string) error
	Move(ctx context.Context, cmd response.MovementCommand) error
	Known(kind response.Kind) bool
}

// Dispatcher submits the tasks of a response to a Supervisor.
type Dispatcher struct {
	exec   Executor
	state  *server.State
	tasks  *Supervisor
	logger *slog.Logger
}

// New creates a dispatcher and registers a hook on tasks that logs each
// failure at a level matching its cause.
func New(exec Executor, state *server.State, tasks *Supervisor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		exec:   exec,
		state:  state,
		tasks:  tasks,
		logger: logger.With("component", "dispatch.dispatcher"),
	}
	tasks.OnResult(d.report)
	return d
}

// Dispatch submits resp and returns without waiting. Nothing is submitted
// once ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, resp response.Response) {
	if ctx.Err() != nil {
		return
	}
	if resp.Message != nil && resp.Message.Text != "" {
		text := resp.Message.Text
		if d.state.SpeechOutput() {
			d.tasks.Go("say", func(ctx context.Context) error {
				return d.exec.Say(ctx, text)
			})
		} else {
			d.logger.Info("AI: " + text)
		}
	}

	if resp.Action == nil {
		return
	}
	for _, entry := range resp.Action.Entries {
		for _, inv := range entry.Skills {
			if !d.exec.Known(inv.Kind) {
				d.logger.Warn("unknown skill skipped", "action", entry.Name, "skill", inv.Name)
				continue
			}
			inv := inv
			d.tasks.Go(inv.Kind.String(), func(ctx context.Context) error {
				return d.exec.Execute(ctx, inv)
			})
		}
		for _, cmd := range entry.Movements {
			cmd := cmd
			d.tasks.Go(fmt.Sprintf("move:%s", cmd.Motor), func(ctx context.Context) error {
				return d.exec.Move(ctx, cmd)
			})
		}
	}
}

func (d *Dispatcher) report(r Result) {
	var busy *resource.BusyError
	switch {
	case r.Err == nil:
	case errors.Is(r.Err, skills.ErrNotConfigured):
		d.logger.Debug("skipped, hardware not configured", "task", r.Name)
	case errors.As(r.Err, &busy):
		d.logger.Warn("skipped, resource busy", "task", r.Name, "resource", busy.Resource, "holder", busy.Holder)
	case errors.Is(r.Err, context.Canceled):
		d.logger.Debug("task cancelled", "task", r.Name)
	default:
		d.logger.Error("task failed", "task", r.Name, "id", r.ID, "error", r.Err)
	}
}
