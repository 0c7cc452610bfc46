// Package command holds the mutating handlers and the slash-command
// responder. Mutations go through go-command Commanders so callers can
// collect results from context the same way across the module.
package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/trianglegrrl/dhyana/core"
)

type TaskRequeuer interface {
	Requeue(ctx context.Context, id string, now time.Time) error
}

type RequeueTaskCommand struct {
	tasks TaskRequeuer
	now   func() time.Time
}

func NewRequeueTaskCommand(tasks TaskRequeuer) *RequeueTaskCommand {
	return &RequeueTaskCommand{tasks: tasks, now: time.Now}
}

func (c *RequeueTaskCommand) WithClock(now func() time.Time) *RequeueTaskCommand {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *RequeueTaskCommand) Execute(ctx context.Context, msg RequeueTaskMessage) error {
	if c == nil || c.tasks == nil {
		return commandDependencyError("command: task store is required")
	}
	if err := msg.Validate(); err != nil {
		return commandWrapValidation(err, "command: requeue rejected")
	}
	if err := c.tasks.Requeue(ctx, msg.TaskID, c.now()); err != nil {
		return err
	}
	storeResult(ctx, msg.TaskID)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

var _ gocmd.Commander[RequeueTaskMessage] = (*RequeueTaskCommand)(nil)
var _ TaskRequeuer = (core.TaskStore)(nil)
