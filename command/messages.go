package command

import (
	"fmt"
	"strings"
)

const (
	TypeRequeueTask = "dhyana.command.task.requeue"
)

// RequeueTaskMessage asks for one dead-lettered task to be put back on
// the queue with a fresh attempt budget.
type RequeueTaskMessage struct {
	TaskID string
}

func (RequeueTaskMessage) Type() string { return TypeRequeueTask }

func (m RequeueTaskMessage) Validate() error {
	if strings.TrimSpace(m.TaskID) == "" {
		return fmt.Errorf("command: task id is required")
	}
	return nil
}
