package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/inbound"
	"github.com/trianglegrrl/dhyana/query"
)

const helpText = "Available commands: /jobber clients, /jobber jobs, /jobber invoices, /jobber failed, /jobber retry <task-id>"

// Responder answers slash commands with short entity listings. Replies
// are plain text the messaging platform renders in-channel; lookups go
// through the query handlers so the responder never touches stores
// directly.
type Responder struct {
	entities    *query.ListEntitiesQuery
	deadLetters *query.ListDeadLetteredQuery
	requeue     *RequeueTaskCommand
	logger      core.Logger
}

type ResponderOption func(*Responder)

func WithResponderLogger(logger core.Logger) ResponderOption {
	return func(r *Responder) { r.logger = logger }
}

func WithDeadLetterAccess(deadLetters *query.ListDeadLetteredQuery, requeue *RequeueTaskCommand) ResponderOption {
	return func(r *Responder) {
		r.deadLetters = deadLetters
		r.requeue = requeue
	}
}

func NewResponder(entities *query.ListEntitiesQuery, options ...ResponderOption) (*Responder, error) {
	if entities == nil {
		return nil, commandDependencyError("command: entity query is required")
	}
	responder := &Responder{entities: entities}
	for _, option := range options {
		option(responder)
	}
	return responder, nil
}

func (r *Responder) Respond(ctx context.Context, cmd inbound.SlashCommand) (string, error) {
	words := strings.Fields(cmd.Text)
	if len(words) == 0 {
		return helpText, nil
	}

	switch strings.ToLower(words[0]) {
	case "help":
		return helpText, nil
	case "clients":
		return r.listEntities(ctx, core.EntityKindClient, true)
	case "jobs":
		return r.listEntities(ctx, core.EntityKindJob, false)
	case "invoices":
		return r.listEntities(ctx, core.EntityKindInvoice, false)
	case "failed":
		return r.listFailed(ctx)
	case "retry":
		if len(words) < 2 {
			return "Usage: /jobber retry <task-id>", nil
		}
		return r.retryTask(ctx, words[1])
	default:
		return fmt.Sprintf("Unknown command %q. %s", words[0], helpText), nil
	}
}

func (r *Responder) listEntities(ctx context.Context, kind core.EntityKind, activeOnly bool) (string, error) {
	records, err := r.entities.Query(ctx, query.ListEntitiesMessage{Kind: kind, ActiveOnly: activeOnly})
	if err != nil {
		core.LogError(ctx, r.logger, "slash command listing failed", map[string]any{
			"kind":  string(kind),
			"error": err.Error(),
		})
		return "Something went wrong, try again shortly.", nil
	}
	if len(records) == 0 {
		return fmt.Sprintf("No %ss found.", kind), nil
	}

	lines := make([]string, 0, len(records)+1)
	lines = append(lines, fmt.Sprintf("Recent %ss:", kind))
	for _, record := range records {
		lines = append(lines, "• "+entityLine(record))
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Responder) listFailed(ctx context.Context) (string, error) {
	if r.deadLetters == nil {
		return "Dead letter access is not configured.", nil
	}
	tasks, err := r.deadLetters.Query(ctx, query.ListDeadLetteredMessage{})
	if err != nil {
		core.LogError(ctx, r.logger, "dead letter listing failed", map[string]any{"error": err.Error()})
		return "Something went wrong, try again shortly.", nil
	}
	if len(tasks) == 0 {
		return "No failed tasks.", nil
	}

	lines := make([]string, 0, len(tasks)+1)
	lines = append(lines, "Failed tasks:")
	for _, task := range tasks {
		line := fmt.Sprintf("• %s %s", task.ID, task.PartitionKey())
		if task.LastError != "" {
			line += " — " + task.LastError
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Responder) retryTask(ctx context.Context, taskID string) (string, error) {
	if r.requeue == nil {
		return "Dead letter access is not configured.", nil
	}
	if err := r.requeue.Execute(ctx, RequeueTaskMessage{TaskID: taskID}); err != nil {
		core.LogError(ctx, r.logger, "task requeue failed", map[string]any{
			"task_id": taskID,
			"error":   err.Error(),
		})
		return fmt.Sprintf("Could not requeue %s.", taskID), nil
	}
	return fmt.Sprintf("Task %s requeued.", taskID), nil
}

// entityLine renders one listing row, preferring human names over ids.
func entityLine(record core.EntityRecord) string {
	switch record.Kind {
	case core.EntityKindClient:
		name := firstField(record.Fields, "name", "company_name")
		if name == "" {
			name = strings.TrimSpace(firstField(record.Fields, "first_name") + " " + firstField(record.Fields, "last_name"))
		}
		if name == "" {
			name = record.ExternalID
		}
		if email := firstField(record.Fields, "email"); email != "" {
			return name + " — " + email
		}
		return name
	case core.EntityKindJob:
		title := firstField(record.Fields, "title")
		if title == "" {
			title = record.ExternalID
		}
		if status := firstField(record.Fields, "status"); status != "" {
			return title + " — " + status
		}
		return title
	case core.EntityKindInvoice:
		number := firstField(record.Fields, "invoice_number")
		if number == "" {
			number = record.ExternalID
		}
		line := "Invoice #" + number
		if status := firstField(record.Fields, "status"); status != "" {
			line += " — " + status
		}
		return line
	default:
		return record.ExternalID
	}
}

func firstField(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := fields[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

var _ inbound.CommandResponder = (*Responder)(nil)
