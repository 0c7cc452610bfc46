package query

import (
	"fmt"

	"github.com/trianglegrrl/dhyana/core"
)

const (
	TypeListEntities     = "dhyana.query.entities.list"
	TypeGetEntity        = "dhyana.query.entities.get"
	TypeListDeadLettered = "dhyana.query.tasks.dead_lettered.list"
)

type ListEntitiesMessage struct {
	Kind       core.EntityKind
	ActiveOnly bool
	Limit      int
}

func (ListEntitiesMessage) Type() string { return TypeListEntities }

func (m ListEntitiesMessage) Validate() error {
	if _, err := core.ParseEntityKind(string(m.Kind)); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if m.Limit < 0 {
		return fmt.Errorf("query: limit must be >= 0")
	}
	return nil
}

type GetEntityMessage struct {
	Kind       core.EntityKind
	ExternalID string
}

func (GetEntityMessage) Type() string { return TypeGetEntity }

func (m GetEntityMessage) Validate() error {
	if _, err := core.ParseEntityKind(string(m.Kind)); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if m.ExternalID == "" {
		return fmt.Errorf("query: external id is required")
	}
	return nil
}

type ListDeadLetteredMessage struct {
	Limit int
}

func (ListDeadLetteredMessage) Type() string { return TypeListDeadLettered }

func (m ListDeadLetteredMessage) Validate() error {
	if m.Limit < 0 {
		return fmt.Errorf("query: limit must be >= 0")
	}
	return nil
}
