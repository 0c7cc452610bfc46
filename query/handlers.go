// Package query holds the read-side handlers: entity listings for the
// slash-command surface and dead-letter inspection for operators.
package query

import (
	"context"

	"github.com/trianglegrrl/dhyana/core"
)

type EntityReader interface {
	Get(ctx context.Context, kind core.EntityKind, externalID string) (core.EntityRecord, error)
	List(ctx context.Context, kind core.EntityKind, activeOnly bool, limit int) ([]core.EntityRecord, error)
}

type DeadLetterReader interface {
	ListDeadLettered(ctx context.Context, limit int) ([]core.SyncTask, error)
}

const defaultListLimit = 5

type ListEntitiesQuery struct {
	reader EntityReader
}

func NewListEntitiesQuery(reader EntityReader) *ListEntitiesQuery {
	return &ListEntitiesQuery{reader: reader}
}

func (q *ListEntitiesQuery) Query(ctx context.Context, msg ListEntitiesMessage) ([]core.EntityRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: entity reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, queryWrapValidation(err, "query: list entities rejected")
	}
	limit := msg.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	return q.reader.List(ctx, msg.Kind, msg.ActiveOnly, limit)
}

type GetEntityQuery struct {
	reader EntityReader
}

func NewGetEntityQuery(reader EntityReader) *GetEntityQuery {
	return &GetEntityQuery{reader: reader}
}

func (q *GetEntityQuery) Query(ctx context.Context, msg GetEntityMessage) (core.EntityRecord, error) {
	if q == nil || q.reader == nil {
		return core.EntityRecord{}, queryDependencyError("query: entity reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.EntityRecord{}, queryWrapValidation(err, "query: get entity rejected")
	}
	return q.reader.Get(ctx, msg.Kind, msg.ExternalID)
}

type ListDeadLetteredQuery struct {
	reader DeadLetterReader
}

func NewListDeadLetteredQuery(reader DeadLetterReader) *ListDeadLetteredQuery {
	return &ListDeadLetteredQuery{reader: reader}
}

func (q *ListDeadLetteredQuery) Query(ctx context.Context, msg ListDeadLetteredMessage) ([]core.SyncTask, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: dead letter reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, queryWrapValidation(err, "query: list dead letters rejected")
	}
	limit := msg.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	return q.reader.ListDeadLettered(ctx, limit)
}
