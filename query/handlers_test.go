package query

import (
	"context"
	"testing"
	"time"

	"github.com/trianglegrrl/dhyana/core"
)

type stubEntityReader struct {
	records   []core.EntityRecord
	lastKind  core.EntityKind
	lastOnly  bool
	lastLimit int
}

func (r *stubEntityReader) Get(ctx context.Context, kind core.EntityKind, externalID string) (core.EntityRecord, error) {
	for _, record := range r.records {
		if record.Kind == kind && record.ExternalID == externalID {
			return record, nil
		}
	}
	return core.EntityRecord{}, core.ErrEntityNotFound
}

func (r *stubEntityReader) List(ctx context.Context, kind core.EntityKind, activeOnly bool, limit int) ([]core.EntityRecord, error) {
	r.lastKind = kind
	r.lastOnly = activeOnly
	r.lastLimit = limit
	out := make([]core.EntityRecord, 0, len(r.records))
	for _, record := range r.records {
		if record.Kind != kind {
			continue
		}
		if activeOnly && !record.Active {
			continue
		}
		out = append(out, record)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestListEntitiesQuery_DefaultsLimitAndFilters(t *testing.T) {
	reader := &stubEntityReader{records: []core.EntityRecord{
		{ID: "1", Kind: core.EntityKindClient, ExternalID: "C-1", Active: true},
		{ID: "2", Kind: core.EntityKindClient, ExternalID: "C-2", Active: false},
		{ID: "3", Kind: core.EntityKindJob, ExternalID: "J-1", Active: true},
	}}
	q := NewListEntitiesQuery(reader)

	records, err := q.Query(context.Background(), ListEntitiesMessage{
		Kind:       core.EntityKindClient,
		ActiveOnly: true,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 || records[0].ExternalID != "C-1" {
		t.Fatalf("records = %+v, want only active C-1", records)
	}
	if reader.lastLimit != defaultListLimit {
		t.Fatalf("limit = %d, want default %d", reader.lastLimit, defaultListLimit)
	}
	if !reader.lastOnly {
		t.Fatalf("activeOnly flag did not reach the reader")
	}
}

func TestListEntitiesQuery_RejectsBadKind(t *testing.T) {
	q := NewListEntitiesQuery(&stubEntityReader{})
	if _, err := q.Query(context.Background(), ListEntitiesMessage{Kind: "widget"}); err == nil {
		t.Fatalf("expected validation error for unknown kind")
	}
	if _, err := q.Query(context.Background(), ListEntitiesMessage{Kind: core.EntityKindJob, Limit: -1}); err == nil {
		t.Fatalf("expected validation error for negative limit")
	}
}

func TestGetEntityQuery(t *testing.T) {
	reader := &stubEntityReader{records: []core.EntityRecord{
		{ID: "1", Kind: core.EntityKindInvoice, ExternalID: "I-1", Active: true},
	}}
	q := NewGetEntityQuery(reader)

	record, err := q.Query(context.Background(), GetEntityMessage{Kind: core.EntityKindInvoice, ExternalID: "I-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if record.ID != "1" {
		t.Fatalf("record = %+v", record)
	}
	if _, err := q.Query(context.Background(), GetEntityMessage{Kind: core.EntityKindInvoice}); err == nil {
		t.Fatalf("expected validation error for missing external id")
	}
}

type stubDeadLetterReader struct {
	tasks     []core.SyncTask
	lastLimit int
}

func (r *stubDeadLetterReader) ListDeadLettered(ctx context.Context, limit int) ([]core.SyncTask, error) {
	r.lastLimit = limit
	if len(r.tasks) > limit {
		return r.tasks[:limit], nil
	}
	return r.tasks, nil
}

func TestListDeadLetteredQuery(t *testing.T) {
	created := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	reader := &stubDeadLetterReader{tasks: []core.SyncTask{
		{ID: "task-1", Kind: core.EntityKindJob, ExternalID: "J-1", CreatedAt: created},
	}}
	q := NewListDeadLetteredQuery(reader)

	tasks, err := q.Query(context.Background(), ListDeadLetteredMessage{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "task-1" {
		t.Fatalf("tasks = %+v", tasks)
	}
	if reader.lastLimit != defaultListLimit {
		t.Fatalf("limit = %d, want default", reader.lastLimit)
	}

	var nilQuery *ListDeadLetteredQuery
	if _, err := nilQuery.Query(context.Background(), ListDeadLetteredMessage{}); err == nil {
		t.Fatalf("expected dependency error from nil query")
	}
}
