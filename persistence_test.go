package dhyana

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlstore "github.com/trianglegrrl/dhyana/store/sql"
)

func TestNewSQLitePersistence_MigratesPipelineSchema(t *testing.T) {
	ctx := context.Background()

	client, err := NewSQLitePersistence(ctx, PersistenceOptions{
		DSN:          fmt.Sprintf("file:dhyana-persistence-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano()),
		MaxOpenConns: 1,
		PingTimeout:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSQLitePersistence: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	factory, err := sqlstore.NewStoreFactory(client)
	if err != nil {
		t.Fatalf("NewStoreFactory: %v", err)
	}

	entities, err := factory.EntityStore().List(ctx, "job", false, 10)
	if err != nil {
		t.Fatalf("List after migrate: %v", err)
	}
	if len(entities) != 0 {
		t.Fatalf("expected empty entity table, got %d rows", len(entities))
	}

	tasks, err := factory.TaskStore().ClaimDue(ctx, time.Now(), 5)
	if err != nil {
		t.Fatalf("ClaimDue after migrate: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty task table, got %d rows", len(tasks))
	}
}

func TestNewSQLitePersistence_RequiresDSN(t *testing.T) {
	if _, err := NewSQLitePersistence(context.Background(), PersistenceOptions{}); err == nil {
		t.Fatal("expected error for missing dsn")
	}
}
