package core

import (
	"errors"
	"testing"
	"time"
)

func TestParsePlatform(t *testing.T) {
	if got, err := ParsePlatform(" Slack "); err != nil || got != PlatformSlack {
		t.Fatalf("expected slack, got %q err=%v", got, err)
	}
	if got, err := ParsePlatform("jobber"); err != nil || got != PlatformJobber {
		t.Fatalf("expected jobber, got %q err=%v", got, err)
	}
	if _, err := ParsePlatform("stripe"); !errors.Is(err, ErrInvalidPlatform) {
		t.Fatalf("expected invalid platform error, got: %v", err)
	}
}

func TestEntityKindParentKinds(t *testing.T) {
	cases := []struct {
		kind    EntityKind
		parents []EntityKind
	}{
		{EntityKindTeam, nil},
		{EntityKindUser, []EntityKind{EntityKindTeam}},
		{EntityKindChannel, []EntityKind{EntityKindTeam}},
		{EntityKindMessage, []EntityKind{EntityKindChannel, EntityKindUser}},
		{EntityKindClient, nil},
		{EntityKindJob, []EntityKind{EntityKindClient}},
		{EntityKindInvoice, []EntityKind{EntityKindClient, EntityKindJob}},
	}
	for _, tc := range cases {
		got := tc.kind.ParentKinds()
		if len(got) != len(tc.parents) {
			t.Fatalf("%s: expected %d parents, got %d", tc.kind, len(tc.parents), len(got))
		}
		for i := range got {
			if got[i] != tc.parents[i] {
				t.Fatalf("%s: expected parent %s, got %s", tc.kind, tc.parents[i], got[i])
			}
		}
	}
}

func TestEntityKindPlatform(t *testing.T) {
	if EntityKindInvoice.Platform() != PlatformJobber {
		t.Fatalf("expected invoice to belong to jobber")
	}
	if EntityKindChannel.Platform() != PlatformSlack {
		t.Fatalf("expected channel to belong to slack")
	}
}

func TestSyncTaskTransitionTo_ValidAndInvalid(t *testing.T) {
	now := time.Now().UTC()
	task := SyncTask{Status: TaskStatusPending}

	if err := task.TransitionTo(TaskStatusRunning, "", now); err != nil {
		t.Fatalf("expected pending->running to work: %v", err)
	}
	if err := task.TransitionTo(TaskStatusFailed, "upstream timeout", now); err != nil {
		t.Fatalf("expected running->failed to work: %v", err)
	}
	if task.LastError != "upstream timeout" {
		t.Fatalf("expected last_error to be set, got %q", task.LastError)
	}
	if err := task.TransitionTo(TaskStatusPending, "", now); err != nil {
		t.Fatalf("expected failed->pending requeue to work: %v", err)
	}

	err := task.TransitionTo(TaskStatusSucceeded, "", now)
	if !errors.Is(err, ErrInvalidTaskStatusTransition) {
		t.Fatalf("expected invalid transition error, got: %v", err)
	}
}

func TestSyncTaskTransitionTo_SucceededClearsError(t *testing.T) {
	now := time.Now().UTC()
	task := SyncTask{Status: TaskStatusRunning, LastError: "previous failure"}

	if err := task.TransitionTo(TaskStatusSucceeded, "", now); err != nil {
		t.Fatalf("expected running->succeeded to work: %v", err)
	}
	if task.LastError != "" {
		t.Fatalf("expected last_error cleared, got %q", task.LastError)
	}
}

func TestSyncTaskValidate(t *testing.T) {
	task := SyncTask{
		Kind:       EntityKindJob,
		ExternalID: "J-100",
		Op:         TaskOpUpsert,
		ParentRefs: []ParentRef{{Kind: EntityKindClient, ExternalID: "C-1", Field: "client_id"}},
	}
	if err := task.Validate(); err != nil {
		t.Fatalf("expected valid task, got: %v", err)
	}

	task.ParentRefs[0].ExternalID = " "
	if err := task.Validate(); err == nil {
		t.Fatalf("expected empty parent ref id to fail validation")
	}

	task.ParentRefs = nil
	task.Op = "replace"
	if err := task.Validate(); !errors.Is(err, ErrInvalidTaskOp) {
		t.Fatalf("expected invalid op error, got: %v", err)
	}
}

func TestSyncTaskPartitionKey(t *testing.T) {
	a := SyncTask{Kind: EntityKindClient, ExternalID: "C-9"}
	b := SyncTask{Kind: EntityKindJob, ExternalID: "C-9"}
	if a.PartitionKey() == b.PartitionKey() {
		t.Fatalf("expected distinct partition keys across kinds")
	}
	if a.PartitionKey() != "client:C-9" {
		t.Fatalf("unexpected partition key %q", a.PartitionKey())
	}
}

func TestEntityRecordClone(t *testing.T) {
	record := EntityRecord{
		Kind:       EntityKindClient,
		ExternalID: "C-1",
		Fields:     map[string]any{"name": "Ada"},
	}
	cloned := record.Clone()
	cloned.Fields["name"] = "Grace"
	if record.Fields["name"] != "Ada" {
		t.Fatalf("expected clone to not alias source fields")
	}
}
