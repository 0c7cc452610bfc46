package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/trianglegrrl/dhyana/core"
)

type stubEnqueuer struct {
	tasks []core.SyncTask
	err   error
}

func (s *stubEnqueuer) Enqueue(_ context.Context, task core.SyncTask) (core.SyncTask, error) {
	if s.err != nil {
		return core.SyncTask{}, s.err
	}
	task.ID = fmt.Sprintf("task-%d", len(s.tasks)+1)
	s.tasks = append(s.tasks, task)
	return task, nil
}

type spyMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (s *spyMetrics) IncCounter(_ context.Context, name string, delta int64, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters == nil {
		s.counters = map[string]int64{}
	}
	s.counters[name] += delta
}

func (s *spyMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (s *spyMetrics) count(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

func newTestRouter(t *testing.T, enqueuer *stubEnqueuer, metrics *spyMetrics, options ...RouterOption) *Router {
	t.Helper()
	options = append(options,
		WithRouterMetrics(metrics),
		WithRouterClock(func() time.Time { return time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC) }),
	)
	router, err := NewRouter(enqueuer, options...)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return router
}

func slackEventRequest(t *testing.T, envelope map[string]any) core.InboundRequest {
	t.Helper()
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return core.InboundRequest{Platform: core.PlatformSlack, Surface: SurfaceEvents, Body: body}
}

func TestRouter_SlackURLVerification(t *testing.T) {
	router := newTestRouter(t, &stubEnqueuer{}, &spyMetrics{})

	result, err := router.Handle(context.Background(), slackEventRequest(t, map[string]any{
		"type":      "url_verification",
		"challenge": "c-123",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	var reply map[string]string
	if err := json.Unmarshal(result.Body, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply["challenge"] != "c-123" {
		t.Fatalf("expected challenge echo, got %v", reply)
	}
}

func TestRouter_SlackMessageEnqueuesTask(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	router := newTestRouter(t, enqueuer, &spyMetrics{})

	result, err := router.Handle(context.Background(), slackEventRequest(t, map[string]any{
		"type":    "event_callback",
		"team_id": "T1",
		"event": map[string]any{
			"type":      "message",
			"ts":        "1700000000.000100",
			"channel":   "C42",
			"user":      "U7",
			"text":      "gutters look rough",
			"thread_ts": "1700000000.000001",
		},
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.Accepted || result.StatusCode != 200 {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(enqueuer.tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(enqueuer.tasks))
	}
	task := enqueuer.tasks[0]
	if task.Kind != core.EntityKindMessage || task.ExternalID != "1700000000.000100" {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.Op != core.TaskOpUpsert || task.Fields["channel_id"] != "C42" || task.Fields["user_id"] != "U7" {
		t.Fatalf("unexpected task shape %+v", task)
	}
	if len(task.ParentRefs) != 2 {
		t.Fatalf("expected channel and user parent refs, got %+v", task.ParentRefs)
	}
}

func TestRouter_SlackBotMessagesSkipped(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	router := newTestRouter(t, enqueuer, &spyMetrics{})

	result, err := router.Handle(context.Background(), slackEventRequest(t, map[string]any{
		"type": "event_callback",
		"event": map[string]any{
			"type":    "message",
			"ts":      "1700000000.000100",
			"channel": "C42",
			"bot_id":  "B9",
		},
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Metadata["outcome"] != "skipped_bot" {
		t.Fatalf("expected bot skip, got %v", result.Metadata)
	}
	if len(enqueuer.tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(enqueuer.tasks))
	}
}

func TestRouter_SlackMessageDeleted(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	router := newTestRouter(t, enqueuer, &spyMetrics{})

	_, err := router.Handle(context.Background(), slackEventRequest(t, map[string]any{
		"type": "event_callback",
		"event": map[string]any{
			"type":       "message",
			"subtype":    "message_deleted",
			"channel":    "C42",
			"deleted_ts": "1700000000.000100",
		},
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(enqueuer.tasks) != 1 || enqueuer.tasks[0].Op != core.TaskOpDelete {
		t.Fatalf("expected delete task, got %+v", enqueuer.tasks)
	}
}

func TestRouter_SlackChannelLifecycle(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	router := newTestRouter(t, enqueuer, &spyMetrics{})
	ctx := context.Background()

	_, err := router.Handle(ctx, slackEventRequest(t, map[string]any{
		"type":    "event_callback",
		"team_id": "T1",
		"event": map[string]any{
			"type":    "channel_created",
			"channel": map[string]any{"id": "C42", "name": "roofing", "is_private": false},
		},
	}))
	if err != nil {
		t.Fatalf("channel_created: %v", err)
	}
	_, err = router.Handle(ctx, slackEventRequest(t, map[string]any{
		"type":    "event_callback",
		"team_id": "T1",
		"event":   map[string]any{"type": "channel_archive", "channel": "C42"},
	}))
	if err != nil {
		t.Fatalf("channel_archive: %v", err)
	}

	if len(enqueuer.tasks) != 2 {
		t.Fatalf("expected two tasks, got %d", len(enqueuer.tasks))
	}
	created, archived := enqueuer.tasks[0], enqueuer.tasks[1]
	if created.Kind != core.EntityKindChannel || created.Fields["name"] != "roofing" {
		t.Fatalf("unexpected created task %+v", created)
	}
	if len(created.ParentRefs) != 1 || created.ParentRefs[0].Kind != core.EntityKindTeam {
		t.Fatalf("expected team parent ref, got %+v", created.ParentRefs)
	}
	if archived.Op != core.TaskOpDelete || archived.ExternalID != "C42" {
		t.Fatalf("unexpected archive task %+v", archived)
	}
}

func TestRouter_SlackTeamJoin(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	router := newTestRouter(t, enqueuer, &spyMetrics{})

	_, err := router.Handle(context.Background(), slackEventRequest(t, map[string]any{
		"type":    "event_callback",
		"team_id": "T1",
		"event": map[string]any{
			"type": "team_join",
			"user": map[string]any{
				"id":        "U7",
				"name":      "ada",
				"real_name": "Ada Lovelace",
				"profile":   map[string]any{"email": "ada@example.com"},
			},
		},
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(enqueuer.tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(enqueuer.tasks))
	}
	task := enqueuer.tasks[0]
	if task.Kind != core.EntityKindUser || task.Fields["email"] != "ada@example.com" {
		t.Fatalf("unexpected user task %+v", task)
	}
}

func TestRouter_UnknownAndMalformedAreAcked(t *testing.T) {
	metrics := &spyMetrics{}
	enqueuer := &stubEnqueuer{}
	router := newTestRouter(t, enqueuer, metrics)
	ctx := context.Background()

	result, err := router.Handle(ctx, slackEventRequest(t, map[string]any{
		"type":  "event_callback",
		"event": map[string]any{"type": "emoji_changed"},
	}))
	if err != nil {
		t.Fatalf("unknown event: %v", err)
	}
	if !result.Accepted || result.StatusCode != 200 {
		t.Fatalf("unknown events must be acked, got %+v", result)
	}
	if metrics.count("router.unknown_event") != 1 {
		t.Fatalf("expected unknown_event counter")
	}

	result, err = router.Handle(ctx, core.InboundRequest{
		Platform: core.PlatformSlack,
		Surface:  SurfaceEvents,
		Body:     []byte(`{not json`),
	})
	if err != nil {
		t.Fatalf("malformed body: %v", err)
	}
	if !result.Accepted || result.StatusCode != 200 {
		t.Fatalf("malformed bodies must be acked, got %+v", result)
	}
	if metrics.count("router.malformed_payload") != 1 {
		t.Fatalf("expected malformed_payload counter")
	}
	if len(enqueuer.tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(enqueuer.tasks))
	}
}

func TestRouter_JobberTopicEnvelope(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	router := newTestRouter(t, enqueuer, &spyMetrics{})

	body := []byte(`{"data":{"webHookEvent":{"topic":"JOB_CREATE","itemId":"J-100","occuredAt":"2026-02-13T11:59:00Z"}}}`)
	result, err := router.Handle(context.Background(), core.InboundRequest{
		Platform: core.PlatformJobber,
		Body:     body,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("expected ack, got %+v", result)
	}
	if len(enqueuer.tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(enqueuer.tasks))
	}
	task := enqueuer.tasks[0]
	if task.Kind != core.EntityKindJob || task.ExternalID != "J-100" {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.Transition != "job.created" {
		t.Fatalf("unexpected transition %q", task.Transition)
	}
	if len(task.Fields) != 0 {
		t.Fatalf("topic deliveries carry no fields, got %+v", task.Fields)
	}
}

func TestRouter_JobberLegacyFlatPayload(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	router := newTestRouter(t, enqueuer, &spyMetrics{})

	body := []byte(`{"type":"JOB_CREATE","external_id":"J-100","client_external_id":"C-9"}`)
	_, err := router.Handle(context.Background(), core.InboundRequest{
		Platform: core.PlatformJobber,
		Body:     body,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(enqueuer.tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(enqueuer.tasks))
	}
	task := enqueuer.tasks[0]
	if task.ExternalID != "J-100" {
		t.Fatalf("unexpected external id %q", task.ExternalID)
	}
	if len(task.ParentRefs) != 1 || task.ParentRefs[0].ExternalID != "C-9" {
		t.Fatalf("expected client parent ref, got %+v", task.ParentRefs)
	}
}

func TestRouter_JobberLegacyInlineSnapshot(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	router := newTestRouter(t, enqueuer, &spyMetrics{})

	body := []byte(`{"event_type":"client.created","client":{"id":"C-9","company_name":"Analytical Engines","email":"ada@example.com"}}`)
	_, err := router.Handle(context.Background(), core.InboundRequest{
		Platform: core.PlatformJobber,
		Body:     body,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(enqueuer.tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(enqueuer.tasks))
	}
	task := enqueuer.tasks[0]
	if task.Kind != core.EntityKindClient || task.ExternalID != "C-9" {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.Fields["company_name"] != "Analytical Engines" {
		t.Fatalf("expected inline fields, got %+v", task.Fields)
	}
	if task.Transition != "client.created" {
		t.Fatalf("unexpected transition %q", task.Transition)
	}
}

type stubResponder struct {
	last  SlashCommand
	reply string
	err   error
}

func (s *stubResponder) Respond(_ context.Context, cmd SlashCommand) (string, error) {
	s.last = cmd
	return s.reply, s.err
}

func TestRouter_SlashCommands(t *testing.T) {
	responder := &stubResponder{reply: "Recent clients:\n• Analytical Engines"}
	router := newTestRouter(t, &stubEnqueuer{}, &spyMetrics{}, WithCommandResponder(responder))

	form := url.Values{}
	form.Set("command", "/jobber")
	form.Set("text", "clients")
	form.Set("channel_id", "C42")
	result, err := router.Handle(context.Background(), core.InboundRequest{
		Platform: core.PlatformSlack,
		Surface:  SurfaceCommands,
		Body:     []byte(form.Encode()),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if responder.last.Text != "clients" || responder.last.ChannelID != "C42" {
		t.Fatalf("unexpected command %+v", responder.last)
	}
	var reply map[string]string
	if err := json.Unmarshal(result.Body, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply["text"] != responder.reply {
		t.Fatalf("unexpected reply %q", reply["text"])
	}
}

func TestRouter_InteractionsAcked(t *testing.T) {
	metrics := &spyMetrics{}
	router := newTestRouter(t, &stubEnqueuer{}, metrics)

	form := url.Values{}
	form.Set("payload", `{"type":"block_actions"}`)
	result, err := router.Handle(context.Background(), core.InboundRequest{
		Platform: core.PlatformSlack,
		Surface:  SurfaceInteractions,
		Body:     []byte(form.Encode()),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Metadata["outcome"] != "acknowledged" {
		t.Fatalf("expected ack outcome, got %v", result.Metadata)
	}
	if metrics.count("router.interaction") != 1 {
		t.Fatalf("expected interaction counter")
	}
}

func TestParseJobberTopic(t *testing.T) {
	cases := map[string]EventKind{
		"CLIENT_CREATE":  EventKindJobberClientCreate,
		"client.created": EventKindJobberClientCreate,
		"INVOICE_PAID":   EventKindJobberInvoicePaid,
		"invoice.paid":   EventKindJobberInvoicePaid,
		"JOB_DESTROY":    EventKindJobberJobDestroy,
		"mystery":        EventKindUnknown,
	}
	for raw, want := range cases {
		if got := ParseJobberTopic(raw); got != want {
			t.Fatalf("ParseJobberTopic(%q) = %q, want %q", raw, got, want)
		}
	}
}
