package inbound

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/providers/jobber"
)

// legacyJobberPayload is the flat form older integrations post:
// the event type plus an inline snapshot of the entity.
type legacyJobberPayload struct {
	EventType        string          `json:"event_type"`
	Type             string          `json:"type"`
	ExternalID       string          `json:"external_id"`
	ClientExternalID string          `json:"client_external_id"`
	JobExternalID    string          `json:"job_external_id"`
	Client           json.RawMessage `json:"client"`
	Job              json.RawMessage `json:"job"`
	Invoice          json.RawMessage `json:"invoice"`
}

func (r *Router) routeJobber(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	event, err := jobber.ParseEnvelope(req.Body)
	if err != nil {
		return r.observeMalformed(ctx, req, "decode webhook envelope"), nil
	}

	topic := event.Topic
	itemID := event.ItemID
	var legacy legacyJobberPayload
	if topic == "" {
		if err := json.Unmarshal(req.Body, &legacy); err != nil {
			return r.observeMalformed(ctx, req, "decode webhook payload"), nil
		}
		topic = legacy.EventType
		if topic == "" {
			topic = legacy.Type
		}
	}

	kind := ParseJobberTopic(topic)
	if kind == EventKindUnknown {
		return r.observeUnknownEvent(ctx, req, topic), nil
	}

	entityKind, op := jobberTaskShape(kind)
	fields, inlineID, parents := legacy.normalize(entityKind)
	if itemID == "" {
		itemID = strings.TrimSpace(legacy.ExternalID)
	}
	if itemID == "" {
		itemID = inlineID
	}
	if itemID == "" {
		return r.observeMalformed(ctx, req, "event without item id"), nil
	}

	task := core.SyncTask{
		Kind:       entityKind,
		ExternalID: itemID,
		Op:         op,
		Transition: kind.Transition(),
		Fields:     fields,
		ParentRefs: parents,
		Status:     core.TaskStatusPending,
		CreatedAt:  r.now(),
	}
	return r.enqueue(ctx, req, kind, []core.SyncTask{task})
}

func jobberTaskShape(kind EventKind) (core.EntityKind, core.TaskOp) {
	switch kind {
	case EventKindJobberClientCreate, EventKindJobberClientUpdate:
		return core.EntityKindClient, core.TaskOpUpsert
	case EventKindJobberClientDestroy:
		return core.EntityKindClient, core.TaskOpDelete
	case EventKindJobberJobCreate, EventKindJobberJobUpdate:
		return core.EntityKindJob, core.TaskOpUpsert
	case EventKindJobberJobDestroy:
		return core.EntityKindJob, core.TaskOpDelete
	case EventKindJobberInvoiceCreate, EventKindJobberInvoiceUpdate, EventKindJobberInvoicePaid:
		return core.EntityKindInvoice, core.TaskOpUpsert
	default:
		return "", core.TaskOpUpsert
	}
}

// normalize extracts whatever inline snapshot the legacy payload
// carries. Subscription-topic deliveries carry none; those tasks go
// out with empty fields and are enriched from the API at sync time.
func (p legacyJobberPayload) normalize(kind core.EntityKind) (map[string]any, string, []core.ParentRef) {
	var raw json.RawMessage
	switch kind {
	case core.EntityKindClient:
		raw = p.Client
	case core.EntityKindJob:
		raw = p.Job
	case core.EntityKindInvoice:
		raw = p.Invoice
	}

	fields := map[string]any{}
	inlineID := ""
	if len(raw) > 0 {
		var snapshot map[string]any
		if err := json.Unmarshal(raw, &snapshot); err == nil {
			for key, value := range snapshot {
				if key == "id" {
					inlineID = strings.TrimSpace(stringValue(value))
					continue
				}
				if value == nil {
					continue
				}
				fields[key] = value
			}
		}
	}

	var parents []core.ParentRef
	clientID := strings.TrimSpace(p.ClientExternalID)
	if clientID == "" {
		clientID = strings.TrimSpace(stringValue(fields["client_id"]))
	}
	if clientID != "" && (kind == core.EntityKindJob || kind == core.EntityKindInvoice) {
		fields["client_id"] = clientID
		parents = append(parents, core.ParentRef{Kind: core.EntityKindClient, ExternalID: clientID, Field: "client_id"})
	}
	jobID := strings.TrimSpace(p.JobExternalID)
	if jobID == "" {
		jobID = strings.TrimSpace(stringValue(fields["job_id"]))
	}
	if jobID != "" && kind == core.EntityKindInvoice {
		fields["job_id"] = jobID
		parents = append(parents, core.ParentRef{Kind: core.EntityKindJob, ExternalID: jobID, Field: "job_id"})
	}

	if len(fields) == 0 {
		fields = nil
	}
	return fields, inlineID, parents
}

func stringValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return ""
	}
}
