package inbound

import "strings"

// EventKind enumerates every event the router knows how to handle.
// The router switches exhaustively over these so a newly supported
// event is a visible gap, not a silent string miss.
type EventKind string

const (
	EventKindUnknown EventKind = "unknown"

	EventKindSlackURLVerification EventKind = "slack.url_verification"
	EventKindSlackMessage         EventKind = "slack.message"
	EventKindSlackAppMention      EventKind = "slack.app_mention"
	EventKindSlackChannelCreated  EventKind = "slack.channel_created"
	EventKindSlackChannelRename   EventKind = "slack.channel_rename"
	EventKindSlackChannelArchive  EventKind = "slack.channel_archive"
	EventKindSlackTeamJoin        EventKind = "slack.team_join"
	EventKindSlackUserChange      EventKind = "slack.user_change"

	EventKindJobberClientCreate  EventKind = "jobber.client_create"
	EventKindJobberClientUpdate  EventKind = "jobber.client_update"
	EventKindJobberClientDestroy EventKind = "jobber.client_destroy"
	EventKindJobberJobCreate     EventKind = "jobber.job_create"
	EventKindJobberJobUpdate     EventKind = "jobber.job_update"
	EventKindJobberJobDestroy    EventKind = "jobber.job_destroy"
	EventKindJobberInvoiceCreate EventKind = "jobber.invoice_create"
	EventKindJobberInvoiceUpdate EventKind = "jobber.invoice_update"
	EventKindJobberInvoicePaid   EventKind = "jobber.invoice_paid"
)

func ParseSlackEventKind(eventType string) EventKind {
	switch strings.TrimSpace(strings.ToLower(eventType)) {
	case "url_verification":
		return EventKindSlackURLVerification
	case "message":
		return EventKindSlackMessage
	case "app_mention":
		return EventKindSlackAppMention
	case "channel_created":
		return EventKindSlackChannelCreated
	case "channel_rename":
		return EventKindSlackChannelRename
	case "channel_archive":
		return EventKindSlackChannelArchive
	case "team_join":
		return EventKindSlackTeamJoin
	case "user_change":
		return EventKindSlackUserChange
	default:
		return EventKindUnknown
	}
}

// ParseJobberTopic accepts both the subscription topic form
// (JOB_CREATE) and the legacy dotted form (job.created).
func ParseJobberTopic(topic string) EventKind {
	normalized := strings.TrimSpace(strings.ToUpper(topic))
	normalized = strings.ReplaceAll(normalized, ".", "_")
	switch normalized {
	case "CLIENT_CREATE", "CLIENT_CREATED":
		return EventKindJobberClientCreate
	case "CLIENT_UPDATE", "CLIENT_UPDATED":
		return EventKindJobberClientUpdate
	case "CLIENT_DESTROY", "CLIENT_DELETED", "CLIENT_ARCHIVED":
		return EventKindJobberClientDestroy
	case "JOB_CREATE", "JOB_CREATED":
		return EventKindJobberJobCreate
	case "JOB_UPDATE", "JOB_UPDATED":
		return EventKindJobberJobUpdate
	case "JOB_DESTROY", "JOB_DELETED", "JOB_ARCHIVED":
		return EventKindJobberJobDestroy
	case "INVOICE_CREATE", "INVOICE_CREATED":
		return EventKindJobberInvoiceCreate
	case "INVOICE_UPDATE", "INVOICE_UPDATED":
		return EventKindJobberInvoiceUpdate
	case "INVOICE_PAID":
		return EventKindJobberInvoicePaid
	default:
		return EventKindUnknown
	}
}

// Transition returns the change-notification transition name for a
// jobber event kind, empty for kinds that do not announce one.
func (k EventKind) Transition() string {
	switch k {
	case EventKindJobberClientCreate:
		return "client.created"
	case EventKindJobberClientUpdate:
		return "client.updated"
	case EventKindJobberClientDestroy:
		return "client.deleted"
	case EventKindJobberJobCreate:
		return "job.created"
	case EventKindJobberJobUpdate:
		return "job.updated"
	case EventKindJobberJobDestroy:
		return "job.deleted"
	case EventKindJobberInvoiceCreate:
		return "invoice.created"
	case EventKindJobberInvoiceUpdate:
		return "invoice.updated"
	case EventKindJobberInvoicePaid:
		return "invoice.paid"
	default:
		return ""
	}
}
