package notify

import (
	"fmt"
	"strings"

	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/providers/slack"
)

// BuildMessage renders the Block Kit message for one entity change.
// Templates are keyed by transition; anything without a dedicated
// template gets the generic announcement.
func BuildMessage(channel string, change core.EntityChange) slack.ChatMessage {
	switch change.Transition {
	case "client.created":
		return clientCreatedMessage(channel, change)
	case "job.created":
		return jobCreatedMessage(channel, change)
	case "invoice.paid":
		return invoicePaidMessage(channel, change)
	default:
		return genericMessage(channel, change)
	}
}

func clientCreatedMessage(channel string, change core.EntityChange) slack.ChatMessage {
	name := fieldString(change.Fields, "name")
	if name == "" {
		name = fieldString(change.Fields, "company_name")
	}
	if name == "" {
		name = change.ExternalID
	}
	return slack.ChatMessage{
		Channel: channel,
		Text:    "New client: " + name,
		Blocks: []map[string]any{
			sectionText(fmt.Sprintf("👤 *New Client Created*\n*%s*", name)),
			sectionFields(
				labeled("Email", fieldStringOr(change.Fields, "email", "Not provided")),
				labeled("ID", change.ExternalID),
			),
		},
	}
}

func jobCreatedMessage(channel string, change core.EntityChange) slack.ChatMessage {
	title := fieldStringOr(change.Fields, "title", "Untitled Job")
	return slack.ChatMessage{
		Channel: channel,
		Text:    "New job: " + title,
		Blocks: []map[string]any{
			sectionText(fmt.Sprintf("🆕 *New Job Created*\n*%s*", title)),
			sectionFields(
				labeled("Client", fieldStringOr(change.Fields, "client_id", "Unknown")),
				labeled("Status", fieldStringOr(change.Fields, "status", "Unknown")),
				labeled("Total", moneyString(change.Fields, "total_cents")),
				labeled("Start Date", fieldStringOr(change.Fields, "start_at", "TBD")),
			),
		},
	}
}

func invoicePaidMessage(channel string, change core.EntityChange) slack.ChatMessage {
	number := fieldStringOr(change.Fields, "invoice_number", change.ExternalID)
	return slack.ChatMessage{
		Channel: channel,
		Text:    "Invoice paid: #" + number,
		Blocks: []map[string]any{
			sectionText(fmt.Sprintf("💰 *Invoice Paid*\n*Invoice #%s*", number)),
			sectionFields(
				labeled("Client", fieldStringOr(change.Fields, "client_id", "Unknown")),
				labeled("Amount", moneyString(change.Fields, "total_cents")),
			),
		},
	}
}

func genericMessage(channel string, change core.EntityChange) slack.ChatMessage {
	title := titleWords(strings.ReplaceAll(change.Transition, ".", " "))
	return slack.ChatMessage{
		Channel: channel,
		Text:    fmt.Sprintf("%s: %s", title, change.ExternalID),
		Blocks: []map[string]any{
			sectionText(fmt.Sprintf("📢 *%s*\n%s", title, change.ExternalID)),
		},
	}
}

func titleWords(text string) string {
	words := strings.Fields(text)
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func sectionText(text string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func sectionFields(fields ...map[string]any) map[string]any {
	items := make([]any, 0, len(fields))
	for _, field := range fields {
		items = append(items, field)
	}
	return map[string]any{"type": "section", "fields": items}
}

func labeled(label, value string) map[string]any {
	return map[string]any{
		"type": "mrkdwn",
		"text": fmt.Sprintf("*%s:*\n%s", label, value),
	}
}

func fieldString(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	if value, ok := fields[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func fieldStringOr(fields map[string]any, key, fallback string) string {
	if value := fieldString(fields, key); value != "" {
		return value
	}
	return fallback
}

func moneyString(fields map[string]any, key string) string {
	if fields == nil {
		return "$0.00"
	}
	var cents int64
	switch typed := fields[key].(type) {
	case int64:
		cents = typed
	case int:
		cents = int64(typed)
	case float64:
		cents = int64(typed)
	default:
		return "$0.00"
	}
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
