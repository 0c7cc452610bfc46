package inbound

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/trianglegrrl/dhyana/core"
)

const (
	SurfaceEvents       = "events"
	SurfaceInteractions = "interactions"
	SurfaceCommands     = "commands"
)

type slackEnvelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	TeamID    string          `json:"team_id"`
	Event     json.RawMessage `json:"event"`
}

type slackEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	BotID     string          `json:"bot_id"`
	TS        string          `json:"ts"`
	DeletedTS string          `json:"deleted_ts"`
	ThreadTS  string          `json:"thread_ts"`
	Text      string          `json:"text"`
	Channel   json.RawMessage `json:"channel"`
	User      json.RawMessage `json:"user"`
	Team      string          `json:"team"`
}

type slackChannel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
}

type slackUser struct {
	ID       string `json:"id"`
	TeamID   string `json:"team_id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
	Deleted  bool   `json:"deleted"`
	Profile  struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
	} `json:"profile"`
}

func (r *Router) routeSlack(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	switch strings.TrimSpace(strings.ToLower(req.Surface)) {
	case SurfaceInteractions:
		return r.handleSlackInteraction(ctx, req)
	case SurfaceCommands:
		return r.handleSlackCommand(ctx, req)
	default:
		return r.handleSlackEvent(ctx, req)
	}
}

func (r *Router) handleSlackEvent(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	var envelope slackEnvelope
	if err := json.Unmarshal(req.Body, &envelope); err != nil {
		return r.observeMalformed(ctx, req, "decode event envelope"), nil
	}

	if strings.EqualFold(envelope.Type, "url_verification") {
		body, _ := json.Marshal(map[string]string{"challenge": envelope.Challenge})
		return core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Body:       body,
			Metadata:   map[string]any{"outcome": "url_verification"},
		}, nil
	}
	if !strings.EqualFold(envelope.Type, "event_callback") {
		return r.observeUnknownEvent(ctx, req, envelope.Type), nil
	}

	var event slackEvent
	if err := json.Unmarshal(envelope.Event, &event); err != nil {
		return r.observeMalformed(ctx, req, "decode event body"), nil
	}

	kind := ParseSlackEventKind(event.Type)
	switch kind {
	case EventKindSlackMessage:
		return r.handleSlackMessage(ctx, req, envelope, event)
	case EventKindSlackAppMention:
		// Mentions are acknowledged without producing sync state.
		core.RecordCounter(ctx, r.metrics, "router.app_mention", 1, nil)
		return ackResult(map[string]any{"outcome": "acknowledged", "event_kind": string(kind)}), nil
	case EventKindSlackChannelCreated, EventKindSlackChannelRename:
		return r.handleSlackChannelUpsert(ctx, req, envelope, event, kind)
	case EventKindSlackChannelArchive:
		return r.handleSlackChannelArchive(ctx, req, envelope, event)
	case EventKindSlackTeamJoin, EventKindSlackUserChange:
		return r.handleSlackUserUpsert(ctx, req, envelope, event, kind)
	case EventKindSlackURLVerification, EventKindUnknown:
		return r.observeUnknownEvent(ctx, req, event.Type), nil
	default:
		return r.observeUnknownEvent(ctx, req, event.Type), nil
	}
}

func (r *Router) handleSlackMessage(ctx context.Context, req core.InboundRequest, envelope slackEnvelope, event slackEvent) (core.InboundResult, error) {
	if event.BotID != "" || strings.EqualFold(event.Subtype, "bot_message") {
		return ackResult(map[string]any{"outcome": "skipped_bot"}), nil
	}
	channelID := decodeSlackID(event.Channel)
	if channelID == "" {
		return r.observeMalformed(ctx, req, "message without channel"), nil
	}

	now := r.now()
	if strings.EqualFold(event.Subtype, "message_deleted") {
		externalID := event.DeletedTS
		if externalID == "" {
			externalID = event.TS
		}
		if externalID == "" {
			return r.observeMalformed(ctx, req, "message_deleted without ts"), nil
		}
		task := core.SyncTask{
			Kind:       core.EntityKindMessage,
			ExternalID: externalID,
			Op:         core.TaskOpDelete,
			Status:     core.TaskStatusPending,
			CreatedAt:  now,
			ParentRefs: []core.ParentRef{
				{Kind: core.EntityKindChannel, ExternalID: channelID, Field: "channel_id"},
			},
		}
		return r.enqueue(ctx, req, EventKindSlackMessage, []core.SyncTask{task})
	}

	if event.TS == "" {
		return r.observeMalformed(ctx, req, "message without ts"), nil
	}
	userID := decodeSlackID(event.User)
	messageType := event.Subtype
	if messageType == "" {
		messageType = "message"
	}
	fields := map[string]any{
		"channel_id":   channelID,
		"text":         event.Text,
		"message_type": messageType,
	}
	parents := []core.ParentRef{
		{Kind: core.EntityKindChannel, ExternalID: channelID, Field: "channel_id"},
	}
	if userID != "" {
		fields["user_id"] = userID
		parents = append(parents, core.ParentRef{Kind: core.EntityKindUser, ExternalID: userID, Field: "user_id"})
	}
	if event.ThreadTS != "" {
		fields["thread_ts"] = event.ThreadTS
	}
	if envelope.TeamID != "" {
		fields["team_id"] = envelope.TeamID
	}

	task := core.SyncTask{
		Kind:       core.EntityKindMessage,
		ExternalID: event.TS,
		Op:         core.TaskOpUpsert,
		Fields:     fields,
		ParentRefs: parents,
		Status:     core.TaskStatusPending,
		CreatedAt:  now,
	}
	return r.enqueue(ctx, req, EventKindSlackMessage, []core.SyncTask{task})
}

func (r *Router) handleSlackChannelUpsert(ctx context.Context, req core.InboundRequest, envelope slackEnvelope, event slackEvent, kind EventKind) (core.InboundResult, error) {
	var channel slackChannel
	if err := json.Unmarshal(event.Channel, &channel); err != nil || channel.ID == "" {
		return r.observeMalformed(ctx, req, "channel event without channel object"), nil
	}

	fields := map[string]any{
		"name":       channel.Name,
		"is_private": channel.IsPrivate,
	}
	var parents []core.ParentRef
	if envelope.TeamID != "" {
		fields["team_id"] = envelope.TeamID
		parents = append(parents, core.ParentRef{Kind: core.EntityKindTeam, ExternalID: envelope.TeamID, Field: "team_id"})
	}

	task := core.SyncTask{
		Kind:       core.EntityKindChannel,
		ExternalID: channel.ID,
		Op:         core.TaskOpUpsert,
		Fields:     fields,
		ParentRefs: parents,
		Status:     core.TaskStatusPending,
		CreatedAt:  r.now(),
	}
	return r.enqueue(ctx, req, kind, []core.SyncTask{task})
}

func (r *Router) handleSlackChannelArchive(ctx context.Context, req core.InboundRequest, envelope slackEnvelope, event slackEvent) (core.InboundResult, error) {
	channelID := decodeSlackID(event.Channel)
	if channelID == "" {
		return r.observeMalformed(ctx, req, "channel_archive without channel"), nil
	}
	task := core.SyncTask{
		Kind:       core.EntityKindChannel,
		ExternalID: channelID,
		Op:         core.TaskOpDelete,
		Status:     core.TaskStatusPending,
		CreatedAt:  r.now(),
	}
	if envelope.TeamID != "" {
		task.ParentRefs = []core.ParentRef{
			{Kind: core.EntityKindTeam, ExternalID: envelope.TeamID, Field: "team_id"},
		}
	}
	return r.enqueue(ctx, req, EventKindSlackChannelArchive, []core.SyncTask{task})
}

func (r *Router) handleSlackUserUpsert(ctx context.Context, req core.InboundRequest, envelope slackEnvelope, event slackEvent, kind EventKind) (core.InboundResult, error) {
	var user slackUser
	if err := json.Unmarshal(event.User, &user); err != nil || user.ID == "" {
		return r.observeMalformed(ctx, req, "user event without user object"), nil
	}

	teamID := user.TeamID
	if teamID == "" {
		teamID = envelope.TeamID
	}
	fields := map[string]any{
		"username":  user.Name,
		"real_name": user.RealName,
	}
	if user.Profile.Email != "" {
		fields["email"] = user.Profile.Email
	}
	if user.Profile.DisplayName != "" {
		fields["display_name"] = user.Profile.DisplayName
	}
	var parents []core.ParentRef
	if teamID != "" {
		fields["team_id"] = teamID
		parents = append(parents, core.ParentRef{Kind: core.EntityKindTeam, ExternalID: teamID, Field: "team_id"})
	}

	op := core.TaskOpUpsert
	if user.Deleted {
		op = core.TaskOpDelete
	}
	task := core.SyncTask{
		Kind:       core.EntityKindUser,
		ExternalID: user.ID,
		Op:         op,
		Fields:     fields,
		ParentRefs: parents,
		Status:     core.TaskStatusPending,
		CreatedAt:  r.now(),
	}
	return r.enqueue(ctx, req, kind, []core.SyncTask{task})
}

func (r *Router) handleSlackInteraction(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return r.observeMalformed(ctx, req, "decode interaction form"), nil
	}
	var payload struct {
		Type string `json:"type"`
	}
	raw := form.Get("payload")
	if raw == "" {
		raw = string(req.Body)
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload.Type == "" {
		return r.observeMalformed(ctx, req, "decode interaction payload"), nil
	}

	switch strings.ToLower(payload.Type) {
	case "block_actions", "view_submission", "shortcut":
		core.RecordCounter(ctx, r.metrics, "router.interaction", 1, map[string]string{
			"type": strings.ToLower(payload.Type),
		})
		return ackResult(map[string]any{"outcome": "acknowledged", "interaction": payload.Type}), nil
	default:
		return r.observeUnknownEvent(ctx, req, payload.Type), nil
	}
}

func (r *Router) handleSlackCommand(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return r.observeMalformed(ctx, req, "decode command form"), nil
	}
	cmd := SlashCommand{
		Command:   form.Get("command"),
		Text:      form.Get("text"),
		UserID:    form.Get("user_id"),
		ChannelID: form.Get("channel_id"),
		TeamID:    form.Get("team_id"),
	}
	if r.commands == nil {
		return textResult("Unknown command"), nil
	}
	reply, err := r.commands.Respond(ctx, cmd)
	if err != nil {
		core.LogError(ctx, r.logger, "slash command failed", map[string]any{
			"command": cmd.Command,
			"error":   err.Error(),
		})
		return textResult("Something went wrong, try again shortly"), nil
	}
	return textResult(reply), nil
}

// decodeSlackID reads a field that is a plain id string in some
// events and an object with an id in others.
func decodeSlackID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var object struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &object); err == nil {
		return strings.TrimSpace(object.ID)
	}
	return ""
}
