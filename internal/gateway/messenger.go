package gateway

import (
	"context"
	"errors"

	"missioncontrol/internal/config"
)

// Messenger posts final answers through the gateway's message tool.
type Messenger struct {
	Client   *Client
	Channel  string
	Target   string
	ThreadID string
}

func NewMessenger(client *Client, cfg config.DeliveryConfig) Messenger {
	return Messenger{
		Client:   client,
		Channel:  cfg.Channel,
		Target:   cfg.ChatID,
		ThreadID: cfg.TopicID,
	}
}

// Deliver sends text once. Every failure, including missing configuration, is a *DeliveryError.
func (m Messenger) Deliver(ctx context.Context, text string) error {
	if !m.Client.Configured() {
		return &DeliveryError{Reason: ErrNotConfigured.Error(), Err: ErrNotConfigured}
	}
	if m.Target == "" {
		err := errors.New("delivery chat_id not configured")
		return &DeliveryError{Reason: err.Error(), Err: err}
	}
	args := map[string]any{
		"action":  "send",
		"channel": m.Channel,
		"target":  m.Target,
		"message": text,
	}
	if m.ThreadID != "" {
		args["threadId"] = m.ThreadID
	}
	if _, err := m.Client.InvokeTool(ctx, "message", args, ""); err != nil {
		return &DeliveryError{Reason: err.Error(), Err: err}
	}
	return nil
}
