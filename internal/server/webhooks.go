package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"missioncontrol/internal/config"
	"missioncontrol/internal/domain"
	"missioncontrol/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *log.Logger
	mu       sync.Mutex
	cursors  map[int]int64
}

// StartWebhookDispatcher forwards new audit events to the configured webhooks until ctx
// is done. Each hook starts from the latest event at startup, so history is not replayed.
func StartWebhookDispatcher(ctx context.Context, e engine.Engine, logger *log.Logger) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	d := newWebhookDispatcher(e, e.Config.Webhooks, logger)
	go d.run(ctx)
}

func newWebhookDispatcher(e engine.Engine, hooks []config.WebhookConfig, logger *log.Logger) *webhookDispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &webhookDispatcher{
		engine:   e,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger,
		cursors:  make(map[int]int64),
	}
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	events, err := d.engine.Repo.AuditEventsAfter(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.logger.Printf("webhook: fetch events failed: %v", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Action) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			// Cursor stays put; the event is retried on the next tick.
			d.logger.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *webhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestAuditEventID(ctx)
	if err != nil {
		d.logger.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id,omitempty"`
	Actor      string          `json:"actor"`
	Role       string          `json:"role"`
	CreatedAt  string          `json:"created_at"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.AuditEvent) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.PayloadJSON != "" {
		if json.Valid([]byte(evt.PayloadJSON)) {
			payload = json.RawMessage([]byte(evt.PayloadJSON))
		} else {
			raw = evt.PayloadJSON
		}
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Action:     evt.Action,
		EntityType: evt.EntityType,
		EntityID:   evt.EntityID,
		Actor:      evt.Actor,
		Role:       evt.Role,
		CreatedAt:  evt.CreatedAt,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-MissionControl-Event", evt.Action)
	req.Header.Set("X-MissionControl-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-MissionControl-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

// newEventFilter matches exact actions, or every action under a "prefix.*" entry.
func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		if key == "*" {
			return eventFilter{all: true}
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(action string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[action]; ok {
		return true
	}
	if i := strings.Index(action, "."); i > 0 {
		_, ok := f.set[action[:i]+".*"]
		return ok
	}
	return false
}
