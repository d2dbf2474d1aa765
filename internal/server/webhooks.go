package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"worksafe/internal/config"
	"worksafe/internal/docstore"
	"worksafe/internal/domain"
	"worksafe/internal/engine"
	"worksafe/internal/events"
)

const defaultWebhookTimeout = 5 * time.Second

type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	filters  []eventFilter
	client   *http.Client
	log      *zap.Logger
}

// StartWebhookDispatcher posts every audit event committed by this process
// to the configured webhooks until ctx is done. Events relayed from other
// instances never reach the feed, so each event is delivered once.
func StartWebhookDispatcher(ctx context.Context, e engine.Engine, feed *docstore.ChangeFeed, logger *zap.Logger) bool {
	if feed == nil || e.Config == nil || len(e.Config.Webhooks) == 0 {
		return false
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		log:      logger.Named("webhooks"),
	}
	for _, hook := range d.webhooks {
		d.filters = append(d.filters, newEventFilter(hook.Events))
	}
	go d.run(ctx, feed.Changes())
	return true
}

func (d *webhookDispatcher) run(ctx context.Context, changes <-chan docstore.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-changes:
			if ch.Collection != events.Collection || ch.Op != docstore.OpSet {
				continue
			}
			d.dispatch(ctx, ch)
		}
	}
}

func (d *webhookDispatcher) dispatch(ctx context.Context, ch docstore.Change) {
	evt, err := d.engine.Events.Get(ctx, ch.Namespace, ch.ID)
	if err != nil {
		d.log.Warn("load event failed", zap.String("event_id", ch.ID), zap.Error(err))
		return
	}
	for i, hook := range d.webhooks {
		if strings.TrimSpace(hook.URL) == "" || !d.filters[i].match(evt.Type) {
			continue
		}
		if err := d.postEvent(ctx, hook, ch.Namespace, evt); err != nil {
			d.log.Warn("deliver failed",
				zap.String("webhook", hook.ID),
				zap.String("event_type", evt.Type),
				zap.Error(err))
			continue
		}
		d.log.Debug("delivered", zap.String("webhook", hook.ID), zap.String("event_id", evt.ID))
	}
}

type webhookEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Namespace  string         `json:"namespace"`
	EntityKind string         `json:"entityKind"`
	EntityID   string         `json:"entityId,omitempty"`
	ActorID    string         `json:"actorId"`
	CreatedAt  string         `json:"createdAt"`
	Payload    map[string]any `json:"payload"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, namespace string, evt domain.Event) error {
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		Namespace:  namespace,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		CreatedAt:  evt.CreatedAt,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Worksafe-Event", evt.Type)
	req.Header.Set("X-Worksafe-Delivery", evt.ID)
	req.Header.Set("X-Worksafe-Namespace", namespace)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Worksafe-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

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
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
