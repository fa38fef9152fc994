package webhooks

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"venuetour/internal/store"
)

// Run lifecycle events delivered to subscribers.
const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// Events lists the event types a subscription may ask for.
var Events = []string{EventRunCompleted, EventRunFailed}

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues an event for every subscription of the tenant that wants it.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil {
		log.Printf("webhooks: subscriptions for %s/%s: %v", tenantID, eventType, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":       "evt_" + uuid.NewString(),
		"type":     eventType,
		"tenantId": tenantID,
		"ts":       time.Now().UTC().Format(time.RFC3339),
		"data":     data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("webhooks: encode %s: %v", eventType, err)
		return
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			log.Printf("webhooks: enqueue %s for %s: %v", eventType, s.ID, err)
		}
	}
}

// KnownEvent reports whether t is a supported event type.
func KnownEvent(t string) bool {
	for _, e := range Events {
		if e == t {
			return true
		}
	}
	return false
}
