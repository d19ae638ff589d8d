package worker

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/events"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/httputil"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
)

// webhookPayload is the provider's raw webhook body.
type webhookPayload struct {
	Event      string `json:"event"`
	LeadID     string `json:"lead_id"`
	EmailJobID string `json:"email_job_id"`
	MessageID  string `json:"message_id"`
	Reason     string `json:"reason"`
	Timestamp  int64  `json:"timestamp"`
}

// providerEventNames maps the provider's event vocabulary onto the
// normalized one. Unmapped names that already match a normalized type pass
// through unchanged.
var providerEventNames = map[string]domain.EventType{
	"opens":        domain.EventOpened,
	"uniqueopens":  domain.EventUniqueOpened,
	"unique_opens": domain.EventUniqueOpened,
	"clicks":       domain.EventClicked,
	"softbounces":  domain.EventSoftBounce,
	"soft_bounces": domain.EventSoftBounce,
	"hardbounces":  domain.EventHardBounce,
	"hard_bounces": domain.EventHardBounce,
	"invalidemail": domain.EventInvalid,
	"unsubscribes": domain.EventUnsubscribed,
	"complaints":   domain.EventComplaint,
	"deliveries":   domain.EventDelivered,
}

// normalizedEventTypes is the closed set accepted after mapping.
var normalizedEventTypes = map[domain.EventType]bool{
	domain.EventSent: true, domain.EventDelivered: true,
	domain.EventOpened: true, domain.EventUniqueOpened: true, domain.EventClicked: true,
	domain.EventSoftBounce: true, domain.EventHardBounce: true, domain.EventDeferred: true,
	domain.EventBlocked: true, domain.EventSpam: true,
	domain.EventUnsubscribed: true, domain.EventComplaint: true,
	domain.EventInvalid: true, domain.EventError: true,
}

// NormalizeEventName resolves a provider event name to a normalized event
// type. The second return is false for names the engine does not handle.
func NormalizeEventName(name string) (domain.EventType, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if mapped, ok := providerEventNames[key]; ok {
		return mapped, true
	}
	if normalizedEventTypes[domain.EventType(key)] {
		return domain.EventType(key), true
	}
	return "", false
}

// WebhookReceiver accepts provider webhooks and feeds them into the
// dispatcher. It always answers 200 for events it recognizes, even when
// handling fails downstream: webhooks must never loop in the provider's
// retry queue.
type WebhookReceiver struct {
	dispatcher *events.Dispatcher
}

// NewWebhookReceiver wires a receiver.
func NewWebhookReceiver(dispatcher *events.Dispatcher) *WebhookReceiver {
	return &WebhookReceiver{dispatcher: dispatcher}
}

// ServeHTTP handles POSTed webhook batches. The body is either a single
// payload object or an array of them.
func (w *WebhookReceiver) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.BadRequest(rw, "unreadable webhook body")
		return
	}

	var batch []webhookPayload
	if err := json.Unmarshal(body, &batch); err != nil {
		var single webhookPayload
		if err := json.Unmarshal(body, &single); err != nil {
			httputil.BadRequest(rw, "invalid webhook payload")
			return
		}
		batch = []webhookPayload{single}
	}

	accepted, skipped := 0, 0
	for _, payload := range batch {
		evType, ok := NormalizeEventName(payload.Event)
		if !ok {
			logger.Debug("unrecognized webhook event", "event", payload.Event)
			skipped++
			continue
		}
		occurred := time.Now().UTC()
		if payload.Timestamp > 0 {
			occurred = time.Unix(payload.Timestamp, 0).UTC()
		}
		ev := domain.Event{
			Type:       evType,
			LeadID:     payload.LeadID,
			EmailJobID: payload.EmailJobID,
			Data: domain.EventData{
				Reason:            payload.Reason,
				MessageID:         payload.MessageID,
				ProviderEventName: payload.Event,
			},
			OccurredAt: occurred,
		}
		if err := w.dispatcher.Dispatch(r.Context(), ev); err != nil {
			logger.Error("webhook dispatch failed",
				"event", string(evType), "lead_id", payload.LeadID, "error", err.Error())
		}
		accepted++
	}

	httputil.JSON(rw, http.StatusOK, map[string]int{
		"accepted": accepted,
		"skipped":  skipped,
	})
}
