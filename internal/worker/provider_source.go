package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/httpretry"
)

// HTTPEventSource pulls normalized events from a provider's reporting
// endpoint. The endpoint takes a `since` query parameter (RFC3339) and
// returns a JSON array of raw provider events in the webhook shape.
type HTTPEventSource struct {
	baseURL string
	apiKey  string
	client  httpretry.Doer
}

// NewHTTPEventSource builds a source for the given reporting endpoint.
// Transient provider failures are retried with backoff.
func NewHTTPEventSource(baseURL, apiKey string) *HTTPEventSource {
	return &HTTPEventSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httpretry.New(&http.Client{Timeout: 60 * time.Second}, 3),
	}
}

// FetchEvents retrieves and normalizes events since the given time. Raw
// events with unrecognized names are dropped, same as on the webhook path.
func (s *HTTPEventSource) FetchEvents(ctx context.Context, since time.Time) ([]domain.Event, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("provider url: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider fetch: status %d", resp.StatusCode)
	}

	var raw []webhookPayload
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("provider decode: %w", err)
	}

	out := make([]domain.Event, 0, len(raw))
	for _, payload := range raw {
		evType, ok := NormalizeEventName(payload.Event)
		if !ok {
			continue
		}
		occurred := time.Now().UTC()
		if payload.Timestamp > 0 {
			occurred = time.Unix(payload.Timestamp, 0).UTC()
		}
		out = append(out, domain.Event{
			Type:       evType,
			LeadID:     payload.LeadID,
			EmailJobID: payload.EmailJobID,
			Data: domain.EventData{
				Reason:            payload.Reason,
				MessageID:         payload.MessageID,
				ProviderEventName: payload.Event,
			},
			OccurredAt: occurred,
		})
	}
	return out, nil
}
