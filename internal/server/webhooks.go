package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskmarket/internal/config"
	"taskmarket/internal/domain"
	"taskmarket/internal/events"
	"taskmarket/internal/metrics"
	"taskmarket/internal/repo"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookBatch   = 100
)

// WebhookDispatcher posts new events to configured URLs. Cursors live in memory
// and start at the latest event, so a restart skips events emitted while down.
type WebhookDispatcher struct {
	repo    repo.Repo
	hooks   []config.Webhook
	client  *http.Client
	log     zerolog.Logger
	metrics *metrics.Metrics
	mu      sync.Mutex
	cursors map[int]int64
}

func NewWebhookDispatcher(r repo.Repo, hooks []config.Webhook, log zerolog.Logger, m *metrics.Metrics) *WebhookDispatcher {
	return &WebhookDispatcher{
		repo:    r,
		hooks:   hooks,
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		log:     log.With().Str("component", "webhooks").Logger(),
		metrics: m,
		cursors: make(map[int]int64),
	}
}

// Run dispatches every interval until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context, interval time.Duration) {
	if len(d.hooks) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers pending events to every hook. A failed delivery stops
// that hook at the failing event; it is retried on the next pass.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.hooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.Webhook) {
	cursor := d.cursorFor(ctx, idx)
	evts, err := d.repo.EventsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		d.log.Error().Err(err).Msg("fetch events failed")
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			d.observe("error")
			d.log.Warn().Err(err).Str("url", hook.URL).Int64("event_id", evt.ID).Msg("delivery failed")
			return
		}
		d.observe("ok")
		d.setCursor(idx, evt.ID)
	}
}

func (d *WebhookDispatcher) observe(result string) {
	if d.metrics != nil {
		d.metrics.WebhookDeliveries.WithLabelValues(result).Inc()
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.repo.LatestEventID(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("init cursor failed")
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.Webhook, evt domain.Event) error {
	data, err := events.Encode(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Taskmarket-Event", evt.Type)
	req.Header.Set("X-Taskmarket-Event-Id", strconv.FormatInt(evt.ID, 10))
	req.Header.Set("X-Taskmarket-Delivery", uuid.NewString())
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Taskmarket-Secret", hook.Secret)
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

func newEventFilter(types []string) eventFilter {
	if len(types) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(types))
	for _, evt := range types {
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
