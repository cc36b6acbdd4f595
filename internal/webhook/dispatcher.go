package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/store"
	"catalog-import-service/internal/telemetry"
)

// Registry is the subscription storage the dispatcher reads from and records
// delivery telemetry into.
type Registry interface {
	EnabledWebhooksForEvent(ctx context.Context, eventType string) ([]models.Webhook, error)
	GetWebhook(ctx context.Context, id int64) (models.Webhook, error)
	RecordDelivery(ctx context.Context, d models.Delivery) error
}

// Options bound each delivery attempt.
type Options struct {
	Timeout     time.Duration
	TestTimeout time.Duration
	Concurrency int
}

// Dispatcher POSTs event payloads to subscribers.
type Dispatcher struct {
	registry Registry
	client   *http.Client
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

func NewDispatcher(registry Registry, client *http.Client, opts Options, log *zap.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = 5 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{registry: registry, client: client, opts: opts, log: log, now: time.Now}
}

// Dispatch delivers payload to every enabled subscriber of eventType and
// returns the recorded outcomes. A failing subscriber is recorded with status 0
// and never stops delivery to the others; only the registry lookup can fail the
// call.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]any) ([]models.Delivery, error) {
	hooks, err := d.registry.EnabledWebhooksForEvent(ctx, eventType)
	if err != nil {
		return nil, fmt.Errorf("lookup subscribers for %s: %w", eventType, err)
	}
	if len(hooks) == 0 {
		d.log.Debug("no subscribers", zap.String("event", eventType))
		return nil, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	out := make([]models.Delivery, len(hooks))
	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for i, h := range hooks {
		i, h := i, h
		g.Go(func() error {
			out[i] = d.deliver(ctx, h, eventType, body, d.opts.Timeout)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// Test sends a sample payload to one subscription. It returns nil without an
// error when the subscription is missing or disabled.
func (d *Dispatcher) Test(ctx context.Context, id int64) (*models.Delivery, error) {
	h, err := d.registry.GetWebhook(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !h.Enabled {
		return nil, nil
	}
	body, err := json.Marshal(TestPayload(h.EventType))
	if err != nil {
		return nil, fmt.Errorf("encode test payload: %w", err)
	}
	res := d.deliver(ctx, h, h.EventType, body, d.opts.TestTimeout)
	return &res, nil
}

// TestPayload is the body sent by a manual test trigger.
func TestPayload(eventType string) map[string]any {
	return map[string]any{
		"event":   eventType,
		"message": "This is a test webhook",
		"test":    true,
	}
}

func (d *Dispatcher) deliver(ctx context.Context, h models.Webhook, eventType string, body []byte, timeout time.Duration) (res models.Delivery) {
	res = models.Delivery{WebhookID: h.ID, TriggeredAt: d.now().UTC()}
	log := d.log.With(zap.Int64("webhook_id", h.ID), zap.String("url", h.URL), zap.String("event", eventType))

	// Telemetry is persisted on every exit path, including a panic in the
	// transport, and outlives the per-attempt deadline.
	defer func() {
		if r := recover(); r != nil {
			log.Error("webhook delivery panicked", zap.Any("panic", r))
			res.StatusCode, res.ResponseTimeMS = 0, 0
		}
		if err := d.registry.RecordDelivery(context.WithoutCancel(ctx), res); err != nil {
			log.Error("record webhook delivery", zap.Error(err))
		}
		telemetry.WebhookDeliveries.WithLabelValues(eventType, outcome(res.StatusCode)).Inc()
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		log.Warn("build webhook request", zap.Error(err))
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		log.Warn("webhook delivery failed", zap.Error(err))
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	elapsed := time.Since(start)
	telemetry.WebhookLatency.WithLabelValues(eventType).Observe(elapsed.Seconds())
	res.StatusCode = resp.StatusCode
	res.ResponseTimeMS = float64(elapsed.Microseconds()) / 1000
	log.Info("webhook delivered", zap.Int("status", resp.StatusCode), zap.Float64("response_time_ms", res.ResponseTimeMS))
	return res
}

func outcome(status int) string {
	if status == 0 {
		return "transport_error"
	}
	return strconv.Itoa(status/100) + "xx"
}
