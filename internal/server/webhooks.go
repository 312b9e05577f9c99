package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"slam/internal/audit"
	"slam/internal/config"
	"slam/internal/domain"
	"slam/internal/logger"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher posts new activity log entries to the configured
// webhooks. Each webhook keeps its own cursor; delivery starts at the newest
// entry present when the cursor is first read.
type WebhookDispatcher struct {
	activity audit.Writer
	webhooks []config.WebhookConfig
	client   *http.Client
	log      *logger.Logger
	interval time.Duration
	mu       sync.Mutex
	cursors  map[int]audit.Cursor
}

func NewWebhookDispatcher(activity audit.Writer, hooks []config.WebhookConfig, log *logger.Logger) *WebhookDispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &WebhookDispatcher{
		activity: activity,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		log:      log,
		interval: defaultWebhookInterval,
		cursors:  make(map[int]audit.Cursor),
	}
}

// Start runs the dispatcher until ctx is done. It returns immediately when
// no webhook is configured.
func (d *WebhookDispatcher) Start(ctx context.Context) {
	if len(d.webhooks) == 0 {
		return
	}
	// Pin cursors now so entries written after startup are delivered.
	for i, hook := range d.webhooks {
		if hookEnabled(hook) {
			d.cursorFor(ctx, i)
		}
	}
	go d.run(ctx)
}

func (d *WebhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DispatchAll(ctx)
		}
	}
}

// DispatchAll delivers pending entries once for every enabled webhook.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if !hookEnabled(hook) {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func hookEnabled(hook config.WebhookConfig) bool {
	if hook.Enabled != nil && !*hook.Enabled {
		return false
	}
	return strings.TrimSpace(hook.URL) != ""
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	entries, err := d.activity.After(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.log.Warn("webhook: fetch activity failed", "error", err)
		return
	}
	filter := newActionFilter(hook.Actions)
	for _, entry := range entries {
		next := audit.Cursor{TS: entry.TS, ID: entry.ID}
		if !filter.match(entry.Action) {
			d.setCursor(idx, next)
			continue
		}
		if err := d.postEntry(ctx, hook, entry); err != nil {
			d.log.Warn("webhook: delivery failed", "url", hook.URL, "entry_id", entry.ID, "error", err)
			return
		}
		d.setCursor(idx, next)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) audit.Cursor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.activity.Latest(ctx)
	if err != nil {
		d.log.Warn("webhook: init cursor failed", "error", err)
		cur = audit.Cursor{}
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value audit.Cursor) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *WebhookDispatcher) postEntry(ctx context.Context, hook config.WebhookConfig, entry domain.ActivityEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Slam-Action", entry.Action)
	req.Header.Set("X-Slam-Delivery", entry.ID)
	req.Header.Set("X-Slam-Entity", entry.EntityID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Slam-Secret", hook.Secret)
	}
	res, err := client.Do(req)
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

type actionFilter struct {
	all bool
	set map[string]struct{}
}

func newActionFilter(actions []string) actionFilter {
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		if key := strings.TrimSpace(a); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return actionFilter{all: true}
	}
	return actionFilter{set: set}
}

func (f actionFilter) match(action string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[action]
	return ok
}
