// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

// Package alert turns anomalies and arbitrary alert requests into
// deduplicated, correlated, routed alerts with a bounded lifecycle.
//
// The generation pipeline is strictly ordered: rate limit → suppression
// rules → deduplication → create → enrichment → correlation → routing.
// Rate limiting and suppression are first-class outcomes, never errors.
// Deduplication merges near-identical alerts (same type and source, title
// similarity above the threshold) inside the dedup window into one alert
// with an occurrence count; this is the single fatigue-suppression layer in
// the pipeline.
//
// The generator is a single-writer actor: the alert store, rate-limit map,
// dedup scan, and correlation groups are owned by the Run goroutine, and
// every public operation is request/response over a channel. Created and
// updated alerts, forwarded anomalies, and correlation groups are broadcast
// on the Notifications channel for external collaborators; a lagging
// consumer drops notifications rather than stalling the pipeline.
package alert

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/excubitor/internal/config"
	"github.com/tomtom215/excubitor/internal/detect"
	"github.com/tomtom215/excubitor/internal/enrich"
	"github.com/tomtom215/excubitor/internal/logging"
	"github.com/tomtom215/excubitor/internal/metrics"
)

// ReasonRateLimited marks outcomes suppressed by the per-key rate limit.
const ReasonRateLimited = "rate_limited"

// rateBucketTTL is how long stale rate-limit buckets survive before the
// cleanup pass drops them.
const rateBucketTTL = time.Hour

type generateRequest struct {
	req     Request
	anomaly *detect.Anomaly // set when the request came off the anomaly feed
	reply   chan Outcome
}

type lifecycleRequest struct {
	id         string
	by         string
	resolution string
	resolve    bool
	reply      chan bool
}

type listRequest struct {
	filter Filter
	reply  chan []*Alert
}

type statsRequest struct {
	reply chan Statistics
}

type ruleRequest struct {
	rule  SuppressionRule
	reply chan struct{}
}

type rateBucket struct {
	count int
	at    time.Time
}

// Generator owns the alert lifecycle. Create with New, start with Run, feed
// with Generate or ProcessAnomaly.
type Generator struct {
	config     config.AlertingConfig
	enrichment config.EnrichmentConfig
	chain      *enrich.Chain
	similarity Similarity

	store       *store
	groups      map[string]*CorrelationGroup
	rates       map[string]rateBucket
	suppression []SuppressionRule

	generateCh  chan generateRequest
	lifecycleCh chan lifecycleRequest
	listCh      chan listRequest
	statsCh     chan statsRequest
	ruleCh      chan ruleRequest

	notifications chan Notification

	started atomic.Bool
	done    chan struct{}

	created              atomic.Int64
	deduplicated         atomic.Int64
	suppressed           atomic.Int64
	rateLimited          atomic.Int64
	escalated            atomic.Int64
	expired              atomic.Int64
	evicted              atomic.Int64
	notificationsDropped atomic.Int64
}

// New creates a generator. The chain may be nil when no enrichment providers
// are configured; trend and related-alert enrichment still run off the
// generator's own history.
func New(cfg config.AlertingConfig, enrichCfg config.EnrichmentConfig, chain *enrich.Chain) (*Generator, error) {
	if cfg.MaxAlertsPerMinute <= 0 {
		return nil, fmt.Errorf("max alerts per minute must be positive")
	}
	if cfg.DeduplicationWindow <= 0 {
		return nil, fmt.Errorf("deduplication window must be positive")
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be within [0,1]")
	}
	if cfg.CorrelationWindow <= 0 {
		return nil, fmt.Errorf("correlation window must be positive")
	}
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}
	if cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("cleanup interval must be positive")
	}
	if cfg.MaxStoredAlerts <= 0 {
		return nil, fmt.Errorf("max stored alerts must be positive")
	}
	if cfg.NotificationBuffer <= 0 {
		return nil, fmt.Errorf("notification buffer must be positive")
	}
	for sev := range cfg.EscalationThresholds {
		if !detect.Severity(sev).IsValid() {
			return nil, fmt.Errorf("unknown escalation severity %q", sev)
		}
	}
	for sev := range cfg.Routing {
		if !detect.Severity(sev).IsValid() {
			return nil, fmt.Errorf("unknown routing severity %q", sev)
		}
	}

	return &Generator{
		config:     cfg,
		enrichment: enrichCfg,
		chain:      chain,
		similarity: NewLevenshteinSimilarity(),

		store:       newStore(cfg.MaxStoredAlerts),
		groups:      make(map[string]*CorrelationGroup),
		rates:       make(map[string]rateBucket),
		suppression: suppressionRulesFrom(cfg.SuppressionRules),

		generateCh:  make(chan generateRequest),
		lifecycleCh: make(chan lifecycleRequest),
		listCh:      make(chan listRequest),
		statsCh:     make(chan statsRequest),
		ruleCh:      make(chan ruleRequest),

		notifications: make(chan Notification, cfg.NotificationBuffer),
		done:          make(chan struct{}),
	}, nil
}

// UseSimilarity swaps the title comparator. Must be called before Run.
func (g *Generator) UseSimilarity(s Similarity) error {
	if g.started.Load() {
		return fmt.Errorf("generator already running")
	}
	if s == nil {
		return fmt.Errorf("similarity required")
	}
	g.similarity = s
	return nil
}

// Run owns all generator state and serves requests until the context is
// canceled. The notifications channel is closed on return.
func (g *Generator) Run(ctx context.Context) error {
	if g.started.Swap(true) {
		return fmt.Errorf("generator already running")
	}
	defer close(g.done)
	defer close(g.notifications)

	ticker := time.NewTicker(g.config.CleanupInterval)
	defer ticker.Stop()

	logging.Info().
		Int("max_alerts_per_minute", g.config.MaxAlertsPerMinute).
		Dur("deduplication_window", g.config.DeduplicationWindow).
		Dur("correlation_window", g.config.CorrelationWindow).
		Int("suppression_rules", len(g.suppression)).
		Int("enrichers", g.chain.Len()).
		Msg("Alert generator started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().
				Int64("created", g.created.Load()).
				Int64("deduplicated", g.deduplicated.Load()).
				Msg("Alert generator stopped")
			return ctx.Err()
		case req := <-g.generateCh:
			if req.anomaly != nil {
				g.emit(Notification{Kind: NotificationAnomaly, Anomaly: req.anomaly})
			}
			req.reply <- g.generate(ctx, req.req)
		case req := <-g.lifecycleCh:
			if req.resolve {
				req.reply <- g.resolve(req.id, req.by, req.resolution)
			} else {
				req.reply <- g.acknowledge(req.id, req.by)
			}
		case req := <-g.listCh:
			req.reply <- g.store.list(req.filter)
		case req := <-g.statsCh:
			req.reply <- g.statistics()
		case req := <-g.ruleCh:
			g.suppression = append(g.suppression, req.rule)
			req.reply <- struct{}{}
		case <-ticker.C:
			g.cleanup(time.Now())
		}
	}
}

// Generate runs one request through the pipeline and reports the outcome.
// Suppression, rate limiting, and deduplication are outcomes, not errors;
// errors are reserved for malformed requests and a stopped generator.
func (g *Generator) Generate(ctx context.Context, req Request) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}
	return g.send(ctx, generateRequest{req: req, reply: make(chan Outcome, 1)})
}

// ProcessAnomaly forwards a detected anomaly on the notifications channel and
// runs it through the alert pipeline.
func (g *Generator) ProcessAnomaly(ctx context.Context, a detect.Anomaly) (Outcome, error) {
	req := FromAnomaly(a)
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}
	return g.send(ctx, generateRequest{req: req, anomaly: &a, reply: make(chan Outcome, 1)})
}

func (g *Generator) send(ctx context.Context, req generateRequest) (Outcome, error) {
	select {
	case g.generateCh <- req:
	case <-g.done:
		return Outcome{}, fmt.Errorf("generator is not running")
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	select {
	case out := <-req.reply:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Acknowledge moves an open alert to acknowledged. Returns false for unknown
// ids and for alerts past the open state; the transition is monotonic.
func (g *Generator) Acknowledge(ctx context.Context, id, by string) bool {
	return g.transition(ctx, lifecycleRequest{id: id, by: by, reply: make(chan bool, 1)})
}

// Resolve moves an open or acknowledged alert to resolved. Returns false for
// unknown ids and already-resolved alerts; nothing reopens a resolved alert.
func (g *Generator) Resolve(ctx context.Context, id, by, resolution string) bool {
	return g.transition(ctx, lifecycleRequest{id: id, by: by, resolution: resolution, resolve: true, reply: make(chan bool, 1)})
}

func (g *Generator) transition(ctx context.Context, req lifecycleRequest) bool {
	select {
	case g.lifecycleCh <- req:
	case <-g.done:
		return false
	case <-ctx.Done():
		return false
	}

	select {
	case ok := <-req.reply:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Alerts returns stored alerts matching the filter, newest first.
func (g *Generator) Alerts(ctx context.Context, f Filter) ([]*Alert, error) {
	req := listRequest{filter: f, reply: make(chan []*Alert, 1)}
	select {
	case g.listCh <- req:
	case <-g.done:
		return nil, fmt.Errorf("generator is not running")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case alerts := <-req.reply:
		return alerts, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Statistics returns a snapshot of generator state and counters.
func (g *Generator) Statistics(ctx context.Context) (Statistics, error) {
	req := statsRequest{reply: make(chan Statistics, 1)}
	select {
	case g.statsCh <- req:
	case <-g.done:
		return Statistics{}, fmt.Errorf("generator is not running")
	case <-ctx.Done():
		return Statistics{}, ctx.Err()
	}

	select {
	case stats := <-req.reply:
		return stats, nil
	case <-ctx.Done():
		return Statistics{}, ctx.Err()
	}
}

// AddSuppressionRule appends a rule to the ordered suppression list.
// Programmatic rules may carry a custom Condition.
func (g *Generator) AddSuppressionRule(ctx context.Context, rule SuppressionRule) error {
	req := ruleRequest{rule: rule, reply: make(chan struct{}, 1)}
	select {
	case g.ruleCh <- req:
	case <-g.done:
		return fmt.Errorf("generator is not running")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notifications exposes the broadcast feed of alerts, anomalies, and
// correlation groups. The channel is closed when the generator stops.
func (g *Generator) Notifications() <-chan Notification {
	return g.notifications
}

// generate runs the ordered pipeline for one request. Actor goroutine only.
func (g *Generator) generate(ctx context.Context, req Request) Outcome {
	now := time.Now()

	// 1. Rate limit per type:severity:minute.
	if !g.allowRate(req, now) {
		g.rateLimited.Add(1)
		metrics.AlertsRateLimited.Inc()
		return Outcome{Suppressed: true, Reason: ReasonRateLimited}
	}

	// 2. Ordered suppression rules, first match wins.
	for _, rule := range g.suppression {
		if rule.Matches(req) {
			g.suppressed.Add(1)
			metrics.AlertsSuppressed.WithLabelValues(rule.Name).Inc()
			logging.Debug().
				Str("rule", rule.Name).
				Str("type", req.Type).
				Msg("Alert suppressed")
			return Outcome{Suppressed: true, Reason: rule.Name}
		}
	}

	// 3. Deduplicate into a recent near-identical alert.
	if existing := g.store.findDuplicate(req, g.config.DeduplicationWindow, g.similarity, g.config.SimilarityThreshold); existing != nil {
		g.merge(existing, req, now)
		return Outcome{
			AlertID:       existing.ID,
			Severity:      existing.Severity,
			Routing:       append([]string(nil), existing.Routing...),
			CorrelationID: existing.CorrelationID,
		}
	}

	// 4. Create.
	a := &Alert{
		ID:             uuid.New().String(),
		Type:           req.Type,
		Severity:       req.Severity,
		Title:          req.Title,
		Description:    req.Description,
		Source:         req.Source,
		TriggerEvent:   req.TriggerEvent,
		Context:        req.Context,
		CreatedAt:      now,
		LastOccurrence: now,
		Occurrences:    1,
		Status:         StatusOpen,
	}

	// 5. Best-effort enrichment; failures leave partial metadata.
	g.enrichAlert(ctx, a, req, now)

	if evicted := g.store.insert(a); evicted > 0 {
		g.evicted.Add(int64(evicted))
		metrics.AlertsEvicted.Add(float64(evicted))
		logging.Warn().Int("evicted", evicted).Msg("Alert store full, dropped oldest alerts")
	}

	// 6. Correlate with recent same-type alerts.
	g.correlate(a, now)

	// 7. Route by severity.
	a.Routing = g.routingFor(a.Severity)

	g.created.Add(1)
	metrics.RecordAlertCreated(a.Type, string(a.Severity))
	metrics.AlertsActive.Set(float64(g.store.len()))
	g.emit(Notification{Kind: NotificationAlert, Alert: a.Clone()})

	logging.Info().
		Str("alert_id", a.ID).
		Str("type", a.Type).
		Str("severity", string(a.Severity)).
		Str("correlation_id", a.CorrelationID).
		Strs("routing", a.Routing).
		Msg("Alert created")

	return Outcome{
		AlertID:       a.ID,
		Severity:      a.Severity,
		Routing:       append([]string(nil), a.Routing...),
		CorrelationID: a.CorrelationID,
		Created:       true,
	}
}

// allowRate admits one request per type:severity:minute bucket up to the
// configured limit. Actor goroutine only.
func (g *Generator) allowRate(req Request, now time.Time) bool {
	minute := now.Truncate(time.Minute)
	key := fmt.Sprintf("%s:%s:%d", req.Type, req.Severity, minute.Unix())

	bucket := g.rates[key]
	if bucket.count >= g.config.MaxAlertsPerMinute {
		return false
	}
	bucket.count++
	bucket.at = minute
	g.rates[key] = bucket
	return true
}

// merge folds a duplicate sighting into an existing alert: occurrences grow,
// severity only ever rises, escalation thresholds apply, and routing follows
// the current severity.
func (g *Generator) merge(a *Alert, req Request, now time.Time) {
	a.Occurrences++
	a.LastOccurrence = now
	if req.Severity.Rank() > a.Severity.Rank() {
		a.Severity = req.Severity
	}
	g.escalate(a)
	a.Routing = g.routingFor(a.Severity)

	g.deduplicated.Add(1)
	metrics.AlertsDeduplicated.Inc()
	g.emit(Notification{Kind: NotificationAlertUpdated, Alert: a.Clone()})

	logging.Debug().
		Str("alert_id", a.ID).
		Int("occurrences", a.Occurrences).
		Str("severity", string(a.Severity)).
		Msg("Alert deduplicated")
}

// escalate raises the alert's severity when its occurrence count crosses a
// configured threshold. Severity never drops.
func (g *Generator) escalate(a *Alert) {
	target := a.Severity
	for sevName, count := range g.config.EscalationThresholds {
		sev := detect.Severity(sevName)
		if a.Occurrences >= count && sev.Rank() > target.Rank() {
			target = sev
		}
	}
	if target != a.Severity {
		logging.Info().
			Str("alert_id", a.ID).
			Str("from", string(a.Severity)).
			Str("to", string(target)).
			Int("occurrences", a.Occurrences).
			Msg("Alert escalated")
		a.Severity = target
		g.escalated.Add(1)
		metrics.AlertsEscalated.Inc()
	}
}

// enrichAlert attaches best-effort metadata: provider results, the same-type
// frequency trend over the trend window, and related recent alerts. Runs
// before the alert joins the store so history never counts the alert itself.
func (g *Generator) enrichAlert(ctx context.Context, a *Alert, req Request, now time.Time) {
	if !g.enrichment.Enabled {
		return
	}

	md := g.chain.Enrich(ctx, enrich.Subject{
		AlertType: a.Type,
		Severity:  string(a.Severity),
		Source:    a.Source,
		IP:        req.IP,
		UserID:    req.UserID,
	})
	if md == nil {
		md = make(map[string]interface{}, 2)
	}

	half := g.enrichment.Trend.Window / 2
	recent := g.store.countBetween(a.Type, now.Add(-half), now.Add(time.Second))
	prior := g.store.countBetween(a.Type, now.Add(-g.enrichment.Trend.Window), now.Add(-half))
	md["trend"] = map[string]interface{}{
		"direction": enrich.TrendOf(recent, prior, g.enrichment.Trend),
		"recent":    recent,
		"prior":     prior,
	}

	related := g.store.sameTypeSince(a.Type, now.Add(-g.config.CorrelationWindow))
	if len(related) > 0 {
		ids := make([]string, 0, len(related))
		for _, r := range related {
			ids = append(ids, r.ID)
		}
		md["related_alerts"] = ids
	}

	a.Metadata = md
}

// correlate groups the new alert with same-type alerts created inside the
// correlation window. An active group for the type is extended; otherwise a
// new group forms once two members co-occur. Every member is stamped with
// the group id.
func (g *Generator) correlate(a *Alert, now time.Time) {
	members := g.store.sameTypeSince(a.Type, now.Add(-g.config.CorrelationWindow))
	if len(members) < 2 {
		return
	}

	var grp *CorrelationGroup
	for _, m := range members {
		if m.CorrelationID == "" {
			continue
		}
		if existing, ok := g.groups[m.CorrelationID]; ok && now.Sub(existing.LastUpdate) <= g.config.CorrelationWindow {
			grp = existing
			break
		}
	}
	created := grp == nil
	if created {
		grp = &CorrelationGroup{
			ID:        uuid.New().String(),
			Type:      a.Type,
			CreatedAt: now,
		}
		g.groups[grp.ID] = grp
	}

	for _, m := range members {
		m.CorrelationID = grp.ID
		if !grp.contains(m.ID) {
			grp.AlertIDs = append(grp.AlertIDs, m.ID)
		}
		if m.Severity.Rank() > grp.Severity.Rank() {
			grp.Severity = m.Severity
		}
	}
	grp.LastUpdate = now

	metrics.AlertCorrelationGroups.Set(float64(len(g.groups)))
	g.emit(Notification{Kind: NotificationCorrelation, Group: grp.Clone()})

	if created {
		logging.Info().
			Str("correlation_id", grp.ID).
			Str("type", grp.Type).
			Int("members", len(grp.AlertIDs)).
			Msg("Correlation group created")
	}
}

// routingFor returns the notification channels for a severity. Severities
// missing from the table fall back to webhook so no alert routes nowhere.
func (g *Generator) routingFor(sev detect.Severity) []string {
	if channels, ok := g.config.Routing[string(sev)]; ok && len(channels) > 0 {
		return append([]string(nil), channels...)
	}
	return []string{"webhook"}
}

// acknowledge transitions open → acknowledged. Actor goroutine only.
func (g *Generator) acknowledge(id, by string) bool {
	a, ok := g.store.get(id)
	if !ok || a.Status != StatusOpen {
		return false
	}

	now := time.Now()
	a.Status = StatusAcknowledged
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = by
	g.emit(Notification{Kind: NotificationAlertUpdated, Alert: a.Clone()})

	logging.Info().Str("alert_id", id).Str("by", by).Msg("Alert acknowledged")
	return true
}

// resolve transitions open or acknowledged → resolved. Actor goroutine only.
func (g *Generator) resolve(id, by, resolution string) bool {
	a, ok := g.store.get(id)
	if !ok || a.Status == StatusResolved {
		return false
	}

	now := time.Now()
	a.Status = StatusResolved
	a.ResolvedAt = &now
	a.ResolvedBy = by
	a.Resolution = resolution
	g.emit(Notification{Kind: NotificationAlertUpdated, Alert: a.Clone()})

	logging.Info().Str("alert_id", id).Str("by", by).Msg("Alert resolved")
	return true
}

// statistics assembles a snapshot. Actor goroutine only.
func (g *Generator) statistics() Statistics {
	stats := Statistics{
		Active:     g.store.len(),
		BySeverity: make(map[detect.Severity]int),
		ByStatus:   make(map[Status]int),
		ByType:     make(map[string]int),

		Created:              g.created.Load(),
		Deduplicated:         g.deduplicated.Load(),
		Suppressed:           g.suppressed.Load(),
		RateLimited:          g.rateLimited.Load(),
		Escalated:            g.escalated.Load(),
		Expired:              g.expired.Load(),
		Evicted:              g.evicted.Load(),
		CorrelationGroups:    len(g.groups),
		NotificationsDropped: g.notificationsDropped.Load(),
	}
	for _, a := range g.store.alerts {
		stats.BySeverity[a.Severity]++
		stats.ByStatus[a.Status]++
		stats.ByType[a.Type]++
	}
	return stats
}

// cleanup enforces retention: alerts past the retention window, rate buckets
// past their TTL, and correlation groups untouched for the retention period
// are dropped. Actor goroutine only.
func (g *Generator) cleanup(now time.Time) {
	cutoff := now.Add(-g.config.Retention)

	if removed := g.store.expire(cutoff); removed > 0 {
		g.expired.Add(int64(removed))
		metrics.AlertsExpired.Add(float64(removed))
		logging.Debug().Int("expired", removed).Msg("Retention removed alerts")
	}

	for key, bucket := range g.rates {
		if now.Sub(bucket.at) > rateBucketTTL {
			delete(g.rates, key)
		}
	}

	for id, grp := range g.groups {
		if grp.LastUpdate.Before(cutoff) {
			delete(g.groups, id)
		}
	}

	metrics.AlertsActive.Set(float64(g.store.len()))
	metrics.AlertCorrelationGroups.Set(float64(len(g.groups)))
}

// emit broadcasts a notification without blocking the actor.
func (g *Generator) emit(n Notification) {
	n.At = time.Now()
	select {
	case g.notifications <- n:
		metrics.RecordNotification(string(n.Kind), true)
	default:
		g.notificationsDropped.Add(1)
		metrics.RecordNotification(string(n.Kind), false)
		logging.Warn().Str("kind", string(n.Kind)).Msg("Notification channel full, dropping")
	}
}
