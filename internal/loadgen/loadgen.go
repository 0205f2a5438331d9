// Package loadgen drives a running API instance with a configurable
// mix of realistic traffic and reports throughput and latency
// percentiles.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autopilot-ventures/autopilot/internal/payments"
)

// Scenario names used in per-scenario counters.
const (
	ScenarioDashboard  = "dashboard"
	ScenarioPayment    = "payment"
	ScenarioExperiment = "experiment"
)

// Mix weights the traffic scenarios. Zero-weight scenarios are skipped.
type Mix struct {
	Dashboard  int
	Payment    int
	Experiment int
}

// DefaultMix is read-heavy with a steady payment stream.
var DefaultMix = Mix{Dashboard: 6, Payment: 3, Experiment: 1}

func (m Mix) total() int {
	return m.Dashboard + m.Payment + m.Experiment
}

// pick maps a roll in [0, total) onto a scenario.
func (m Mix) pick(roll int) string {
	if roll < m.Dashboard {
		return ScenarioDashboard
	}
	if roll < m.Dashboard+m.Payment {
		return ScenarioPayment
	}
	return ScenarioExperiment
}

// Config controls a load run.
type Config struct {
	BaseURL       string
	TenantID      string
	WebhookSecret string
	Workers       int
	Duration      time.Duration
	Mix           Mix
	Seed          int64
}

// Result is the outcome of a load run.
type Result struct {
	Total    int64
	Errors   int64
	Scenario map[string]int64

	Elapsed    time.Duration
	Throughput float64 // requests per second

	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// Runner executes the configured scenario mix against a live server.
type Runner struct {
	cfg    Config
	client *http.Client

	total     atomic.Int64
	errors    atomic.Int64
	dashboard atomic.Int64
	payment   atomic.Int64
	expo      atomic.Int64

	reservoir *reservoir

	mu           sync.Mutex
	businessID   string
	experimentID string
	paymentSeq   atomic.Int64
}

// NewRunner creates a runner. Zero-value config fields get defaults.
func NewRunner(cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 30 * time.Second
	}
	if cfg.Mix.total() <= 0 {
		cfg.Mix = DefaultMix
	}
	if cfg.TenantID == "" {
		cfg.TenantID = "loadtest"
	}
	return &Runner{
		cfg:       cfg,
		client:    &http.Client{Timeout: 10 * time.Second},
		reservoir: newReservoir(10000, cfg.Seed),
	}
}

// Run seeds fixtures, then hammers the server until the duration
// elapses or ctx is canceled.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.checkHealth(ctx); err != nil {
		return nil, fmt.Errorf("server not reachable at %s: %w", r.cfg.BaseURL, err)
	}
	if err := r.seedFixtures(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed fixtures: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.work(runCtx, workerID)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	result := &Result{
		Total:  r.total.Load(),
		Errors: r.errors.Load(),
		Scenario: map[string]int64{
			ScenarioDashboard:  r.dashboard.Load(),
			ScenarioPayment:    r.payment.Load(),
			ScenarioExperiment: r.expo.Load(),
		},
		Elapsed: elapsed,
	}
	if elapsed > 0 {
		result.Throughput = float64(result.Total) / elapsed.Seconds()
	}
	result.P50, result.P95, result.P99 = r.reservoir.percentiles()

	return result, nil
}

func (r *Runner) work(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(r.cfg.Seed + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		scenario := r.cfg.Mix.pick(rng.Intn(r.cfg.Mix.total()))

		start := time.Now()
		var err error
		switch scenario {
		case ScenarioDashboard:
			r.dashboard.Add(1)
			err = r.runDashboard(ctx)
		case ScenarioPayment:
			r.payment.Add(1)
			err = r.runPayment(ctx)
		case ScenarioExperiment:
			r.expo.Add(1)
			err = r.runExperiment(ctx, rng)
		}
		r.reservoir.observe(time.Since(start))

		r.total.Add(1)
		if err != nil && ctx.Err() == nil {
			r.errors.Add(1)
		}
	}
}

func (r *Runner) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// seedFixtures creates the business and experiment the scenarios hit.
func (r *Runner) seedFixtures(ctx context.Context) error {
	var business struct {
		ID string `json:"id"`
	}
	err := r.post(ctx, "/businesses", map[string]any{
		"name":  "Load Test Co",
		"niche": "saas",
	}, &business)
	if err != nil {
		return err
	}

	var experiment struct {
		ID string `json:"id"`
	}
	err = r.post(ctx, "/experiments", map[string]any{
		"name": "loadtest pricing",
		"variants": []map[string]string{
			{"id": "control", "name": "Control"},
			{"id": "challenger", "name": "Challenger"},
		},
	}, &experiment)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.businessID = business.ID
	r.experimentID = experiment.ID
	r.mu.Unlock()
	return nil
}

func (r *Runner) runDashboard(ctx context.Context) error {
	return r.get(ctx, "/dashboard")
}

// runPayment creates an intent and walks it to succeeded with two
// signed webhook events.
func (r *Runner) runPayment(ctx context.Context) error {
	seq := r.paymentSeq.Add(1)

	r.mu.Lock()
	businessID := r.businessID
	r.mu.Unlock()

	var created struct {
		Intent struct {
			ID string `json:"id"`
		} `json:"intent"`
	}
	err := r.post(ctx, "/payments/intents", map[string]any{
		"businessId":     businessID,
		"amount":         25.0,
		"currency":       "usd",
		"idempotencyKey": fmt.Sprintf("load-%d", seq),
	}, &created)
	if err != nil {
		return err
	}

	events := []string{"payment_intent.processing", "payment_intent.succeeded"}
	for i, eventType := range events {
		body, _ := json.Marshal(map[string]string{
			"id":       fmt.Sprintf("load-evt-%d-%d", seq, i),
			"type":     eventType,
			"intentId": created.Intent.ID,
		})
		if err := r.postSigned(ctx, "/webhooks/payment", body); err != nil {
			return err
		}
	}
	return nil
}

// runExperiment records an exposure and, for a fraction of subjects, a
// conversion.
func (r *Runner) runExperiment(ctx context.Context, rng *rand.Rand) error {
	r.mu.Lock()
	experimentID := r.experimentID
	r.mu.Unlock()

	subject := fmt.Sprintf("subject-%d", rng.Intn(5000))
	path := "/experiments/" + experimentID + "/exposure"
	if err := r.post(ctx, path, map[string]string{"subjectId": subject}, nil); err != nil {
		return err
	}

	if rng.Float64() < 0.1 {
		path = "/experiments/" + experimentID + "/conversion"
		return r.post(ctx, path, map[string]string{"subjectId": subject}, nil)
	}
	return nil
}

func (r *Runner) get(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Tenant-ID", r.cfg.TenantID)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func (r *Runner) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", r.cfg.TenantID)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (r *Runner) postSigned(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", r.cfg.TenantID)
	req.Header.Set("X-Signature", payments.SignPayload([]byte(r.cfg.WebhookSecret), body))

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// reservoir is a fixed-size uniform sample of observed latencies.
type reservoir struct {
	mu      sync.Mutex
	samples []time.Duration
	seen    int64
	size    int
	rng     *rand.Rand
}

func newReservoir(size int, seed int64) *reservoir {
	return &reservoir{
		samples: make([]time.Duration, 0, size),
		size:    size,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (v *reservoir) observe(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.seen++
	if len(v.samples) < v.size {
		v.samples = append(v.samples, d)
		return
	}
	if idx := v.rng.Int63n(v.seen); idx < int64(v.size) {
		v.samples[idx] = d
	}
}

func (v *reservoir) percentiles() (p50, p95, p99 time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.samples) == 0 {
		return 0, 0, 0
	}

	sorted := make([]time.Duration, len(v.samples))
	copy(sorted, v.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(p float64) time.Duration {
		idx := int(p * float64(len(sorted)-1))
		return sorted[idx]
	}
	return at(0.50), at(0.95), at(0.99)
}
