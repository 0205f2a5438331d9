package loadgen

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/autopilot-ventures/autopilot/internal/payments"
)

const stubSecret = "whsec_loadgen"

// stubServer counts requests per path family and verifies webhook
// signatures the way the real API does.
func stubServer(t *testing.T, dashboardHits, webhookHits *atomic.Int64) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/businesses", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "biz-load"})
	})
	mux.HandleFunc("/experiments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "exp-load"})
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		dashboardHits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"totalBusinesses": 1})
	})
	mux.HandleFunc("/payments/intents", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"intent": map[string]string{"id": "pi-load"},
		})
	})
	mux.HandleFunc("/webhooks/payment", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !payments.VerifySignature([]byte(stubSecret), body, r.Header.Get("X-Signature")) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		webhookHits.Add(1)
		json.NewEncoder(w).Encode(map[string]bool{"applied": true})
	})
	mux.HandleFunc("/experiments/exp-load/exposure", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"variantId": "control"})
	})
	mux.HandleFunc("/experiments/exp-load/conversion", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"recorded": "true"})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestRunnerAgainstStub(t *testing.T) {
	var dashboardHits, webhookHits atomic.Int64
	server := stubServer(t, &dashboardHits, &webhookHits)

	runner := NewRunner(Config{
		BaseURL:       server.URL,
		TenantID:      "tenant-001",
		WebhookSecret: stubSecret,
		Workers:       4,
		Duration:      300 * time.Millisecond,
		Seed:          7,
	})

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Total == 0 {
		t.Fatal("expected requests to be sent")
	}
	if result.Errors != 0 {
		t.Errorf("expected 0 errors against stub, got %d of %d", result.Errors, result.Total)
	}
	if dashboardHits.Load() == 0 {
		t.Error("expected dashboard traffic in the default mix")
	}
	if webhookHits.Load() == 0 {
		t.Error("expected signed webhook traffic in the default mix")
	}
	if result.Throughput <= 0 {
		t.Errorf("expected positive throughput, got %f", result.Throughput)
	}
	if result.P95 < result.P50 || result.P99 < result.P95 {
		t.Errorf("expected ordered percentiles, got p50=%v p95=%v p99=%v",
			result.P50, result.P95, result.P99)
	}

	var scenarioSum int64
	for _, n := range result.Scenario {
		scenarioSum += n
	}
	if scenarioSum != result.Total {
		t.Errorf("scenario counts sum to %d, want %d", scenarioSum, result.Total)
	}
}

func TestRunnerUnreachableServer(t *testing.T) {
	runner := NewRunner(Config{
		BaseURL:  "http://127.0.0.1:1",
		Duration: time.Second,
	})
	if _, err := runner.Run(context.Background()); err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestMixPick(t *testing.T) {
	mix := Mix{Dashboard: 2, Payment: 1, Experiment: 1}

	cases := []struct {
		roll int
		want string
	}{
		{0, ScenarioDashboard},
		{1, ScenarioDashboard},
		{2, ScenarioPayment},
		{3, ScenarioExperiment},
	}
	for _, c := range cases {
		if got := mix.pick(c.roll); got != c.want {
			t.Errorf("pick(%d) = %s, want %s", c.roll, got, c.want)
		}
	}
}

func TestReservoirPercentiles(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		v := newReservoir(10, 1)
		p50, p95, p99 := v.percentiles()
		if p50 != 0 || p95 != 0 || p99 != 0 {
			t.Errorf("expected zero percentiles, got %v %v %v", p50, p95, p99)
		}
	})

	t.Run("KnownDistribution", func(t *testing.T) {
		v := newReservoir(1000, 1)
		for i := 1; i <= 100; i++ {
			v.observe(time.Duration(i) * time.Millisecond)
		}

		p50, p95, p99 := v.percentiles()
		if p50 != 50*time.Millisecond {
			t.Errorf("expected p50 50ms, got %v", p50)
		}
		if p95 != 95*time.Millisecond {
			t.Errorf("expected p95 95ms, got %v", p95)
		}
		if p99 != 99*time.Millisecond {
			t.Errorf("expected p99 99ms, got %v", p99)
		}
	})

	t.Run("BoundedSize", func(t *testing.T) {
		v := newReservoir(10, 1)
		for i := 0; i < 1000; i++ {
			v.observe(time.Millisecond)
		}
		if len(v.samples) != 10 {
			t.Errorf("expected 10 samples retained, got %d", len(v.samples))
		}
		if v.seen != 1000 {
			t.Errorf("expected 1000 observations seen, got %d", v.seen)
		}
	})
}
