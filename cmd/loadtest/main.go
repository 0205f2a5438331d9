// Load test harness for the Autopilot API.
//
// Usage:
//
//	go run cmd/loadtest/main.go -url http://localhost:8080 -workers 20 -duration 30s
//
// Drives a running instance with a weighted mix of dashboard reads,
// payment intent flows with signed webhooks, and experiment traffic,
// then reports throughput and latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autopilot-ventures/autopilot/internal/loadgen"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Autopilot base URL")
	tenantID := flag.String("tenant", "loadtest", "Tenant ID for requests")
	secret := flag.String("secret", "", "Webhook secret (must match AUTOPILOT_WEBHOOK_SECRET)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "How long to run")
	dashboardW := flag.Int("mix-dashboard", 6, "Dashboard read weight")
	paymentW := flag.Int("mix-payment", 3, "Payment flow weight")
	experimentW := flag.Int("mix-experiment", 1, "Experiment flow weight")
	seed := flag.Int64("seed", time.Now().UnixNano(), "RNG seed")
	flag.Parse()

	if *paymentW > 0 && *secret == "" {
		fmt.Println("ERROR: -secret is required when the mix includes payments")
		fmt.Println("       (pass the server's AUTOPILOT_WEBHOOK_SECRET, or -mix-payment 0)")
		os.Exit(1)
	}

	fmt.Println("Autopilot load test")
	fmt.Printf("  URL:      %s\n", *baseURL)
	fmt.Printf("  Tenant:   %s\n", *tenantID)
	fmt.Printf("  Workers:  %d\n", *workers)
	fmt.Printf("  Duration: %v\n", *duration)
	fmt.Printf("  Mix:      dashboard=%d payment=%d experiment=%d\n",
		*dashboardW, *paymentW, *experimentW)
	fmt.Println()

	runner := loadgen.NewRunner(loadgen.Config{
		BaseURL:       *baseURL,
		TenantID:      *tenantID,
		WebhookSecret: *secret,
		Workers:       *workers,
		Duration:      *duration,
		Mix: loadgen.Mix{
			Dashboard:  *dashboardW,
			Payment:    *paymentW,
			Experiment: *experimentW,
		},
		Seed: *seed,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := runner.Run(ctx)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	printResult(result)
}

func printResult(r *loadgen.Result) {
	fmt.Println("RESULTS")
	fmt.Printf("  Requests:    %d\n", r.Total)
	fmt.Printf("  Errors:      %d (%.2f%%)\n", r.Errors, pct(r.Errors, r.Total))
	fmt.Printf("  Elapsed:     %v\n", r.Elapsed.Round(time.Millisecond))
	fmt.Printf("  Throughput:  %.1f req/sec\n", r.Throughput)
	fmt.Println()
	fmt.Println("  Scenario breakdown:")
	for _, name := range []string{loadgen.ScenarioDashboard, loadgen.ScenarioPayment, loadgen.ScenarioExperiment} {
		fmt.Printf("    %-12s %d\n", name, r.Scenario[name])
	}
	fmt.Println()
	fmt.Println("  Latency:")
	fmt.Printf("    p50  %v\n", r.P50.Round(time.Microsecond))
	fmt.Printf("    p95  %v\n", r.P95.Round(time.Microsecond))
	fmt.Printf("    p99  %v\n", r.P99.Round(time.Microsecond))
}

func pct(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(part) / float64(total)
}
