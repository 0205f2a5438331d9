// Package guardrail provides the CEL-Go based campaign guardrail engine.
package guardrail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

// Engine is the CEL-based guardrail evaluation engine. Compiled
// guardrails are partitioned by tenant; a config with an empty tenant
// ID is global and applies to every tenant.
type Engine struct {
	mu          sync.RWMutex
	env         *cel.Env
	compiled    map[string]map[string]*CompiledGuardrail // tenant ID -> guardrail ID
	spendGetter SpendGetter
	maxWorkers  int
}

// CompiledGuardrail holds a pre-compiled CEL program.
type CompiledGuardrail struct {
	Config  *domain.GuardrailConfig
	Program cel.Program
}

// SpendGetter returns the spend recorded for a campaign in a recent
// time window, for burn-rate expressions.
type SpendGetter func(ctx context.Context, tenantID, campaignID string, windowSecs int) (float64, error)

// NewEngine creates a new guardrail evaluation engine.
func NewEngine(spendGetter SpendGetter, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment with campaign variables
	env, err := cel.NewEnv(
		cel.Variable("campaign", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action", cel.StringType),
		cel.Variable("daily_budget", cel.DoubleType),
		cel.Variable("daily_spend", cel.DoubleType),
		cel.Variable("total_spend", cel.DoubleType),
		cel.Variable("window_spend", cel.DoubleType),
		cel.Variable("impressions", cel.IntType),
		cel.Variable("clicks", cel.IntType),
		cel.Variable("conversions", cel.IntType),
		cel.Variable("revenue", cel.DoubleType),
		cel.Variable("roi", cel.DoubleType),
		cel.Variable("conversion_rate", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:         env,
		compiled:    make(map[string]map[string]*CompiledGuardrail),
		spendGetter: spendGetter,
		maxWorkers:  maxWorkers,
	}, nil
}

// ValidateGuardrail compiles a guardrail without loading it.
func (e *Engine) ValidateGuardrail(cfg *domain.GuardrailConfig) error {
	if cfg == nil {
		return fmt.Errorf("guardrail config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileGuardrail(cfg)
	return err
}

// LoadGuardrail compiles and loads a guardrail into its tenant's
// partition, or the global one when the config carries no tenant.
func (e *Engine) LoadGuardrail(cfg *domain.GuardrailConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileGuardrail(cfg)
	if err != nil {
		return err
	}

	partition := e.compiled[cfg.TenantID]
	if partition == nil {
		partition = make(map[string]*CompiledGuardrail)
		e.compiled[cfg.TenantID] = partition
	}
	partition[cfg.ID] = compiled

	return nil
}

// LoadGuardrails compiles and loads multiple guardrails.
func (e *Engine) LoadGuardrails(configs []*domain.GuardrailConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadGuardrail(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput holds the proposed action and campaign state.
type EvaluateInput struct {
	TenantID    string
	Campaign    *domain.Campaign
	Action      string
	SpendWindow int // seconds
}

// EvaluateAll evaluates the tenant's guardrails plus the global set in
// parallel. Other tenants' guardrails never see this campaign.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.GuardrailResult, error) {
	e.mu.RLock()
	guardrails := make([]*CompiledGuardrail, 0, len(e.compiled[""])+len(e.compiled[input.TenantID]))
	for _, g := range e.compiled[""] {
		guardrails = append(guardrails, g)
	}
	if input.TenantID != "" {
		for _, g := range e.compiled[input.TenantID] {
			guardrails = append(guardrails, g)
		}
	}
	e.mu.RUnlock()

	if len(guardrails) == 0 {
		return nil, nil
	}

	c := input.Campaign

	var windowSpend float64
	if e.spendGetter != nil && input.SpendWindow > 0 {
		spend, err := e.spendGetter(ctx, input.TenantID, c.ID, input.SpendWindow)
		if err == nil {
			windowSpend = spend
		}
	}

	activation := map[string]any{
		"campaign": map[string]any{
			"id":           c.ID,
			"business_id":  c.BusinessID,
			"status":       c.Status,
			"daily_budget": c.DailyBudget,
			"daily_spend":  c.DailySpend,
			"total_spend":  c.TotalSpend,
		},
		"action":          input.Action,
		"daily_budget":    c.DailyBudget,
		"daily_spend":     c.DailySpend,
		"total_spend":     c.TotalSpend,
		"window_spend":    windowSpend,
		"impressions":     c.Impressions,
		"clicks":          c.Clicks,
		"conversions":     c.Conversions,
		"revenue":         c.Revenue,
		"roi":             c.ROI(),
		"conversion_rate": c.ConversionRate(),
	}

	// Parallel evaluation with bounded concurrency
	results := make([]domain.GuardrailResult, len(guardrails))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, g := range guardrails {
		wg.Add(1)
		go func(idx int, cg *CompiledGuardrail) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluateGuardrail(cg, activation, input)
		}(i, g)
	}

	wg.Wait()

	return results, nil
}

func (e *Engine) evaluateGuardrail(g *CompiledGuardrail, activation map[string]any, input *EvaluateInput) domain.GuardrailResult {
	start := time.Now()

	result := domain.GuardrailResult{
		GuardrailID: g.Config.ID,
		TenantID:    input.TenantID,
		CampaignID:  input.Campaign.ID,
		Weight:      g.Config.Weight,
	}

	out, _, err := g.Program.Eval(activation)
	if err != nil {
		result.SubRuleRef = domain.GuardrailError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	score := toScore(out)
	result.Score = score

	result.SubRuleRef, result.Reason = matchBand(score, g.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand finds the matching band for a score.
// Bands are evaluated in order: lower inclusive, upper exclusive,
// except when upper is nil (meaning infinity).
func matchBand(score float64, bands []domain.GuardrailBand) (string, string) {
	for _, band := range bands {
		lower := 0.0
		hasUpper := band.UpperLimit != nil
		upper := float64(1e9)

		if band.LowerLimit != nil {
			lower = *band.LowerLimit
		}
		if hasUpper {
			upper = *band.UpperLimit
		}

		if score >= lower {
			if !hasUpper || score < upper {
				return band.SubRuleRef, band.Reason
			}
		}
	}

	// Default to allow if no band matches
	return domain.GuardrailAllow, "no matching band"
}

// GuardrailsCount returns the number of loaded guardrails across all
// tenants.
func (e *Engine) GuardrailsCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count := 0
	for _, partition := range e.compiled {
		count += len(partition)
	}
	return count
}

// ReloadGuardrails replaces one tenant's guardrails with new ones,
// enabling hot-reloading from the database. Other tenants' partitions
// and the global set are untouched.
func (e *Engine) ReloadGuardrails(tenantID string, configs []*domain.GuardrailConfig) error {
	loaded := make(map[string]*CompiledGuardrail)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileGuardrail(cfg)
		if err != nil {
			return err
		}
		loaded[cfg.ID] = compiled
	}

	if len(loaded) == 0 {
		delete(e.compiled, tenantID)
		return nil
	}
	e.compiled[tenantID] = loaded

	return nil
}

// GetLoadedGuardrails returns the configurations loaded for a tenant,
// including the global set.
func (e *Engine) GetLoadedGuardrails(tenantID string) []*domain.GuardrailConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	configs := make([]*domain.GuardrailConfig, 0, len(e.compiled[""])+len(e.compiled[tenantID]))
	for _, compiled := range e.compiled[""] {
		configs = append(configs, compiled.Config)
	}
	if tenantID != "" {
		for _, compiled := range e.compiled[tenantID] {
			configs = append(configs, compiled.Config)
		}
	}
	return configs
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]map[string]*CompiledGuardrail)
	return nil
}

func (e *Engine) compileGuardrail(cfg *domain.GuardrailConfig) (*CompiledGuardrail, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile guardrail %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("guardrail %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for guardrail %s: %w", cfg.ID, err)
	}

	return &CompiledGuardrail{
		Config:  cfg,
		Program: program,
	}, nil
}
