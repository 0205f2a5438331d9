// Package policy implements the tabular Q-learning budget policy.
// Campaign state is discretized into coarse bins so the value table
// stays small enough to inspect and persist as JSON.
package policy

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

// Actions available to the policy, in deterministic order for
// tie-breaking during greedy selection.
var Actions = []string{domain.ActionHold, domain.ActionScaleUp, domain.ActionScaleDown}

// State is a discretized view of a campaign.
type State struct {
	SpendBin      int `json:"spendBin"`
	ConversionBin int `json:"conversionBin"`
	ROIBin        int `json:"roiBin"`
}

// Key returns the table key for a state.
func (s State) Key() string {
	return fmt.Sprintf("%d|%d|%d", s.SpendBin, s.ConversionBin, s.ROIBin)
}

// Discretize maps campaign metrics onto state bins.
//
//	SpendBin:      daily spend as a fraction of budget, quartile bins 0-3
//	ConversionBin: conversion rate at 0 / 2% / 5% breakpoints, bins 0-3
//	ROIBin:        return on spend at 0.5 / 1.0 / 2.0 breakpoints, bins 0-3
func Discretize(c *domain.Campaign) State {
	var s State

	if c.DailyBudget > 0 {
		ratio := c.DailySpend / c.DailyBudget
		switch {
		case ratio < 0.25:
			s.SpendBin = 0
		case ratio < 0.5:
			s.SpendBin = 1
		case ratio < 0.75:
			s.SpendBin = 2
		default:
			s.SpendBin = 3
		}
	}

	rate := c.ConversionRate()
	switch {
	case rate == 0:
		s.ConversionBin = 0
	case rate < 0.02:
		s.ConversionBin = 1
	case rate < 0.05:
		s.ConversionBin = 2
	default:
		s.ConversionBin = 3
	}

	roi := c.ROI()
	switch {
	case roi < 0.5:
		s.ROIBin = 0
	case roi < 1.0:
		s.ROIBin = 1
	case roi < 2.0:
		s.ROIBin = 2
	default:
		s.ROIBin = 3
	}

	return s
}

// Policy is a tabular Q-learning agent over discretized campaign states.
type Policy struct {
	mu sync.Mutex

	q map[string]map[string]float64

	alpha   float64 // learning rate
	gamma   float64 // discount factor
	epsilon float64 // exploration rate

	rng *rand.Rand
}

// New creates a policy from configuration. The random source is seeded
// so action selection is reproducible across runs.
func New(cfg domain.PolicyConfig) *Policy {
	alpha := cfg.Alpha
	if alpha <= 0 {
		alpha = 0.1
	}
	gamma := cfg.Gamma
	if gamma <= 0 {
		gamma = 0.9
	}
	epsilon := cfg.Epsilon
	if epsilon < 0 {
		epsilon = 0.1
	}

	return &Policy{
		q:       make(map[string]map[string]float64),
		alpha:   alpha,
		gamma:   gamma,
		epsilon: epsilon,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
}

// SelectAction picks an action for a state, exploring with probability
// epsilon and otherwise choosing the best known action. Ties break in
// Actions order, so a cold table always proposes hold.
func (p *Policy) SelectAction(state State) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.epsilon > 0 && p.rng.Float64() < p.epsilon {
		return Actions[p.rng.Intn(len(Actions))]
	}

	return p.greedyAction(state.Key())
}

func (p *Policy) greedyAction(key string) string {
	row := p.q[key]

	best := Actions[0]
	bestValue := row[best]
	for _, action := range Actions[1:] {
		if row[action] > bestValue {
			best = action
			bestValue = row[action]
		}
	}
	return best
}

// Update applies the Q-learning update rule for an observed transition:
//
//	Q(s,a) <- Q(s,a) + alpha * (reward + gamma * max Q(s') - Q(s,a))
func (p *Policy) Update(prev State, action string, reward float64, next State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prevKey := prev.Key()
	row := p.q[prevKey]
	if row == nil {
		row = make(map[string]float64)
		p.q[prevKey] = row
	}

	var nextMax float64
	if nextRow := p.q[next.Key()]; nextRow != nil {
		for _, v := range nextRow {
			if v > nextMax {
				nextMax = v
			}
		}
	}

	current := row[action]
	row[action] = current + p.alpha*(reward+p.gamma*nextMax-current)
}

// QValue returns the learned value for a state-action pair.
func (p *Policy) QValue(state State, action string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.q[state.Key()][action]
}

// Reward computes the learning signal for a campaign transition:
// incremental revenue minus incremental spend.
func Reward(before, after *domain.Campaign) float64 {
	return (after.Revenue - before.Revenue) - (after.TotalSpend - before.TotalSpend)
}

// snapshot is the persisted form of the value table.
type snapshot struct {
	States map[string]map[string]float64 `json:"states"`
}

// Snapshot serializes the value table for persistence.
func (p *Policy) Snapshot() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return json.Marshal(snapshot{States: p.q})
}

// Restore replaces the value table from a serialized snapshot.
func (p *Policy) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse policy snapshot: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.States == nil {
		snap.States = make(map[string]map[string]float64)
	}
	p.q = snap.States

	return nil
}

// StateCount returns the number of states with learned values.
func (p *Policy) StateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.q)
}
