package policy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds the booking rules of one tenant.
type Policy struct {
	Timezone          string `yaml:"timezone"`
	SlotStepMinutes   int    `yaml:"slot_step_minutes"`
	MinAdvanceMinutes int    `yaml:"min_advance_minutes"`
	MaxAdvanceDays    int    `yaml:"max_advance_days"`
	HoldTTLMinutes    int    `yaml:"hold_ttl_minutes"`
	MaxRangeDays      int    `yaml:"max_range_days"`
}

func Defaults() Policy {
	return Policy{
		Timezone:          "UTC",
		SlotStepMinutes:   15,
		MinAdvanceMinutes: 0,
		MaxAdvanceDays:    90,
		HoldTTLMinutes:    15,
		MaxRangeDays:      62,
	}
}

// Load reads YAML defaults from path on top of Defaults. An empty path
// returns Defaults.
func Load(path string) (Policy, error) {
	p := Defaults()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read booking policy: %w", err)
	}
	var file struct {
		Defaults Policy `yaml:"defaults"`
	}
	file.Defaults = p
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &file); err != nil {
		return Policy{}, fmt.Errorf("parse booking policy: %w", err)
	}
	if err := file.Defaults.Validate(); err != nil {
		return Policy{}, err
	}
	return file.Defaults, nil
}

func (p Policy) Validate() error {
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("policy timezone %q: %w", p.Timezone, err)
	}
	switch {
	case p.SlotStepMinutes <= 0:
		return fmt.Errorf("slot_step_minutes must be positive")
	case p.MinAdvanceMinutes < 0:
		return fmt.Errorf("min_advance_minutes must not be negative")
	case p.MaxAdvanceDays <= 0:
		return fmt.Errorf("max_advance_days must be positive")
	case p.HoldTTLMinutes <= 0:
		return fmt.Errorf("hold_ttl_minutes must be positive")
	case p.MaxRangeDays <= 0:
		return fmt.Errorf("max_range_days must be positive")
	}
	return nil
}

func (p Policy) Location() (*time.Location, error) {
	return time.LoadLocation(p.Timezone)
}

func (p Policy) MinAdvance() time.Duration {
	return time.Duration(p.MinAdvanceMinutes) * time.Minute
}

func (p Policy) HoldTTL() time.Duration {
	return time.Duration(p.HoldTTLMinutes) * time.Minute
}

// Overrides are the per-tenant settings stored alongside the tenant. Nil
// fields keep the default.
type Overrides struct {
	Timezone          *string
	MinAdvanceMinutes *int
	MaxAdvanceDays    *int
	HoldTTLMinutes    *int
}

func (p Policy) Apply(o Overrides) Policy {
	if o.Timezone != nil && *o.Timezone != "" {
		if _, err := time.LoadLocation(*o.Timezone); err == nil {
			p.Timezone = *o.Timezone
		}
	}
	if o.MinAdvanceMinutes != nil && *o.MinAdvanceMinutes >= 0 {
		p.MinAdvanceMinutes = *o.MinAdvanceMinutes
	}
	if o.MaxAdvanceDays != nil && *o.MaxAdvanceDays > 0 {
		p.MaxAdvanceDays = *o.MaxAdvanceDays
	}
	if o.HoldTTLMinutes != nil && *o.HoldTTLMinutes > 0 {
		p.HoldTTLMinutes = *o.HoldTTLMinutes
	}
	return p
}

type Provider interface {
	Policy(ctx context.Context, tenantID string) (Policy, error)
}

type OverrideStore interface {
	TenantPolicy(ctx context.Context, tenantID string) (Overrides, bool, error)
}

type staticProvider struct {
	policy Policy
}

func NewStaticProvider(p Policy) Provider {
	return &staticProvider{policy: p}
}

func (p *staticProvider) Policy(_ context.Context, _ string) (Policy, error) {
	return p.policy, nil
}

type storeProvider struct {
	defaults Policy
	store    OverrideStore
}

// NewProvider layers per-tenant overrides from store over defaults.
func NewProvider(defaults Policy, store OverrideStore) Provider {
	if store == nil {
		return NewStaticProvider(defaults)
	}
	return &storeProvider{defaults: defaults, store: store}
}

func (p *storeProvider) Policy(ctx context.Context, tenantID string) (Policy, error) {
	o, ok, err := p.store.TenantPolicy(ctx, tenantID)
	if err != nil {
		return Policy{}, err
	}
	if !ok {
		return p.defaults, nil
	}
	return p.defaults.Apply(o), nil
}
