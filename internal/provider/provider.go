// Package provider defines the uniform adapter contract wrapping each paid
// data provider, and the registry the cascade resolves adapters from. The
// cascade never branches on concrete provider identity; capability tags per
// field category are the only dispatch mechanism.
package provider

import (
	"context"
	"sync"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
)

// Identity holds the identifiers an adapter can look a lead up by.
type Identity struct {
	LeadID      string
	Domain      string
	CompanyName string
	Email       string
	FirstName   string
	LastName    string
	LinkedInURL string
}

// Fields maps canonical field keys to resolved values. Keys are shared
// across providers so results merge field by field.
type Fields map[string]any

// Result is the uniform response from one adapter call.
type Result struct {
	Provider   string  `json:"provider"`
	Fields     Fields  `json:"fields"`
	Confidence float64 `json:"confidence"`
	CostUSD    float64 `json:"cost_usd"`
}

// Adapter is the uniform call contract over a concrete data provider.
type Adapter interface {
	// Name returns the provider identifier used in config, ledger postings
	// and call records.
	Name() string
	// Capabilities lists the field categories this adapter can resolve.
	Capabilities() []model.FieldCategory
	// CostPerCall is the estimated cost reserved before each call.
	CostPerCall() float64
	// Lookup resolves fields for one category. Blocking; honors ctx.
	Lookup(ctx context.Context, id Identity, category model.FieldCategory) (*Result, error)
}

// CanResolve reports whether the adapter covers the category.
func CanResolve(a Adapter, category model.FieldCategory) bool {
	for _, c := range a.Capabilities() {
		if c == category {
			return true
		}
	}
	return false
}

// Registry manages the configured adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns an adapter by name, or nil if not configured.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// Ordered returns the configured adapters for the given priority order,
// skipping names that are not registered or lack the capability.
func (r *Registry) Ordered(order []string, category model.FieldCategory) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(order))
	for _, name := range order {
		a, ok := r.adapters[name]
		if !ok || !CanResolve(a, category) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// List returns all registered adapter names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// RequiredFields lists the canonical keys that constitute full coverage for
// a category. The cascade short-circuits once all are present with
// acceptable confidence.
func RequiredFields(category model.FieldCategory) []string {
	switch category {
	case model.CategoryCompany:
		return []string{"name", "industry", "employee_count"}
	case model.CategoryContact:
		return []string{"first_name", "last_name", "email", "title"}
	case model.CategoryEmail:
		return []string{"email_status"}
	default:
		return nil
	}
}
