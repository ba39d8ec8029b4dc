package provider

import (
	"context"
	"sync"

	"github.com/sapliy/notification-hub/internal/tenant"
	"github.com/sapliy/notification-hub/pkg/observability"
)

// Tier records where in the fallback chain a transport was found.
type Tier string

const (
	TierTenant   Tier = "tenant"
	TierFallback Tier = "fallback"
	TierDefault  Tier = "default"
)

// Resolved is a usable transport plus the provenance needed to pick the
// correct from address.
type Resolved struct {
	Mailer Mailer
	From   string
	Tier   Tier
	// SourceTenant is the tenant whose provider row produced the transport.
	// Empty for the system default.
	SourceTenant string
}

// ProviderSource looks up a tenant's default email provider.
type ProviderSource interface {
	DefaultProvider(ctx context.Context, tenantID string) (*tenant.EmailProvider, error)
}

// Resolver resolves an outbound transport for a tenant: the tenant's own
// default provider, then the fallback tenant's, then the system default.
// Resolution never fails; the final tier always answers. Results are cached
// per tenant for the process lifetime.
type Resolver struct {
	source         ProviderSource
	fallbackTenant string
	systemDefault  Mailer
	systemFrom     string
	logger         *observability.Logger

	// buildTransport turns a provider row into a transport. Overridable in
	// tests to avoid real SMTP dials.
	buildTransport func(*tenant.EmailProvider) Mailer

	mu    sync.Mutex
	cache map[string]*Resolved
}

func NewResolver(source ProviderSource, fallbackTenant string, systemDefault Mailer, systemFrom string, logger *observability.Logger) *Resolver {
	return &Resolver{
		source:         source,
		fallbackTenant: fallbackTenant,
		systemDefault:  systemDefault,
		systemFrom:     systemFrom,
		logger:         logger,
		buildTransport: func(p *tenant.EmailProvider) Mailer { return NewSMTPTransport(p) },
		cache:          make(map[string]*Resolved),
	}
}

// Resolve returns a transport for tenantID. It walks the chain
// tenant -> fallback tenant -> system default and caches the outcome.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) *Resolved {
	r.mu.Lock()
	if cached, ok := r.cache[tenantID]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	resolved := r.resolve(ctx, tenantID)

	r.mu.Lock()
	r.cache[tenantID] = resolved
	r.mu.Unlock()
	return resolved
}

// Invalidate drops a cached entry so the next Resolve re-reads provider
// configuration. The email worker calls it after a failed send; it also
// serves tenants that update their SMTP settings at runtime.
func (r *Resolver) Invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.cache, tenantID)
	r.mu.Unlock()
}

func (r *Resolver) resolve(ctx context.Context, tenantID string) *Resolved {
	if own := r.ownProvider(ctx, tenantID); own != nil {
		own.Tier = TierTenant
		return own
	}

	if tenantID != r.fallbackTenant {
		// resolve the fallback tenant through the cache under its own key,
		// so tenants without providers share one verified transport
		if fb := r.Resolve(ctx, r.fallbackTenant); fb.Tier == TierTenant {
			r.logger.Info("using fallback tenant transport",
				"tenant_id", tenantID,
				"fallback_tenant", r.fallbackTenant,
			)
			shared := *fb
			shared.Tier = TierFallback
			return &shared
		}
	}

	r.logger.Info("using system default transport",
		"tenant_id", tenantID,
		"transport", r.systemDefault.Name(),
	)
	return &Resolved{
		Mailer: r.systemDefault,
		From:   r.systemFrom,
		Tier:   TierDefault,
	}
}

// ownProvider builds a transport from the tenant's own provider row, or nil
// when the tenant has none or it fails verification.
func (r *Resolver) ownProvider(ctx context.Context, tenantID string) *Resolved {
	p, err := r.source.DefaultProvider(ctx, tenantID)
	if err != nil {
		r.logger.Warn("provider lookup failed", "tenant_id", tenantID, "error", err)
		return nil
	}
	if p == nil {
		return nil
	}

	t := r.buildTransport(p)
	if err := t.Verify(ctx); err != nil {
		r.logger.Warn("provider verification failed, continuing down the chain",
			"tenant_id", tenantID,
			"transport", t.Name(),
			"error", err,
		)
		return nil
	}
	return &Resolved{
		Mailer:       t,
		From:         p.FromEmail,
		SourceTenant: tenantID,
	}
}
