package template

import (
	"context"

	"github.com/sapliy/notification-hub/internal/tenant"
)

// Finder looks up a single active template. Implemented by Repository.
type Finder interface {
	Find(ctx context.Context, tenantID, name, typ string) (*Template, error)
}

// Resolver resolves a named template for a tenant, falling back to the
// global template set. Absence after fallback is an error, never a silent
// default.
type Resolver struct {
	store Finder
}

func NewResolver(store Finder) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) Resolve(ctx context.Context, tenantID, name, typ string) (*Template, error) {
	t, err := r.store.Find(ctx, tenantID, name, typ)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return t, nil
	}

	t, err = r.store.Find(ctx, tenant.GlobalID, name, typ)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &NotFoundError{TenantID: tenantID, Name: name, Type: typ}
	}
	return t, nil
}
