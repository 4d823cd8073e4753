// Package mongoprovider is an example resource.Provider that hands
// back a per-tenant *mongo.Database drawn from one shared *mongo.Client,
// following the per-tenant-database layout the platform repositories
// this was adapted from use.
package mongoprovider

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"go.msglistener.dev/resource"
)

// TenantContext is the minimal routing value this provider keys on.
type TenantContext struct {
	TenantID string `json:"tenantId"`
}

// DatabaseNameFunc maps a tenant ID to its logical database name
// within the shared cluster.
type DatabaseNameFunc func(tenantID string) string

// Provider hands back *mongo.Database handles scoped to one tenant
// each, all sharing a single underlying *mongo.Client connection pool.
// Provide performs no I/O of its own, Database() is a cheap handle
// constructor, but it still goes through the cache so the "called at
// most once per key" contract and cleanup bookkeeping apply uniformly
// across provider implementations.
type Provider struct {
	client      *mongo.Client
	databaseFor DatabaseNameFunc
}

// New constructs a Provider over an already-connected shared client.
func New(client *mongo.Client, databaseFor DatabaseNameFunc) *Provider {
	return &Provider{client: client, databaseFor: databaseFor}
}

// Provide implements resource.Provider[TenantContext, *mongo.Database].
func (p *Provider) Provide(ctx context.Context, value TenantContext) (*mongo.Database, error) {
	name := p.databaseFor(value.TenantID)
	if name == "" {
		return nil, fmt.Errorf("no database mapped for tenant %q", value.TenantID)
	}
	return p.client.Database(name), nil
}

// Cleanup is a no-op: the *mongo.Database handle does not own a
// connection, the shared *mongo.Client does. Wiring it lets callers
// still pass resource.NewCache a Cleanup without a type mismatch.
func Cleanup(*mongo.Database) {}

var _ resource.Provider[TenantContext, *mongo.Database] = (*Provider)(nil)
