// Package redisprovider is an example resource.Provider that hands
// back a per-tenant *redis.Client, dialed lazily and cached by the
// owning resource.Cache.
package redisprovider

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"go.msglistener.dev/resource"
)

// TenantContext is the minimal routing value this provider keys on.
// Host applications resolving richer context types adapt with their
// own resource.ContextResolver and pass the tenant ID through.
type TenantContext struct {
	TenantID string `json:"tenantId"`
}

// AddressFunc maps a tenant ID to the Redis address (host:port) to
// dial. DB selects the logical database index within that instance.
type AddressFunc func(tenantID string) (addr string, db int)

// Provider dials a per-tenant *redis.Client on first touch.
type Provider struct {
	addressFor AddressFunc
	password   string
}

// New constructs a Provider. password is shared across tenants; pass
// an empty string when the target instances require none.
func New(addressFor AddressFunc, password string) *Provider {
	return &Provider{addressFor: addressFor, password: password}
}

// Provide implements resource.Provider[TenantContext, *redis.Client].
func (p *Provider) Provide(ctx context.Context, value TenantContext) (*redis.Client, error) {
	addr, db := p.addressFor(value.TenantID)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: p.password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("dial redis for tenant %q at %s db %d: %w", value.TenantID, addr, db, err)
	}
	return client, nil
}

// Cleanup closes the client. Wired as the resource.Cleanup passed to
// resource.NewCache.
func Cleanup(client *redis.Client) {
	_ = client.Close()
}

var _ resource.Provider[TenantContext, *redis.Client] = (*Provider)(nil)
