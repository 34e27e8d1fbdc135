// internal/infra/etcd/registry.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// dispatcherRegistryPrefix is the etcd prefix where dispatcher
	// instances register themselves.
	dispatcherRegistryPrefix = "/internvl/dispatchers/"
)

// Instance describes one running dispatcher. It is stored as the
// registration value so operators can see which instance drains which
// queue with what capacity. Purely observational — nothing coordinates
// through these keys.
type Instance struct {
	ID             string `json:"id"`
	Channel        string `json:"channel"`
	PoolSize       int    `json:"pool_size"`
	MessageTimeout string `json:"message_timeout"`
}

// Registry handles the registration of a dispatcher instance in etcd.
type Registry struct {
	client  *clientv3.Client
	logger  *slog.Logger
	leaseID clientv3.LeaseID
	key     string
}

// NewRegistry creates a new instance registry.
func NewRegistry(client *clientv3.Client, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		logger: logger.With("component", "registry"),
	}
}

// Register writes the instance under a leased key and keeps the lease
// alive in the background. When the process dies, the lease expires and
// the key disappears on its own.
func (r *Registry) Register(ctx context.Context, inst Instance, ttl int64) error {
	r.key = dispatcherRegistryPrefix + inst.ID

	value, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}

	leaseResp, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.leaseID = leaseResp.ID

	_, err = r.client.Put(ctx, r.key, string(value), clientv3.WithLease(r.leaseID))
	if err != nil {
		return fmt.Errorf("failed to put registration key: %w", err)
	}

	keepAliveCh, err := r.client.KeepAlive(context.Background(), r.leaseID)
	if err != nil {
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}

	go func() {
		for {
			// Consume keep-alive responses. A closed channel means the
			// lease has been revoked or has expired.
			ka, ok := <-keepAliveCh
			if !ok {
				r.logger.Warn("keep-alive channel closed, registration may have expired")
				return
			}
			r.logger.Debug("lease keep-alive refreshed", "lease_id", ka.ID, "ttl", ka.TTL)
		}
	}()

	r.logger.Info("dispatcher registered", "key", r.key, "channel", inst.Channel, "pool_size", inst.PoolSize)
	return nil
}

// Deregister removes the instance registration from etcd.
func (r *Registry) Deregister(ctx context.Context) error {
	r.logger.Info("deregistering dispatcher", "key", r.key)

	// Revoking the lease deletes the associated key.
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}
