// Package etcd publishes server naming tokens to etcd under a lease, so a
// registration disappears when the process dies without unregistering.
package etcd

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/kart-io/logger"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kart-io/harbor/pkg/infra/naming"
	etcdopts "github.com/kart-io/harbor/pkg/options/etcd"
)

// Registry implements naming.Registry on etcd.
type Registry struct {
	client  *clientv3.Client
	prefix  string
	ttl     int64
	timeout time.Duration
	owns    bool

	mu      sync.Mutex
	value   string
	keepers map[clientv3.LeaseID]context.CancelFunc
}

var _ naming.Registry = (*Registry)(nil)

// New dials etcd with opts. The returned registry owns the client and closes
// it in Close.
func New(opts *etcdopts.Options) (*Registry, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid etcd options: %w", err)
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
		Username:    opts.Username,
		Password:    opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	r := NewWithClient(cli, opts)
	r.owns = true
	return r, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of cli.
func NewWithClient(cli *clientv3.Client, opts *etcdopts.Options) *Registry {
	return &Registry{
		client:  cli,
		prefix:  opts.Prefix,
		ttl:     opts.LeaseTTL,
		timeout: opts.RequestTimeout,
		keepers: make(map[clientv3.LeaseID]context.CancelFunc),
	}
}

// SetValue sets the payload stored with every registration, e.g. the
// shutdown address of the server.
func (r *Registry) SetValue(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = v
}

// Key returns the key a token is registered under.
func (r *Registry) Key(token naming.Token) string {
	return path.Join(r.prefix, string(token))
}

// Register grants a lease, keeps it alive and writes the token key under it.
func (r *Registry) Register(ctx context.Context, token naming.Token) (naming.Handle, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	lease, err := r.client.Grant(ctx, r.ttl)
	if err != nil {
		return naming.Handle{}, fmt.Errorf("failed to grant lease: %w", err)
	}

	key := r.Key(token)
	r.mu.Lock()
	value := r.value
	r.mu.Unlock()

	// Create only if absent, a second server with the same token is a bug.
	resp, err := r.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, value, clientv3.WithLease(lease.ID))).
		Commit()
	if err != nil {
		r.revoke(lease.ID)
		return naming.Handle{}, fmt.Errorf("failed to register naming token: %w", err)
	}
	if !resp.Succeeded {
		r.revoke(lease.ID)
		return naming.Handle{}, fmt.Errorf("naming token %s already registered at %s", token, key)
	}

	kaCtx, kaCancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		kaCancel()
		r.revoke(lease.ID)
		return naming.Handle{}, fmt.Errorf("failed to keep alive lease: %w", err)
	}
	go func() {
		for range ch {
		}
		if kaCtx.Err() == nil {
			logger.Warnw("Etcd keepalive channel closed", "key", key)
		}
	}()

	r.mu.Lock()
	r.keepers[lease.ID] = kaCancel
	r.mu.Unlock()

	logger.Infow("Naming token registered to etcd", "key", key, "lease", int64(lease.ID))
	return naming.Handle{Token: token, Key: key, Lease: int64(lease.ID)}, nil
}

// Unregister stops the keepalive and revokes the lease, which deletes the
// key.
func (r *Registry) Unregister(ctx context.Context, h naming.Handle) error {
	id := clientv3.LeaseID(h.Lease)

	r.mu.Lock()
	if stop, ok := r.keepers[id]; ok {
		stop()
		delete(r.keepers, id)
	}
	r.mu.Unlock()

	if id == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if _, err := r.client.Revoke(ctx, id); err != nil {
		return fmt.Errorf("failed to revoke lease for %s: %w", h.Key, err)
	}
	logger.Infow("Naming token deregistered from etcd", "key", h.Key)
	return nil
}

// Close stops every keepalive and closes the client if the registry owns it.
func (r *Registry) Close() error {
	r.mu.Lock()
	for id, stop := range r.keepers {
		stop()
		delete(r.keepers, id)
	}
	r.mu.Unlock()

	if r.owns {
		return r.client.Close()
	}
	return nil
}

func (r *Registry) revoke(id clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_, _ = r.client.Revoke(ctx, id)
}

func (r *Registry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
