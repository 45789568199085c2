package bootstrap

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/kart-io/harbor/pkg/infra/naming"
	"github.com/kart-io/harbor/pkg/infra/naming/etcd"
	etcdopts "github.com/kart-io/harbor/pkg/options/etcd"
)

// NamingInitializer selects the registry the server publishes its naming
// token to: etcd when enabled, otherwise an in-process registry.
type NamingInitializer struct {
	opts     *etcdopts.Options
	registry naming.Registry
	etcd     *etcd.Registry
}

// NewNamingInitializer creates a new NamingInitializer.
func NewNamingInitializer(opts *etcdopts.Options) *NamingInitializer {
	return &NamingInitializer{opts: opts}
}

func (n *NamingInitializer) Name() string { return "naming" }

func (n *NamingInitializer) Dependencies() []string { return []string{"logging"} }

func (n *NamingInitializer) Initialize(context.Context) error {
	if n.opts == nil || !n.opts.Enabled {
		n.registry = naming.NewMemoryRegistry()
		return nil
	}
	r, err := etcd.New(n.opts)
	if err != nil {
		return fmt.Errorf("failed to connect naming registry: %w", err)
	}
	n.etcd = r
	n.registry = r
	logger.Infow("Naming registry connected", "endpoints", n.opts.Endpoints, "prefix", n.opts.Prefix)
	return nil
}

// Registry returns the selected registry, nil before Initialize.
func (n *NamingInitializer) Registry() naming.Registry {
	return n.registry
}

// Shutdown closes the etcd client.
func (n *NamingInitializer) Shutdown(context.Context) error {
	if n.etcd == nil {
		return nil
	}
	return n.etcd.Close()
}
