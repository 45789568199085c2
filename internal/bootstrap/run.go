package bootstrap

import (
	"context"

	"github.com/spf13/viper"

	"github.com/kart-io/harbor/pkg/infra/config"
)

// Run initializes the process, serves until a shutdown is requested and
// tears everything down. v, when it was loaded from a file, is watched for
// reloadable changes.
func Run(ctx context.Context, opts *BootstrapOptions, v *viper.Viper) error {
	b := NewAppBootstrapper(opts)
	if err := b.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		_ = b.Shutdown(context.Background())
	}()

	if v != nil && v.ConfigFileUsed() != "" {
		w := config.NewWatcher(v)
		b.WatchConfig(w)
		w.Start()
	}
	return b.serverInit.Run(ctx)
}
