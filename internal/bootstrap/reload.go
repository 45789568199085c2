package bootstrap

import (
	"fmt"

	"github.com/kart-io/logger"
	"github.com/spf13/viper"

	"github.com/kart-io/harbor/pkg/infra/config"
	"github.com/kart-io/harbor/pkg/infra/pool"
	logopts "github.com/kart-io/harbor/pkg/options/logger"
	serveropts "github.com/kart-io/harbor/pkg/options/server"
)

// Config sections that are applied without a restart.
const (
	sectionLog    = "log"
	sectionServer = "server"
)

// WatchConfig subscribes the reloadable parts of the process to w: the
// logger configuration and the executor capacities. Everything else only
// takes effect on restart.
func (b *AppBootstrapper) WatchConfig(w *config.Watcher) {
	w.Subscribe(sectionLog, b.reloadLogger)
	w.Subscribe(sectionServer, b.reloadServer)
}

func (b *AppBootstrapper) reloadLogger(v *viper.Viper) error {
	r := b.loggingInit.Reloadable()
	if r == nil {
		return nil
	}
	next := logopts.NewOptions()
	if err := v.UnmarshalKey(sectionLog, next, config.DecodeOption()); err != nil {
		return fmt.Errorf("decode %s: %w", sectionLog, err)
	}
	if err := next.Complete(); err != nil {
		return err
	}
	return r.Apply(next)
}

func (b *AppBootstrapper) reloadServer(v *viper.Viper) error {
	next := serveropts.NewOptions()
	if err := v.UnmarshalKey(sectionServer, next, config.DecodeOption()); err != nil {
		return fmt.Errorf("decode %s: %w", sectionServer, err)
	}
	return b.serverInit.TuneExecutors(next)
}

// TuneExecutors resizes every running executor whose capacity changed in
// next. Executors that next does not name are left alone.
func (s *ServerInitializer) TuneExecutors(next *serveropts.Options) error {
	if s.srv == nil || next == nil {
		return nil
	}
	for _, so := range next.Services {
		svc, ok := s.srv.FindService(so.Name)
		if !ok {
			continue
		}
		for _, eo := range so.Executors {
			if eo.Capacity <= 0 {
				continue
			}
			ex, ok := svc.GetExecutor(eo.Name)
			if !ok {
				continue
			}
			p, ok := ex.(*pool.Executor)
			if !ok || p.Capacity() == eo.Capacity {
				continue
			}
			if err := p.Tune(eo.Capacity); err != nil {
				return fmt.Errorf("tune executor %s/%s: %w", so.Name, eo.Name, err)
			}
			logger.Infow("Executor capacity changed", "service", so.Name, "executor", eo.Name, "capacity", eo.Capacity)
		}
	}
	return nil
}
