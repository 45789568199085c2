package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
	options "github.com/kart-io/harbor/pkg/options/server"
)

// journal records lifecycle hooks across components in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}

// fail maps "start"/"stop" to the error the hook returns.
type fail map[string]error

func recordingHooks(name string, j *journal, f fail) lifecycle.Hooks {
	hook := func(op string) func(context.Context) error {
		return func(context.Context) error {
			if j != nil {
				j.add(op + ":" + name)
			}
			return f[op]
		}
	}
	return lifecycle.Hooks{Start: hook("start"), Stop: hook("stop")}
}

type fakeEngine struct {
	*lifecycle.Machine
	EngineBase
}

func newFakeEngine(name string, j *journal, f fail) *fakeEngine {
	return &fakeEngine{Machine: lifecycle.NewMachine(name, recordingHooks(name, j, f))}
}

func (e *fakeEngine) Mapper() Mapper {
	return http.NotFoundHandler()
}

type fakeConnector struct {
	*lifecycle.Machine
	ConnectorBase
}

func newFakeConnector(name string, j *journal, f fail) *fakeConnector {
	return &fakeConnector{Machine: lifecycle.NewMachine(name, recordingHooks(name, j, f))}
}

type fakeExecutor struct {
	*lifecycle.Machine
}

func newFakeExecutor(name string, j *journal, f fail) *fakeExecutor {
	return &fakeExecutor{Machine: lifecycle.NewMachine(name, recordingHooks(name, j, f))}
}

func (e *fakeExecutor) Submit(task func()) error {
	task()
	return nil
}

// serviceSpec describes a test service; suffix names its children
// ex<suffix>, eng<suffix> and conn<suffix>.
type serviceSpec struct {
	name   string
	suffix string
	conn   fail
}

func buildService(j *journal, spec serviceSpec) *Service {
	svc := NewService(spec.name)
	ctx := context.Background()
	_ = svc.AddExecutor(ctx, newFakeExecutor("ex"+spec.suffix, j, nil))
	_ = svc.SetContainer(ctx, newFakeEngine("eng"+spec.suffix, j, nil))
	_ = svc.AddConnector(ctx, newFakeConnector("conn"+spec.suffix, j, spec.conn))
	return svc
}

func testOptions() *Options {
	o := options.NewOptions()
	o.Port = options.DisabledPort
	o.PeriodicEventDelay = 0
	return o
}
