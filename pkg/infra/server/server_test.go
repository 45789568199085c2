package server

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
	"github.com/kart-io/harbor/pkg/infra/naming"
	"github.com/kart-io/harbor/pkg/infra/pool"
)

func TestPortWithOffset(t *testing.T) {
	tests := []struct {
		name   string
		port   int
		offset int
		want   int
	}{
		{"no offset", 8005, 0, 8005},
		{"offset", 8005, 1000, 9005},
		{"disabled port keeps raw value", -1, 0, -1},
		{"ephemeral", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(testOptions())
			s.SetPort(tt.port)
			s.SetPortOffset(tt.offset)
			assert.Equal(t, tt.want, s.PortWithOffset())
		})
	}

	s := NewServer(testOptions())
	s.SetPort(8005)
	s.SetPortOffset(10)
	assert.Equal(t, 8015, s.PortWithOffset())
	s.SetPortOffset(20)
	assert.Equal(t, 8025, s.PortWithOffset(), "recomputed on every call")
}

func TestServerStartStopOrder(t *testing.T) {
	j := &journal{}
	s := NewServer(testOptions())
	ctx := context.Background()
	require.NoError(t, s.AddService(ctx, buildService(j, serviceSpec{name: "svc1", suffix: "1"})))
	require.NoError(t, s.AddService(ctx, buildService(j, serviceSpec{name: "svc2", suffix: "2"})))

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, lifecycle.StateStarted, s.State())
	assert.Equal(t, []string{
		"start:ex1", "start:eng1", "start:conn1",
		"start:ex2", "start:eng2", "start:conn2",
	}, j.list())

	j.reset()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, lifecycle.StateStopped, s.State())
	assert.Equal(t, []string{
		"stop:conn2", "stop:eng2", "stop:ex2",
		"stop:conn1", "stop:eng1", "stop:ex1",
	}, j.list())

	require.NoError(t, s.Destroy(ctx))
	for _, svc := range s.FindServices() {
		assert.Equal(t, lifecycle.StateDestroyed, svc.State(), svc.Name())
	}
}

func TestServerStartRollback(t *testing.T) {
	j := &journal{}
	s := NewServer(testOptions())
	ctx := context.Background()
	boom := errors.New("bind: address in use")

	svc1 := buildService(j, serviceSpec{name: "svc1", suffix: "1"})
	svc2 := buildService(j, serviceSpec{name: "svc2", suffix: "2", conn: fail{"start": boom}})
	svc3 := buildService(j, serviceSpec{name: "svc3", suffix: "3"})
	for _, svc := range []*Service{svc1, svc2, svc3} {
		require.NoError(t, s.AddService(ctx, svc))
	}

	err := s.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var startErr *lifecycle.StartupError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, "svc2", startErr.Component)

	assert.Equal(t, []string{
		"start:ex1", "start:eng1", "start:conn1",
		"start:ex2", "start:eng2", "start:conn2",
		"stop:eng2", "stop:ex2",
		"stop:conn1", "stop:eng1", "stop:ex1",
	}, j.list())

	assert.Equal(t, lifecycle.StateFailed, s.State())
	assert.Equal(t, lifecycle.StateStopped, svc1.State())
	assert.Equal(t, lifecycle.StateFailed, svc2.State())
	assert.Equal(t, lifecycle.StateInitialized, svc3.State(), "svc3 never starts")
}

func TestServerStopAggregatesFailures(t *testing.T) {
	j := &journal{}
	s := NewServer(testOptions())
	ctx := context.Background()
	boom := errors.New("close: broken pipe")

	svc1 := buildService(j, serviceSpec{name: "svc1", suffix: "1", conn: fail{"stop": boom}})
	svc2 := buildService(j, serviceSpec{name: "svc2", suffix: "2"})
	require.NoError(t, s.AddService(ctx, svc1))
	require.NoError(t, s.AddService(ctx, svc2))
	require.NoError(t, s.Start(ctx))

	j.reset()
	err := s.Stop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var agg *lifecycle.ShutdownError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, []string{"conn1"}, agg.Components())

	assert.Equal(t, []string{
		"stop:conn2", "stop:eng2", "stop:ex2",
		"stop:conn1", "stop:eng1", "stop:ex1",
	}, j.list())
	assert.Equal(t, lifecycle.StateStopped, s.State())
	assert.Equal(t, lifecycle.StateStopped, svc1.State())
	assert.Equal(t, lifecycle.StateStopped, svc2.State())
	assert.Equal(t, lifecycle.StateStopped, svc1.Container().State())
	assert.Equal(t, lifecycle.StateFailed, svc1.FindConnectors()[0].State())
}

func TestServerAddService(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate name", func(t *testing.T) {
		s := NewServer(testOptions())
		first := buildService(nil, serviceSpec{name: "svc", suffix: "1"})
		require.NoError(t, s.AddService(ctx, first))

		err := s.AddService(ctx, buildService(nil, serviceSpec{name: "svc", suffix: "2"}))
		assert.ErrorIs(t, err, lifecycle.ErrDuplicateName)
		require.Len(t, s.FindServices(), 1)
		assert.Same(t, first, s.FindServices()[0])
	})

	t.Run("while started", func(t *testing.T) {
		s := NewServer(testOptions())
		require.NoError(t, s.Start(ctx))

		svc := buildService(nil, serviceSpec{name: "late", suffix: "1"})
		require.NoError(t, s.AddService(ctx, svc))
		assert.Equal(t, lifecycle.StateStarted, svc.State())
		assert.Same(t, s, svc.Server())

		got, ok := s.FindService("late")
		require.True(t, ok)
		assert.Same(t, svc, got)
		require.NoError(t, s.Stop(ctx))
		assert.Equal(t, lifecycle.StateStopped, svc.State())
	})

	t.Run("while initialized", func(t *testing.T) {
		s := NewServer(testOptions())
		require.NoError(t, s.Init(ctx))

		svc := buildService(nil, serviceSpec{name: "late", suffix: "1"})
		require.NoError(t, s.AddService(ctx, svc))
		assert.Equal(t, lifecycle.StateInitialized, svc.State())
	})

	t.Run("nil", func(t *testing.T) {
		s := NewServer(testOptions())
		assert.ErrorIs(t, s.AddService(ctx, nil), lifecycle.ErrConfiguration)
	})
}

func TestServerRemoveService(t *testing.T) {
	ctx := context.Background()
	s := NewServer(testOptions())
	svc := buildService(nil, serviceSpec{name: "svc", suffix: "1"})
	require.NoError(t, s.AddService(ctx, svc))
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.RemoveService(ctx, svc))
	assert.Equal(t, lifecycle.StateStopped, svc.State())
	assert.Nil(t, svc.Server())
	assert.Empty(t, s.FindServices())

	_, ok := s.FindService("svc")
	assert.False(t, ok)
	assert.NoError(t, s.RemoveService(ctx, svc), "absent service is a no-op")
}

func TestServerIdempotence(t *testing.T) {
	ctx := context.Background()
	s := NewServer(testOptions())
	require.NoError(t, s.AddService(ctx, buildService(nil, serviceSpec{name: "svc", suffix: "1"})))

	var events int
	s.AddListener(lifecycle.ListenerFunc(func(lifecycle.Event) error {
		events++
		return nil
	}))

	require.NoError(t, s.Start(ctx))
	n := events
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, n, events)
	assert.Equal(t, lifecycle.StateStarted, s.State())

	require.NoError(t, s.Stop(ctx))
	n = events
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, n, events)

	require.NoError(t, s.Destroy(ctx))
	n = events
	require.NoError(t, s.Destroy(ctx))
	assert.Equal(t, n, events)
	assert.Equal(t, lifecycle.StateDestroyed, s.State())
}

func TestServerServiceWithoutEngine(t *testing.T) {
	ctx := context.Background()
	s := NewServer(testOptions())
	require.NoError(t, s.AddService(ctx, NewService("bare")))

	err := s.Init(ctx)
	assert.ErrorIs(t, err, lifecycle.ErrConfiguration)

	var cfgErr *lifecycle.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "bare", cfgErr.Component)
	assert.Equal(t, lifecycle.StateFailed, s.State())
}

func TestServerInitValidatesOptions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"any negative port disables", func(o *Options) { o.Port = -2 }, false},
		{"command with inner space", func(o *Options) { o.Shutdown = "STOP NOW" }, false},
		{"command with surrounding space", func(o *Options) { o.Shutdown = " SHUTDOWN" }, true},
		{"port out of range", func(o *Options) { o.Port = 70000 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOptions()
			tt.mutate(o)
			s := NewServer(o)
			err := s.Init(context.Background())
			if tt.wantErr {
				assert.ErrorIs(t, err, lifecycle.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, lifecycle.StateInitialized, s.State())
		})
	}
}

func TestServerAccessors(t *testing.T) {
	s := NewServer(testOptions())

	s.SetAddress("127.0.0.1")
	assert.Equal(t, "127.0.0.1", s.Address())

	s.SetPortOffset(7)
	assert.Equal(t, 7, s.PortOffset())

	s.SetHomeDir("/opt/harbor")
	assert.Equal(t, "/opt/harbor", s.HomeDir())
	s.SetBaseDir("")
	assert.Equal(t, "/opt/harbor", s.BaseDir(), "base falls back to home")
	s.SetBaseDir("/srv/instance")
	assert.Equal(t, "/srv/instance", s.BaseDir())

	assert.Nil(t, s.Launcher())
	l := fakeLauncher{loader: NewLoader("launcher")}
	s.SetLauncher(l)
	assert.Equal(t, l, s.Launcher())
	s.SetLauncher(nil)
	assert.Nil(t, s.Launcher())
}

func TestSetUtilityThreads(t *testing.T) {
	o := testOptions()
	o.UtilityThreads = 2
	s := NewServer(o)
	assert.Equal(t, 2, s.UtilityThreads())

	s.SetUtilityThreads(3)
	assert.Equal(t, 3, s.UtilityThreads())

	u, err := s.UtilityExecutor()
	require.NoError(t, err)
	assert.Equal(t, 3, u.Size(), "pool created with the updated size")

	s.SetUtilityThreads(5)
	assert.Equal(t, 5, u.Size(), "live pool resized")

	s.SetUtilityThreads(0)
	assert.Equal(t, 0, s.UtilityThreads())
	assert.Equal(t, runtime.GOMAXPROCS(0), u.Size(), "0 means GOMAXPROCS")

	ctx := context.Background()
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Destroy(ctx))
}

func TestServerNamingRegistration(t *testing.T) {
	ctx := context.Background()
	reg := naming.NewMemoryRegistry()
	s := NewServer(testOptions(), WithNamingRegistry(reg))

	_, err := s.NamingToken().Time()
	require.NoError(t, err)

	require.NoError(t, s.Init(ctx))
	assert.True(t, reg.Registered(s.NamingToken()))

	require.NoError(t, s.GlobalNamingResources().AddEntry(naming.Entry{Name: "jdbc/main", Type: "datasource"}))
	require.NoError(t, s.Start(ctx))
	entry, err := s.GlobalNamingResources().Lookup("jdbc/main")
	require.NoError(t, err)
	assert.Equal(t, "datasource", entry.Type)
	assert.Equal(t, lifecycle.StateStarted, s.GlobalNamingResources().State())

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Destroy(ctx))
	assert.False(t, reg.Registered(s.NamingToken()))
	assert.Equal(t, lifecycle.StateDestroyed, s.GlobalNamingResources().State())
}

type fakeLauncher struct {
	loader Loader
}

func (l fakeLauncher) ParentLoader() Loader {
	return l.loader
}

func TestParentLoaderResolution(t *testing.T) {
	ctx := context.Background()
	s := NewServer(testOptions())
	svc := NewService("svc")
	eng := newFakeEngine("eng", nil, nil)
	require.NoError(t, svc.SetContainer(ctx, eng))

	assert.Equal(t, Platform(), svc.ParentLoader(), "service without server")
	assert.Equal(t, Platform(), eng.ParentLoader())

	require.NoError(t, s.AddService(ctx, svc))
	assert.Equal(t, Platform(), eng.ParentLoader(), "server falls back to platform")

	s.SetLauncher(fakeLauncher{loader: NewLoader("launcher")})
	assert.Equal(t, "launcher", eng.ParentLoader().Name())

	s.SetParentLoader(NewLoader("server"))
	assert.Equal(t, "server", svc.ParentLoader().Name())

	svc.SetParentLoader(NewLoader("service"))
	assert.Equal(t, "service", eng.ParentLoader().Name())

	eng.SetParentLoader(NewLoader("engine"))
	assert.Equal(t, "engine", eng.ParentLoader().Name())

	s2 := NewServer(testOptions(), WithLauncher(fakeLauncher{}))
	assert.Equal(t, Platform(), s2.ParentLoader(), "launcher without loader")
}

func TestUtilityExecutor(t *testing.T) {
	o := testOptions()
	o.UtilityThreads = 2
	s := NewServer(o)

	const callers = 8
	got := make([]*pool.Utility, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := s.UtilityExecutor()
			assert.NoError(t, err)
			got[i] = u
		}(i)
	}
	wg.Wait()

	for _, u := range got[1:] {
		assert.Same(t, got[0], u)
	}
	assert.Equal(t, 2, got[0].Size())

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Destroy(ctx))

	u, err := s.UtilityExecutor()
	require.NoError(t, err)
	assert.NotSame(t, got[0], u, "destroy releases the utility executor")
}

func TestServerPeriodicEvent(t *testing.T) {
	o := testOptions()
	o.PeriodicEventDelay = 10 * time.Millisecond
	s := NewServer(o)
	ctx := context.Background()
	svc := buildService(nil, serviceSpec{name: "svc", suffix: "1"})
	require.NoError(t, s.AddService(ctx, svc))

	var mu sync.Mutex
	seen := map[string]int{}
	l := lifecycle.ListenerFunc(func(e lifecycle.Event) error {
		if e.Type == lifecycle.EventPeriodic {
			mu.Lock()
			seen[e.Source]++
			mu.Unlock()
		}
		return nil
	})
	s.AddListener(l)
	svc.AddListener(l)

	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["server"] >= 2 && seen["svc"] >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Destroy(ctx))
}

func TestServerAwait(t *testing.T) {
	s := NewServer(testOptions())

	t.Run("context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, s.Await(ctx), context.DeadlineExceeded)
	})

	t.Run("stop await", func(t *testing.T) {
		done := make(chan error, 1)
		go func() { done <- s.Await(context.Background()) }()
		s.StopAwait()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Await did not return")
		}
		s.StopAwait()
	})

	t.Run("stop releases await", func(t *testing.T) {
		ctx := context.Background()
		srv := NewServer(testOptions())
		require.NoError(t, srv.Start(ctx))

		done := make(chan error, 1)
		go func() { done <- srv.Await(ctx) }()
		require.NoError(t, srv.Stop(ctx))
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Await did not return")
		}
	})
}

func TestServerListenerBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	o := testOptions()
	o.Address = "127.0.0.1"
	o.Port = busy.Addr().(*net.TCPAddr).Port
	s := NewServer(o)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx), "bind failure is not fatal")
	assert.Equal(t, lifecycle.StateStarted, s.State())
	assert.Nil(t, s.ShutdownAddr())
	require.NoError(t, s.Stop(ctx))
}

func TestServerSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewServer(testOptions())
	svc := NewService("svc")
	require.NoError(t, svc.AddExecutor(ctx, pool.NewExecutor("workers", pool.DefaultConfig())))
	require.NoError(t, svc.SetContainer(ctx, newFakeEngine("eng", nil, nil)))
	require.NoError(t, svc.AddConnector(ctx, newFakeConnector("conn", nil, nil)))
	require.NoError(t, s.AddService(ctx, svc))
	require.NoError(t, s.Start(ctx))
	defer func() { _ = s.Stop(ctx) }()

	st := s.Snapshot()
	assert.Equal(t, "server", st.Kind)
	assert.Equal(t, "started", st.State)
	require.Len(t, st.Children, 2)
	assert.Equal(t, "resources", st.Children[0].Kind)

	svcStatus := st.Children[1]
	assert.Equal(t, "svc", svcStatus.Name)
	require.Len(t, svcStatus.Children, 3)
	assert.Equal(t, []string{"executor", "engine", "connector"}, []string{
		svcStatus.Children[0].Kind, svcStatus.Children[1].Kind, svcStatus.Children[2].Kind,
	})
	require.NotNil(t, svcStatus.Children[0].Stats)
	assert.Equal(t, pool.DefaultConfig().Capacity, svcStatus.Children[0].Stats.Capacity)
}
