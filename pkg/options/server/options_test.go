package server

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/harbor/pkg/infra/pool"
	"github.com/kart-io/harbor/pkg/validator"
)

func validOptions() *Options {
	svc := NewServiceOptions("api")
	svc.Executors = []*ExecutorOptions{NewExecutorOptions("workers")}
	web := NewConnectorOptions("web", ProtocolHTTP, "127.0.0.1:8080")
	web.Executor = "workers"
	svc.Connectors = []*ConnectorOptions{web, NewConnectorOptions("rpc", ProtocolGRPC, "127.0.0.1:9090")}

	o := NewOptions()
	o.ApplyOptions(WithServices(svc))
	return o
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Options)
		field  string
	}{
		{"valid", func(o *Options) {}, ""},
		{"disabled port", func(o *Options) { o.Port = DisabledPort }, ""},
		{"any negative port disables", func(o *Options) { o.Port = -2 }, ""},
		{"port out of range", func(o *Options) { o.Port = 70000 }, "port"},
		{"command with inner space", func(o *Options) { o.Shutdown = "STOP NOW" }, ""},
		{"command with surrounding space", func(o *Options) { o.Shutdown = "STOP NOW " }, "shutdown"},
		{"negative offset", func(o *Options) { o.PortOffset = -1 }, "port-offset"},
		{"blank command", func(o *Options) { o.Shutdown = "" }, "shutdown"},
		{"zero stop timeout", func(o *Options) { o.StopTimeout = 0 }, "stop-timeout"},
		{"duplicate service", func(o *Options) { o.Services = append(o.Services, NewServiceOptions("api")) }, "services"},
		{"bad engine mode", func(o *Options) { o.Services[0].Engine.Mode = "turbo" }, "services[0].engine.mode"},
		{"unknown protocol", func(o *Options) { o.Services[0].Connectors[1].Protocol = "smtp" }, "services[0].connectors[1].protocol"},
		{"bad listen address", func(o *Options) { o.Services[0].Connectors[0].HTTP.Addr = "localhost" }, "services[0].connectors[0].http.addr"},
		{"unknown executor", func(o *Options) { o.Services[0].Connectors[0].Executor = "ghost" }, "services[0].connectors[0].executor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOptions()
			tt.mutate(o)
			require.NoError(t, o.Complete())
			err := o.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verrs *validator.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.NotEmpty(t, verrs.ForField(tt.field), err.Error())
		})
	}
}

func TestComplete(t *testing.T) {
	o := NewOptions()
	o.Shutdown = "A-VERY-LONG-SHUTDOWN-COMMAND"
	o.MaxCommandLength = 4
	o.Services = []*ServiceOptions{{
		Name:       "api",
		Executors:  []*ExecutorOptions{{Name: "workers"}},
		Connectors: []*ConnectorOptions{{Name: "web", Protocol: ProtocolHTTP}, {Name: "rpc", Protocol: ProtocolGRPC}},
	}}
	require.NoError(t, o.Complete())

	assert.NotEmpty(t, o.HomeDir)
	assert.Equal(t, o.HomeDir, o.BaseDir)
	assert.Equal(t, len(o.Shutdown), o.MaxCommandLength)

	svc := o.Services[0]
	require.NotNil(t, svc.Engine)
	assert.Equal(t, "api", svc.Engine.Name)
	assert.Equal(t, pool.DefaultConfig().Capacity, svc.Executors[0].Capacity)
	require.NotNil(t, svc.Connectors[0].HTTP)
	assert.Equal(t, 30*time.Second, svc.Connectors[0].HTTP.ReadTimeout)
	require.NotNil(t, svc.Connectors[1].GRPC)
	assert.Equal(t, 30*time.Second, svc.Connectors[1].GRPC.Timeout)
	assert.NoError(t, o.Validate())
}

func TestPortWithOffset(t *testing.T) {
	o := NewOptions()
	assert.Equal(t, DefaultPort, o.PortWithOffset())
	o.ApplyOptions(WithPortOffset(10))
	assert.Equal(t, DefaultPort+10, o.PortWithOffset())
	o.ApplyOptions(WithPort(9000), WithPortOffset(-3))
	assert.Equal(t, 9000, o.PortWithOffset())
	o.ApplyOptions(WithPort(-2), WithPortOffset(5))
	assert.Equal(t, -2, o.PortWithOffset(), "disabled port stays disabled")
}

func TestAddFlags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	o.AddFlags(fs)

	offset := fs.Lookup("server.port-offset")
	require.NotNil(t, offset)
	assert.Equal(t, "Offset added to the shutdown port.", offset.Usage)

	require.NoError(t, fs.Parse([]string{"--server.port=-2", "--server.port-offset=3"}))
	assert.Equal(t, -2, o.Port)
	assert.Equal(t, 3, o.PortOffset)
	assert.Equal(t, -2, o.PortWithOffset())
}
