package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOptions struct {
	Port      int    `mapstructure:"port"`
	Name      string `mapstructure:"name"`
	completed bool
}

func (o *testOptions) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.Port, "port", o.Port, "port")
	fs.StringVar(&o.Name, "name", o.Name, "name")
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() error {
	if o.Port < 0 {
		return errors.New("port must not be negative")
	}
	return nil
}

func execute(t *testing.T, a *App, args ...string) error {
	t.Helper()
	a.Command().SetArgs(args)
	return a.Command().ExecuteContext(context.Background())
}

func TestAppLoadsConfigAndFlags(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "harbortest.yaml"), []byte("port: 8005\nname: file\n"), 0o600))

	opts := &testOptions{}
	var seen *viper.Viper
	a := NewApp(
		WithName("harbortest"),
		WithNoVersion(),
		WithOptions(opts),
		WithSearchPaths(dir),
		WithRunFunc(func(_ context.Context, v *viper.Viper) error {
			seen = v
			return nil
		}),
	)

	require.NoError(t, execute(t, a, "--name=flag"))
	assert.Equal(t, 8005, opts.Port)
	assert.Equal(t, "flag", opts.Name, "flag wins over file")
	assert.True(t, opts.completed)
	require.NotNil(t, seen)
	assert.Equal(t, filepath.Join(dir, "harbortest.yaml"), seen.ConfigFileUsed())
}

func TestAppExplicitConfigAndValidation(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte("port: -2\n"), 0o600))

	ran := false
	a := NewApp(
		WithName("harbortest"),
		WithNoVersion(),
		WithOptions(&testOptions{}),
		WithSearchPaths(),
		WithRunFunc(func(context.Context, *viper.Viper) error { ran = true; return nil }),
	)
	err := execute(t, a, "--config", file)
	assert.ErrorContains(t, err, "port must not be negative")
	assert.False(t, ran)
}

func TestAppSubcommands(t *testing.T) {
	called := false
	sub := &cobra.Command{Use: "stop", RunE: func(*cobra.Command, []string) error { called = true; return nil }}
	a := NewApp(WithName("harbortest"), WithNoVersion(), WithSearchPaths(), WithCommands(sub))

	require.NoError(t, execute(t, a, "stop"))
	assert.True(t, called)
}

func TestAppEnvOverride(t *testing.T) {
	t.Setenv("HARBOR_TEST_NAME", "env")
	file := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(file, []byte("name: file\n"), 0o600))

	opts := &testOptions{}
	a := NewApp(WithName("harbor-test"), WithNoVersion(), WithOptions(opts), WithSearchPaths())
	require.NoError(t, execute(t, a, "-c", file))
	assert.Equal(t, "env", opts.Name)
}
