// Package config loads the harbor configuration with viper and notifies
// subscribers when the configuration file changes.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Load reads file into a new viper instance, overlays environment variables
// named prefix_SECTION_KEY and the changed flags of fs, and unmarshals the
// result into target. An empty file skips the file layer. ${VAR} references
// in string values are expanded.
func Load(file, prefix string, fs *pflag.FlagSet, target interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	if err := v.Unmarshal(target, DecodeOption()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return v, nil
}
