// Package etcd defines the options of the etcd backed naming registry.
package etcd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
)

// redactedPassword is the placeholder used when serializing passwords.
const redactedPassword = "[REDACTED]"

// Options defines configuration options for Etcd.
type Options struct {
	// Enabled selects the etcd registry instead of the in-process one.
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	Endpoints      []string      `json:"endpoints" mapstructure:"endpoints"`
	Username       string        `json:"username" mapstructure:"username"`
	Password       string        `json:"-" mapstructure:"password"` // Excluded from JSON serialization
	DialTimeout    time.Duration `json:"dial-timeout" mapstructure:"dial-timeout"`
	RequestTimeout time.Duration `json:"request-timeout" mapstructure:"request-timeout"`
	LeaseTTL       int64         `json:"lease-ttl" mapstructure:"lease-ttl"`
	// Prefix is the key prefix registrations are written under.
	Prefix string `json:"prefix" mapstructure:"prefix"`
}

type optionsForJSON struct {
	Enabled        bool          `json:"enabled"`
	Endpoints      []string      `json:"endpoints"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	DialTimeout    time.Duration `json:"dial-timeout"`
	RequestTimeout time.Duration `json:"request-timeout"`
	LeaseTTL       int64         `json:"lease-ttl"`
	Prefix         string        `json:"prefix"`
}

// MarshalJSON implements json.Marshaler with password redaction.
func (o *Options) MarshalJSON() ([]byte, error) {
	password := redactedPassword
	if o.Password == "" {
		password = ""
	}

	return json.Marshal(optionsForJSON{
		Enabled:        o.Enabled,
		Endpoints:      o.Endpoints,
		Username:       o.Username,
		Password:       password,
		DialTimeout:    o.DialTimeout,
		RequestTimeout: o.RequestTimeout,
		LeaseTTL:       o.LeaseTTL,
		Prefix:         o.Prefix,
	})
}

// String returns a string representation with password redacted.
func (o *Options) String() string {
	password := redactedPassword
	if o.Password == "" {
		password = ""
	}
	return fmt.Sprintf("Etcd{enabled=%t, endpoints=%v, user=%s, password=%s, prefix=%s}",
		o.Enabled, o.Endpoints, o.Username, password, o.Prefix)
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Enabled:        false,
		Endpoints:      []string{"127.0.0.1:2379"},
		DialTimeout:    5 * time.Second,
		RequestTimeout: 2 * time.Second,
		LeaseTTL:       60,
		Prefix:         "/harbor/servers",
	}
}

// Complete reads the password from ETCD_PASSWORD when it is not set.
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("ETCD_PASSWORD")
	}
	return nil
}

// Validate checks the options. Nothing is checked while disabled.
func (o *Options) Validate() error {
	if !o.Enabled {
		return nil
	}
	if len(o.Endpoints) == 0 {
		return errors.New("etcd: at least one endpoint is required")
	}
	if o.DialTimeout <= 0 || o.RequestTimeout <= 0 {
		return errors.New("etcd: dial and request timeouts must be positive")
	}
	if o.LeaseTTL < 5 {
		return fmt.Errorf("etcd: lease ttl must be at least 5 seconds, got %d", o.LeaseTTL)
	}
	if o.Prefix == "" {
		return errors.New("etcd: key prefix must not be empty")
	}
	return nil
}

// AddFlags adds flags for Etcd options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Enabled, "etcd.enabled", o.Enabled, "Register the server naming token in etcd")
	fs.StringSliceVar(&o.Endpoints, "etcd.endpoints", o.Endpoints, "Etcd endpoints")
	fs.StringVar(&o.Username, "etcd.username", o.Username, "Etcd username")
	fs.StringVar(&o.Password, "etcd.password", o.Password, "Etcd password (prefer the ETCD_PASSWORD env var)")
	fs.DurationVar(&o.DialTimeout, "etcd.dial-timeout", o.DialTimeout, "Etcd dial timeout")
	fs.DurationVar(&o.RequestTimeout, "etcd.request-timeout", o.RequestTimeout, "Etcd request timeout")
	fs.Int64Var(&o.LeaseTTL, "etcd.lease-ttl", o.LeaseTTL, "Etcd lease TTL in seconds")
	fs.StringVar(&o.Prefix, "etcd.prefix", o.Prefix, "Etcd key prefix for server registrations")
}
