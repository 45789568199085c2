// Package naming holds the server's naming identity and its global naming
// resources, plus the registry facade the identity is published to.
package naming

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kart-io/harbor/pkg/infra/lifecycle"
)

// Token is the opaque identity of one server instance.
type Token string

var (
	entropyMu sync.Mutex
	// 单调熵源，同一毫秒内生成的 token 仍然有序
	entropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewToken returns a fresh, time ordered token.
func NewToken() Token {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return Token(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}

// Time returns the creation time encoded in the token.
func (t Token) Time() (time.Time, error) {
	id, err := ulid.ParseStrict(string(t))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse naming token: %w", err)
	}
	return ulid.Time(id.Time()), nil
}

func (t Token) String() string {
	return string(t)
}

// Handle identifies a registration made with a Registry.
type Handle struct {
	Token Token
	// Key is the registry specific location of the registration.
	Key string
	// Lease is an optional registry specific lease id.
	Lease int64
}

// Registry publishes server tokens. Implementations must be safe for
// concurrent use.
type Registry interface {
	Register(ctx context.Context, token Token) (Handle, error)
	Unregister(ctx context.Context, h Handle) error
}

// MemoryRegistry keeps registrations in process.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[Token]Handle
}

// NewMemoryRegistry creates an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[Token]Handle)}
}

// Register implements Registry. Registering the same token twice returns
// lifecycle.ErrDuplicateName.
func (r *MemoryRegistry) Register(_ context.Context, token Token) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[token]; ok {
		return Handle{}, fmt.Errorf("%w: naming token %s", lifecycle.ErrDuplicateName, token)
	}
	h := Handle{Token: token, Key: "memory/" + string(token)}
	r.entries[token] = h
	return h, nil
}

// Unregister implements Registry. Unknown handles are ignored.
func (r *MemoryRegistry) Unregister(_ context.Context, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, h.Token)
	return nil
}

// Registered reports whether token is currently registered.
func (r *MemoryRegistry) Registered(token Token) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[token]
	return ok
}
