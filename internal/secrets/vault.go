// Package secrets hands out stored values through single-use, short-lived
// tokens so they never travel in a reply body.
package secrets

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTokenUnknown = errors.New("secrets: unknown or already used token")
	ErrTokenExpired = errors.New("secrets: token expired")
	ErrNotFound     = errors.New("secrets: not found")
)

const DefaultTTL = 5 * time.Minute

// Token is the redeemable handle returned by Vault.Put.
type Token struct {
	ID      string    `json:"token"`
	Name    string    `json:"name"`
	Expires time.Time `json:"expires"`
}

// Secret is what a token redeems to.
type Secret struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type entry struct {
	secret  Secret
	expires time.Time
}

// Vault keeps secrets in memory, each behind one uuid token that works once.
type Vault struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

func NewVault(ttl time.Duration) *Vault {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Vault{ttl: ttl, entries: map[string]entry{}, now: time.Now}
}

func (v *Vault) TTL() time.Duration { return v.ttl }

func (v *Vault) Put(name, value string) Token {
	id := uuid.NewString()
	exp := v.now().Add(v.ttl)
	v.mu.Lock()
	v.entries[id] = entry{secret: Secret{Name: name, Value: value}, expires: exp}
	v.mu.Unlock()
	return Token{ID: id, Name: name, Expires: exp}
}

// Take redeems id. The entry is removed whether or not it has expired.
func (v *Vault) Take(id string) (Secret, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Secret{}, ErrTokenUnknown
	}
	v.mu.Lock()
	e, ok := v.entries[id]
	delete(v.entries, id)
	v.mu.Unlock()
	if !ok {
		return Secret{}, ErrTokenUnknown
	}
	if !v.now().Before(e.expires) {
		return Secret{}, ErrTokenExpired
	}
	return e.secret, nil
}

// Sweep drops expired entries and reports how many went.
func (v *Vault) Sweep() int {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for id, e := range v.entries {
		if !now.Before(e.expires) {
			delete(v.entries, id)
			n++
		}
	}
	return n
}

func (v *Vault) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// Run sweeps every interval until ctx is done.
func (v *Vault) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			v.Sweep()
		}
	}
}
