package secrets

import (
	"context"
	"os"
	"sort"
	"strings"
)

// Source is a place secrets can be read from.
type Source interface {
	Name() string
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, name string) (string, error)
}

// EnvSource exposes an allowlist of environment variables.
type EnvSource struct {
	allow  []string
	lookup func(string) (string, bool)
}

func NewEnvSource(allow []string) *EnvSource {
	names := make([]string, 0, len(allow))
	for _, n := range allow {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return &EnvSource{allow: names, lookup: os.LookupEnv}
}

func (e *EnvSource) Name() string { return "local" }

// List returns allowlisted names that are actually set.
func (e *EnvSource) List(context.Context) ([]string, error) {
	var out []string
	for _, n := range e.allow {
		if _, ok := e.lookup(n); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (e *EnvSource) Get(_ context.Context, name string) (string, error) {
	for _, n := range e.allow {
		if strings.EqualFold(n, name) {
			if v, ok := e.lookup(n); ok {
				return v, nil
			}
			break
		}
	}
	return "", ErrNotFound
}
