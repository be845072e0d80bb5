package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"squire/internal/classify"
	logx "squire/pkg/logx"
)

// Service answers "list secrets" and "get secret NAME" phrases.
type Service struct {
	vault   *Vault
	sources map[string]Source
	log     logx.Logger
}

func NewService(vault *Vault, log logx.Logger, sources ...Source) *Service {
	m := make(map[string]Source, len(sources))
	for _, s := range sources {
		if s != nil {
			m[s.Name()] = s
		}
	}
	return &Service{vault: vault, sources: m, log: log}
}

func (s *Service) Vault() *Vault { return s.vault }

// Handle serves one secret phrase. text is the normalized command, raw keeps
// the original spelling of the name (underscores, case).
func (s *Service) Handle(ctx context.Context, text, raw string) (string, error) {
	words := strings.Fields(strings.ToLower(text))
	srcName := "local"
	for _, w := range words {
		if w == "aws" || w == "ssm" {
			srcName = w
			break
		}
	}
	src, ok := s.sources[srcName]
	if !ok {
		return fmt.Sprintf("The %s secret source is not configured.", srcName), nil
	}

	switch {
	case contains(words, "list"):
		names, err := src.List(ctx)
		if err != nil {
			s.log.Warn("secret listing failed", logx.String("source", srcName), logx.Err(err))
			return "", err
		}
		if len(names) == 0 {
			return fmt.Sprintf("There are no %s secrets.", srcName), nil
		}
		return fmt.Sprintf("Available %s secrets:\n%s", srcName, strings.Join(names, "\n")), nil

	case contains(words, "get"):
		name := SecretName(raw)
		if name == "" {
			return "Which secret should I get?", nil
		}
		value, err := src.Get(ctx, name)
		if errors.Is(err, ErrNotFound) {
			return fmt.Sprintf("I couldn't find a %s secret named '%s'.", srcName, name), nil
		}
		if err != nil {
			s.log.Warn("secret fetch failed", logx.String("source", srcName), logx.String("name", name), logx.Err(err))
			return "", err
		}
		tok := s.vault.Put(name, value)
		s.log.Info("secret token issued", logx.String("source", srcName), logx.String("name", name))
		return fmt.Sprintf("Secret '%s' is ready. Use token %s within %s.",
			name, tok.ID, classify.HumanizeDuration(s.vault.TTL())), nil
	}
	return "Say list or get with your secret request.", nil
}

// SecretName is the word that follows "secret", "secrets", "key" or
// "parameter" in raw, stripped of surrounding punctuation.
func SecretName(raw string) string {
	fields := strings.Fields(raw)
	for i := 0; i < len(fields)-1; i++ {
		switch strings.ToLower(strings.Trim(fields[i], ".,!?;:'\"")) {
		case "secret", "secrets", "key", "parameter":
			name := strings.Trim(fields[i+1], ".,!?;:'\"")
			switch strings.ToLower(name) {
			case "", "from", "in", "named", "called":
				if i+2 < len(fields) && name != "" {
					return strings.Trim(fields[i+2], ".,!?;:'\"")
				}
				continue
			}
			return name
		}
	}
	return ""
}

func contains(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}
