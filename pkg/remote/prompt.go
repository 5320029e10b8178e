package remote

import (
	"context"
	"strings"
)

type PromptKind int

const (
	PromptPassword PromptKind = iota
	PromptSecret
	PromptHostKey
)

// Prompt is one interactive question raised during authentication.
type Prompt struct {
	Kind    PromptKind
	Message string
	Echo    bool
}

// PromptSink answers prompts for a connection attempt. Prompts are raised one at a time and
// the attempt blocks until Prompt returns. Returning an error aborts the attempt.
type PromptSink interface {
	Prompt(ctx context.Context, p Prompt) (string, error)
}

// PromptFunc adapts a function to PromptSink.
type PromptFunc func(ctx context.Context, p Prompt) (string, error)

func (f PromptFunc) Prompt(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

// IsAffirmative reports whether a host-key answer accepts the key.
func IsAffirmative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y":
		return true
	}
	return false
}
