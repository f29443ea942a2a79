// Package gateway issues single text-generation calls against a language
// model backend. A Gateway performs exactly one round trip per call, never
// retries, and keeps no state between calls.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neboloop/chorus/internal/config"
)

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNoModel is returned when a request reaches a backend without a model id.
var ErrNoModel = errors.New("gateway: no model id")

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single generation call.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Stream      bool
	Model       string
}

// Gateway generates text for a request. The returned string is the complete
// output (streamed output is accumulated before returning).
type Gateway interface {
	Generate(ctx context.Context, req *Request) (string, error)
}

// Func adapts a plain function to Gateway.
type Func func(ctx context.Context, req *Request) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req *Request) (string, error) {
	return f(ctx, req)
}

// Error wraps a backend failure with the provider and model that produced it.
type Error struct {
	Provider string
	Model    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Provider, e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ResolveModel returns override when set, otherwise fallback.
func ResolveModel(override, fallback string) (string, error) {
	if m := strings.TrimSpace(override); m != "" {
		return m, nil
	}
	if m := strings.TrimSpace(fallback); m != "" {
		return m, nil
	}
	return "", ErrNoModel
}

// New builds the backend named by cfg.Provider.
func New(ctx context.Context, cfg config.ModelConfig) (Gateway, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Default), nil
	case config.ProviderOllama:
		return NewOllama(cfg.BaseURL, cfg.Default), nil
	case config.ProviderAnthropic:
		return NewAnthropic(cfg.APIKey, cfg.Default), nil
	case config.ProviderGemini:
		return NewGemini(ctx, cfg.APIKey, cfg.Default)
	default:
		return nil, fmt.Errorf("gateway: unknown provider %q", cfg.Provider)
	}
}

// splitSystem separates system turns (joined by blank lines) from the rest.
// Backends that carry the system prompt out of band use it.
func splitSystem(msgs []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
