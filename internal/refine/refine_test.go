package refine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/chorus/internal/gateway"
	"github.com/neboloop/chorus/internal/session"
)

var alice = session.Profile{Name: "Alice", Personality: "cheerful and optimistic"}

func countingGateway(out string, err error) (gateway.Gateway, *atomic.Int32, *[]*gateway.Request) {
	var calls atomic.Int32
	var reqs []*gateway.Request
	g := gateway.Func(func(_ context.Context, req *gateway.Request) (string, error) {
		calls.Add(1)
		reqs = append(reqs, req)
		return out, err
	})
	return g, &calls, &reqs
}

func TestRefineStructuredFirstPassMakesNoCall(t *testing.T) {
	g, calls, _ := countingGateway("", nil)

	got, ok := New(g).Refine(context.Background(), alice, "Hello", "<think>wave</think>Hi there", "gemma")
	require.True(t, ok)
	assert.Equal(t, "Hi there", got.MainContent)
	assert.Equal(t, []string{"wave"}, got.Thoughts)
	assert.Zero(t, calls.Load())
}

func TestRefineIssuesOneCorrectiveCall(t *testing.T) {
	g, calls, reqs := countingGateway("<think>retry</think>Better answer", nil)

	got, ok := New(g).Refine(context.Background(), alice, "Hello", "plain text", "gemma")
	require.True(t, ok)
	assert.Equal(t, "Better answer", got.MainContent)
	assert.EqualValues(t, 1, calls.Load())

	req := (*reqs)[0]
	assert.Equal(t, "gemma", req.Model)
	assert.InDelta(t, 0.7, req.Temperature, 1e-9)
	assert.Equal(t, 512, req.MaxTokens)
	assert.False(t, req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "You are Alice. cheerful and optimistic", req.Messages[0].Content)
	assert.Contains(t, req.Messages[1].Content, `question: "Hello"`)
	assert.Contains(t, req.Messages[1].Content, "personality of Alice.")
}

func TestRefineStillUnparseableAfterCorrection(t *testing.T) {
	g, calls, _ := countingGateway("still plain", nil)

	got, ok := New(g).Refine(context.Background(), alice, "Hello", "plain", "gemma")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRefineGatewayFailureIsUnparseable(t *testing.T) {
	g, calls, _ := countingGateway("", errors.New("backend down"))

	got, ok := New(g).Refine(context.Background(), alice, "Hello", "plain", "gemma")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.EqualValues(t, 1, calls.Load())
}
