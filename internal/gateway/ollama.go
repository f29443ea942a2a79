package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama talks to a local Ollama daemon.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama creates an Ollama gateway.
func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		parsedURL, _ = url.Parse(defaultOllamaURL)
	}

	httpClient := &http.Client{
		Timeout: 5 * time.Minute, // local inference is slow
	}

	return &Ollama{
		client: api.NewClient(parsedURL, httpClient),
		model:  model,
	}
}

func (g *Ollama) Generate(ctx context.Context, req *Request) (string, error) {
	model, err := ResolveModel(req.Model, g.model)
	if err != nil {
		return "", err
	}

	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := req.Stream
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  make(map[string]any),
	}
	if req.Temperature > 0 {
		chatReq.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxTokens
	}

	var out strings.Builder
	err = g.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", &Error{Provider: "ollama", Model: model, Err: err}
	}
	return out.String(), nil
}
