// Package llm wraps the OpenAI-compatible chat completion API used for
// price estimation and negotiation dialogue. Every caller treats the model
// as an unreliable oracle: responses are parsed defensively and all callers
// carry an algorithmic fallback.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultMaxTokens caps completions; negotiation replies are short JSON.
const DefaultMaxTokens = 100

// ErrEmptyResponse is returned when the API yields no choices.
var ErrEmptyResponse = errors.New("llm returned no choices")

// Request is a single chat completion exchange.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int

	// ForceJSON asks the API for a JSON-object response format.
	ForceJSON bool
}

// Completer issues chat completions. Implemented by Client and by test
// fakes.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config parameterizes a Client.
type Config struct {
	Model string

	// BaseURL points at an OpenAI-compatible endpoint. Optional.
	BaseURL string

	// APIKeyEnv names the environment variable holding the key.
	// Defaults to OPENAI_API_KEY.
	APIKeyEnv string

	Logger *zap.Logger
}

// Client is a lazily constructed, stateless chat client. Safe for
// concurrent use.
type Client struct {
	cfg Config
	log *zap.Logger

	once sync.Once
	api  *openai.Client
}

// NewClient builds a client for the configured model.
func NewClient(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, log: log.Named("llm")}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

func (c *Client) client() *openai.Client {
	c.once.Do(func() {
		keyEnv := c.cfg.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "OPENAI_API_KEY"
		}
		conf := openai.DefaultConfig(os.Getenv(keyEnv))
		if c.cfg.BaseURL != "" {
			conf.BaseURL = c.cfg.BaseURL
		}
		c.api = openai.NewClientWithConfig(conf)
	})
	return c.api
}

// Complete performs one chat completion and returns the raw text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	}
	if req.ForceJSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client().CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
