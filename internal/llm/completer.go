// Package llm adapts eino chat models to the single-prompt completion calls
// made by the classifier, hint extractor and reranker, and decodes the JSON
// those prompts ask for.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("llm: empty response")

// Completer sends one prompt and returns the model's raw text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// TimedCompleter is implemented by completers that may hold a call before
// sending it. The timeout covers the model call only, not the wait.
type TimedCompleter interface {
	CompleteWithin(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// CompleteWithin calls c with a timeout. For a TimedCompleter the clock
// starts when the call is sent; otherwise it starts now. A non-positive
// timeout leaves ctx unchanged.
func CompleteWithin(ctx context.Context, c Completer, prompt string, timeout time.Duration) (string, error) {
	if tc, ok := c.(TimedCompleter); ok {
		return tc.CompleteWithin(ctx, prompt, timeout)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Complete(ctx, prompt)
}

// CompleterFunc adapts a plain function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ChatCompleter implements Completer over an eino chat model.
type ChatCompleter struct {
	// model is the backend constructed by the provider factory.
	model model.BaseChatModel
	// system is an optional system prompt sent ahead of every user prompt.
	system string
}

// NewChatCompleter wraps m. system may be empty.
func NewChatCompleter(m model.BaseChatModel, system string) (*ChatCompleter, error) {
	if m == nil {
		return nil, fmt.Errorf("llm: chat model must not be nil")
	}
	return &ChatCompleter{model: m, system: system}, nil
}

// Complete sends prompt as a single user turn and returns the reply content.
func (c *ChatCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	msgs := make([]*schema.Message, 0, 2)
	if c.system != "" {
		msgs = append(msgs, schema.SystemMessage(c.system))
	}
	msgs = append(msgs, schema.UserMessage(prompt))

	resp, err := c.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("llm: generate failed: %w", err)
	}
	if resp == nil || resp.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Content, nil
}
