// Package openaistream is a reference text provider adapter that speaks a
// chat-completions-style streaming wire format (SSE "data: {...}" lines,
// incremental tool_calls deltas keyed by index). Wire formats are
// illustrative, not prescriptive: the accumulation pattern for incremental
// tool_calls deltas is generalized behind the provider.TextProvider
// interface instead of being baked directly into a streaming handler.
package openaistream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/iammarcin/streamgate/internal/provider"
)

// Config configures one upstream chat-completions-compatible endpoint.
type Config struct {
	BaseURL string
	APIKey string
	Name string
	Caps provider.TextCapabilities
}

// Adapter is a provider.TextProvider backed by an HTTP SSE stream.
type Adapter struct {
	cfg Config
	client *http.Client
}

// New creates an adapter. client defaults to http.DefaultClient if nil.
func New(cfg Config, client *http.Client) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{cfg: cfg, client: client}
}

// Capabilities implements provider.TextProvider.
func (a *Adapter) Capabilities() provider.TextCapabilities {
	return a.cfg.Caps
}

type chatRequest struct {
	Model string `json:"model"`
	Stream bool `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role string `json:"role"`
	Content string `json:"content"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Reasoning string `json:"reasoning_content"`
			ToolCalls []struct {
				Index int `json:"index"`
				ID string `json:"id"`
				Function struct {
					Name string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type bufferedToolCall struct {
	id string
	name string
	arguments strings.Builder
}

// Stream implements provider.TextProvider. ctx cancellation aborts the
// HTTP request and closes both returned channels.
func (a *Adapter) Stream(ctx context.Context, prompt string, history []provider.Message, settings provider.TextSettings) (<-chan provider.TextDelta, <-chan error) {
	deltas := make(chan provider.TextDelta, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		body, err := buildRequestBody(prompt, history, settings)
		if err != nil {
			errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeInvalidRequest, err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeInvalidRequest, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

		resp, err := a.client.Do(req)
		if err != nil {
			errs <- provider.Wrap(a.cfg.Name, classifyHTTPErr(err), err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeRateLimit, fmt.Errorf("upstream status %d", resp.StatusCode))
			return
		}
		if resp.StatusCode >= 400 {
			errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeUnavailable, fmt.Errorf("upstream status %d", resp.StatusCode))
			return
		}

		toolCalls := map[int]*bufferedToolCall{}
		toolOrder := []int{}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				deltas <- provider.TextDelta{Done: true}
				return
			}

			var chunk chatChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				deltas <- provider.TextDelta{Content: choice.Delta.Content}
			}
			if choice.Delta.Reasoning != "" {
				deltas <- provider.TextDelta{ThinkingContent: choice.Delta.Reasoning}
			}

			for _, tc := range choice.Delta.ToolCalls {
				existing, ok := toolCalls[tc.Index]
				if !ok {
					existing = &bufferedToolCall{id: tc.ID, name: tc.Function.Name}
					toolCalls[tc.Index] = existing
					toolOrder = append(toolOrder, tc.Index)
				}
				if tc.Function.Arguments != "" {
					existing.arguments.WriteString(tc.Function.Arguments)
				}
			}

			if choice.FinishReason == "tool_calls" && len(toolCalls) > 0 {
				for _, idx := range toolOrder {
					tc := toolCalls[idx]
					deltas <- provider.TextDelta{
						RequiresToolAction: true,
						ToolCall: &provider.ToolCallDelta{
							Index: idx,
							ID: tc.id,
							Name: tc.name,
							Arguments: tc.arguments.String(),
						},
					}
				}
				return
			}
			if choice.FinishReason != "" {
				deltas <- provider.TextDelta{Done: true}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- provider.Wrap(a.cfg.Name, provider.ErrorCodeUnavailable, err)
		}
	}()

	return deltas, errs
}

func buildRequestBody(prompt string, history []provider.Message, settings provider.TextSettings) ([]byte, error) {
	messages := make([]chatMessage, 0, len(history)+1)
	for _, h := range history {
		messages = append(messages, chatMessage{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})
	return json.Marshal(chatRequest{Model: settings.Model, Stream: true, Messages: messages})
}

func classifyHTTPErr(err error) provider.ErrorCode {
	if err == context.DeadlineExceeded {
		return provider.ErrorCodeTimeout
	}
	return provider.ErrorCodeUnavailable
}
