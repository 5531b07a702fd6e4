// Package vision – streaming transport.
//
// The client speaks an OpenAI-compatible chat-completions protocol over SSE.
// One Stream call maps to exactly one upstream request: the returned stream
// is finite and cannot be rewound, so consuming it twice means reissuing the
// call. There is no retry logic here; failures propagate to the caller.
package vision

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GenerationParams control generation behavior for one call.
type GenerationParams struct {
	Temperature float64
	MaxTokens   int
}

// Client is a streaming client for the external vision capability.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewClient builds a Client for the given endpoint, credential, and model.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// Model returns the configured model identifier (used in transparency panels).
func (c *Client) Model() string { return c.model }

// Wire types for the OpenAI-compatible chat-completions request.

type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireMessage struct {
	Role    string     `json:"role"`
	Content []wirePart `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream issues one chat-completions call and returns the resulting text
// fragment stream. Message flattening follows the capability's single-turn
// contract: system turns are concatenated into an instruction preamble
// prepended to the first user turn's content, and assistant turns in the
// input are ignored.
func (c *Client) Stream(ctx context.Context, messages []Message, gen GenerationParams) (*Stream, error) {
	flat, err := flatten(messages)
	if err != nil {
		return nil, err
	}

	reqBody := wireRequest{
		Model:    c.model,
		Messages: []wireMessage{flat},
		Stream:   true,
	}
	// Temperature is always sent: 0 is a valid, deliberate setting and must
	// not fall back to the provider default.
	t := gen.Temperature
	reqBody.Temperature = &t
	if gen.MaxTokens != 0 {
		m := gen.MaxTokens
		reqBody.MaxTokens = &m
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("vision: marshal request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("vision: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("vision: call capability: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("vision: capability returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return &Stream{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
		cancel: cancel,
	}, nil
}

// flatten collapses role-tagged turns into the single user message the
// capability accepts. Image parts are carried as base64 data URIs.
func flatten(messages []Message) (wireMessage, error) {
	var preamble strings.Builder
	var parts []wirePart

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			for _, p := range msg.Parts {
				if t, ok := p.(TextPart); ok {
					preamble.WriteString(t.Text)
					preamble.WriteString("\n")
				}
			}
		case RoleUser:
			for _, p := range msg.Parts {
				switch part := p.(type) {
				case TextPart:
					parts = append(parts, wirePart{Type: "text", Text: part.Text})
				case ImagePart:
					parts = append(parts, wirePart{
						Type:     "image_url",
						ImageURL: &wireImageURL{URL: DataURI(part.MIME, part.Data)},
					})
				default:
					return wireMessage{}, fmt.Errorf("vision: unsupported part type %T", p)
				}
			}
		case RoleAssistant:
			// Single-turn use: assistant turns in the input are ignored.
		default:
			return wireMessage{}, fmt.Errorf("vision: unsupported role %q", msg.Role)
		}
	}

	if preamble.Len() > 0 {
		parts = append([]wirePart{{Type: "text", Text: preamble.String()}}, parts...)
	}
	return wireMessage{Role: string(RoleUser), Content: parts}, nil
}

// Stream is a finite sequence of text fragments produced by one call. It is
// not restartable: reissue the call to consume the output again.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
	done   bool
}

// Recv returns the next non-empty text fragment, or io.EOF when the stream
// has ended. A fragment whose envelope fails to decode is skipped rather
// than aborting the stream: partial stream corruption is tolerated
// best-effort, one chunk at a time.
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				s.finish()
				return "", io.EOF
			}
			s.finish()
			return "", fmt.Errorf("vision: read stream: %w", err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			s.finish()
			return "", io.EOF
		}

		var chunk wireChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip the corrupt chunk and keep consuming the stream.
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

// Text drains the stream and returns the concatenated fragments.
func (s *Stream) Text() (string, error) {
	var b strings.Builder
	for {
		frag, err := s.Recv()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		b.WriteString(frag)
	}
}

// Close cancels the underlying call and releases the connection. Safe to
// call multiple times.
func (s *Stream) Close() error {
	s.finish()
	return nil
}

func (s *Stream) finish() {
	if s.done {
		return
	}
	s.done = true
	_ = s.body.Close()
	s.cancel()
}
