package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/tools"
)

const apiURL = "https://api.anthropic.com/v1/messages"

const defaultMaxTokens = 1024

type Client struct {
	apiKey    string
	model     string
	url       string
	maxTokens int
	client    *http.Client
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:    apiKey,
		model:     model,
		url:       apiURL,
		maxTokens: defaultMaxTokens,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

// SetBaseURL points the client at another messages endpoint.
func (c *Client) SetBaseURL(url string) {
	c.url = url
}

// APIError is a non-200 response from the messages API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("api error %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type request struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []message          `json:"messages"`
	Tools     []tools.Definition `json:"tools,omitempty"`
}

type response struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateRequest is everything the provider sees for one turn.
type GenerateRequest struct {
	Context    *dialogue.ConversationContext
	Transcript []dialogue.Message
	Tools      []tools.Definition
}

// Generate produces the next assistant turn for the conversation.
func (c *Client) Generate(ctx context.Context, gr GenerateRequest) (dialogue.Turn, error) {
	msgs := toMessages(gr.Transcript)
	if len(msgs) == 0 {
		return dialogue.Turn{}, errors.New("no visitor message to answer")
	}
	reqBody := request{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    buildSystemPrompt(gr.Context),
		Messages:  msgs,
		Tools:     gr.Tools,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return dialogue.Turn{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return dialogue.Turn{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return dialogue.Turn{}, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return dialogue.Turn{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Type != "" {
			apiErr.Type = errResp.Error.Type
			apiErr.Message = errResp.Error.Message
		}
		return dialogue.Turn{}, apiErr
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return dialogue.Turn{}, fmt.Errorf("unmarshal response: %w", err)
	}

	var (
		turn  dialogue.Turn
		texts []string
	)
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			if t := strings.TrimSpace(block.Text); t != "" {
				texts = append(texts, t)
			}
		case "tool_use":
			turn.ToolCalls = append(turn.ToolCalls, dialogue.ToolCall{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}
	turn.Text = strings.Join(texts, "\n\n")
	return turn, nil
}

// toMessages converts the transcript into alternating user/assistant
// messages that start with the visitor.
func toMessages(transcript []dialogue.Message) []message {
	var out []message
	for _, m := range transcript {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		role := string(m.Role)
		if len(out) == 0 && role != string(dialogue.RoleUser) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, contentBlock{Type: "text", Text: text})
			continue
		}
		out = append(out, message{Role: role, Content: []contentBlock{{Type: "text", Text: text}}})
	}
	return out
}
