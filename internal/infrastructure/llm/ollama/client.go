package ollama

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/llm"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func New(baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Generator implements ports.TextGenerator over the /api/generate endpoint.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

type generateRequest struct {
	Model   string           `json:"model"`
	Prompt  string           `json:"prompt"`
	Stream  bool             `json:"stream"`
	Format  string           `json:"format,omitempty"`
	Options *generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response   string `json:"response"`
	DoneReason string `json:"done_reason"`
}

// Generate sends one non-streaming prompt. JSON requests run at temperature
// zero. A response cut off by the model's length limit is temporary.
func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "ollama generate", errors.New("prompt is empty"))
	}
	body := generateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
	}
	if body.Model == "" {
		body.Model = g.client.model
	}
	if req.JSON {
		body.Format = "json"
		body.Options = &generateOptions{Temperature: 0}
	}

	var resp generateResponse
	if err := g.client.postJSON(ctx, "/api/generate", body, &resp); err != nil {
		return "", llm.WrapStatus("ollama generate", statusCodeOf(err), err)
	}
	if resp.DoneReason == "length" {
		return "", domain.WrapError(domain.ErrTemporary, "ollama generate", errors.New("response truncated at the model's length limit"))
	}
	return strings.TrimSpace(resp.Response), nil
}
