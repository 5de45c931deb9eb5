package aiscorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/MikeSquared-Agency/Ecolojia/internal/ecoscore"
)

// ErrSuggestions wraps every failure of SuggestSimilar.
var ErrSuggestions = errors.New("similar suggestions failed")

// Config holds the settings of an OpenAI-compatible chat endpoint
// (OpenAI, DeepSeek, ...).
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client scores products and suggests alternatives through a chat
// completion model. It implements ecoscore.RemoteScorer.
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger,
	}
}

const scoreSystemPrompt = `Tu évalues l'impact environnemental de produits de consommation.
Réponds uniquement en JSON: {"eco_score": <0..1>, "ai_confidence": <0..1>}.
eco_score: 0 = très polluant, 1 = exemplaire. ai_confidence: ta certitude.`

type scoreResponse struct {
	EcoScore     *float64 `json:"eco_score"`
	AIConfidence *float64 `json:"ai_confidence"`
}

// Score asks the model for an eco score. Every failure is wrapped in
// ecoscore.ErrRemoteScorer.
func (c *Client) Score(ctx context.Context, s ecoscore.ProductSignal) (ecoscore.RemoteScore, error) {
	content, err := c.complete(ctx, scoreSystemPrompt, describe(s))
	if err != nil {
		return ecoscore.RemoteScore{}, fmt.Errorf("%w: %w", ecoscore.ErrRemoteScorer, err)
	}

	var resp scoreResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return ecoscore.RemoteScore{}, fmt.Errorf("%w: malformed response: %w", ecoscore.ErrRemoteScorer, err)
	}
	if resp.EcoScore == nil || resp.AIConfidence == nil {
		return ecoscore.RemoteScore{}, fmt.Errorf("%w: missing fields in %q", ecoscore.ErrRemoteScorer, content)
	}
	if !inUnitRange(*resp.EcoScore) || !inUnitRange(*resp.AIConfidence) {
		return ecoscore.RemoteScore{}, fmt.Errorf("%w: values out of range: eco_score=%v ai_confidence=%v",
			ecoscore.ErrRemoteScorer, *resp.EcoScore, *resp.AIConfidence)
	}
	return ecoscore.RemoteScore{EcoScore: *resp.EcoScore, AIConfidence: *resp.AIConfidence}, nil
}

// Suggestion is a model-generated eco-friendly alternative.
type Suggestion struct {
	Title       string  `json:"title"`
	Brand       string  `json:"brand"`
	Description string  `json:"description"`
	EcoScore    float64 `json:"eco_score"`
}

const similarSystemPrompt = `Tu proposes des alternatives écoresponsables à un produit.
Réponds uniquement en JSON: {"suggestions": [{"title": "...", "brand": "...", "description": "...", "eco_score": 0.75}]}.
Noms et marques réalistes, description écologique de 50 mots maximum, eco_score entre 0.6 et 0.9.`

// SuggestSimilar asks the model for up to n alternatives to s.
func (c *Client) SuggestSimilar(ctx context.Context, s ecoscore.ProductSignal, n int) ([]Suggestion, error) {
	if n <= 0 {
		return nil, nil
	}
	user := fmt.Sprintf("%s\nGénère %d suggestions.", describe(s), n)
	content, err := c.complete(ctx, similarSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSuggestions, err)
	}

	var resp struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %w", ErrSuggestions, err)
	}

	out := make([]Suggestion, 0, n)
	for _, sg := range resp.Suggestions {
		if strings.TrimSpace(sg.Title) == "" {
			c.logger.Debug("dropping untitled suggestion", "product", s.Title)
			continue
		}
		if !inUnitRange(sg.EcoScore) || sg.EcoScore == 0 {
			sg.EcoScore = 0.6
		}
		out = append(out, sg)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", parseAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	return stripFences(resp.Choices[0].Message.Content), nil
}

func describe(s ecoscore.ProductSignal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Produit: %s\n", s.Title)
	if s.Brand != "" {
		fmt.Fprintf(&b, "Marque: %s\n", s.Brand)
	}
	if s.Category != "" {
		fmt.Fprintf(&b, "Catégorie: %s\n", s.Category)
	}
	fmt.Fprintf(&b, "Description: %s\n", s.Description)
	if len(s.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(s.Tags, ", "))
	}
	return b.String()
}

// stripFences removes a ```json ... ``` wrapper some models add despite the
// response format.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("chat API error %d: %s", reqErr.HTTPStatusCode, string(reqErr.Body))
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("chat API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Errorf("chat request failed: %w", err)
}
