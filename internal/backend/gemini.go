package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/robalobadob/tictactoe/internal/agent"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini is a Backend backed by Google's Gemini API in JSON response mode.
type Gemini struct {
	client *genai.Client
	model  string
}

var _ Backend = (*Gemini)(nil)

// NewGemini creates a Gemini backend. A missing key is an ErrAuth.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is required", ErrAuth)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini:" + g.model }

func (g *Gemini) Analyze(ctx context.Context, req AnalyzeRequest) (agent.BoardAnalysis, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = AnalyzePrompt(req.State)
	}
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return agent.BoardAnalysis{}, err
	}
	return DecodeAnalysis(text, req.State)
}

func (g *Gemini) Plan(ctx context.Context, req PlanRequest) (agent.Strategy, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = PlanPrompt(req.Analysis)
	}
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return agent.Strategy{}, err
	}
	return DecodeStrategy(text)
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", classifyGenAI(err)
	}
	text := resp.Text()
	if text == "" {
		return "", malformed("empty response")
	}
	return text, nil
}

// classifyGenAI maps API status codes onto the backend error classes.
func classifyGenAI(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code = apiErrPtr.Code
	}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fmt.Errorf("GenAI generate failed: %w", err)
}
