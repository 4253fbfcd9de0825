package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/clearbill/claims-intake/internal/core/domain"
	"github.com/clearbill/claims-intake/internal/infrastructure/resilience"
)

// Client talks to the Gemini generateContent REST API and implements the
// field-extraction port. The model is untrusted: its output may wrap the
// JSON payload in prose, so the response parser locates the embedded object
// instead of decoding the whole body.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, apiKey, model string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (c *Client) Extract(ctx context.Context, text string) (domain.FieldExtraction, error) {
	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: buildExtractionPrompt(text)}}}},
	}

	var response generateResponse
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, c.generatePath(), reqBody, &response, "generate")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "gemini.generate", call, classifyGeminiError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.FieldExtraction{}, wrapTemporaryIfNeeded("gemini generate", err)
	}

	raw := firstCandidateText(response)
	if strings.TrimSpace(raw) == "" {
		return domain.FieldExtraction{}, domain.WrapError(domain.ErrExtractionInvalid, "gemini generate",
			errors.New("empty model response"))
	}

	payload := extractJSONObject(raw)
	if payload == "" || !json.Valid([]byte(payload)) {
		return domain.FieldExtraction{}, domain.WrapError(domain.ErrExtractionInvalid, "gemini generate",
			errors.New("no JSON object in model response"))
	}

	return domain.FieldExtraction{
		Payload:     json.RawMessage(payload),
		RawResponse: raw,
	}, nil
}

func (c *Client) generatePath() string {
	return "/v1beta/models/" + c.model + ":generateContent"
}

func firstCandidateText(resp generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}

// extractJSONObject returns the outermost {...} span, tolerating prose or
// markdown fences around it.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return ""
}
