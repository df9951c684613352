package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"soundstage/internal/config"
	"soundstage/internal/services"
	"soundstage/internal/stage"
)

const defaultHTTPTimeout = 60 * time.Second

// Client calls the Gemini generateContent API for one chunk of words at a
// time, asking for JSON-only output.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	retry      services.RetryPolicy
}

// NewClient builds a client from the position config section.
func NewClient(cfg config.Position) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		retry:      services.DefaultRetryPolicy(),
	}
}

type promptWord struct {
	Index int     `json:"index"`
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score,omitempty"`
}

type promptDocument struct {
	Task         string       `json:"task"`
	Rules        []string     `json:"rules"`
	Language     string       `json:"language,omitempty"`
	InputWords   []promptWord `json:"input_words"`
	OutputSchema any          `json:"output_schema"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type positionRow struct {
	Index      int     `json:"index"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Confidence float64 `json:"confidence"`
}

type positionDocument struct {
	Positions []positionRow `json:"positions"`
}

// PredictChunk asks the model for one position per word. Words the model
// skips are filled with the deterministic layout so every input index has an
// output.
func (c *Client) PredictChunk(ctx context.Context, words []stage.Word, baseIndex int, language string) ([]stage.WordPosition, error) {
	if c.apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, string(stage.Position), "predict", "gemini api key not configured", nil)
	}

	prompt, err := buildPrompt(words, baseIndex, language)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:      0.2,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, string(stage.Position), "predict", "encode request", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))

	var text string
	err = c.retry.Do(ctx, "gemini predict", func() error {
		var reqErr error
		text, reqErr = c.generateOnce(ctx, endpoint, body)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	var parsed positionDocument
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &parsed); err != nil {
		return nil, services.Wrap(services.ErrExternalService, string(stage.Position), "predict", "parse model output", err)
	}
	if len(parsed.Positions) == 0 {
		return nil, services.Wrap(services.ErrExternalService, string(stage.Position), "predict", "response missing positions list", nil)
	}

	byIndex := make(map[int]positionRow, len(parsed.Positions))
	for _, row := range parsed.Positions {
		byIndex[row.Index] = row
	}

	merged := make([]stage.WordPosition, 0, len(words))
	for i, word := range words {
		idx := baseIndex + i
		if row, ok := byIndex[idx]; ok {
			merged = append(merged, stage.WordPosition{
				Index: idx,
				Word:  word.Word,
				Start: word.Start,
				End:   word.End,
				Score: word.Score,
				Position: stage.Vec3{
					X: round4(clamp(row.X, -1, 1)),
					Y: round4(clamp(row.Y, -1, 1)),
					Z: round4(clamp(row.Z, -1, 1)),
				},
				Confidence: round4(clamp(row.Confidence, 0, 1)),
				Method:     "gemini",
			})
			continue
		}
		// Model skipped this index; fill it deterministically.
		merged = append(merged, DeterministicPositions(words[i:i+1], idx)[0])
	}
	return merged, nil
}

func buildPrompt(words []stage.Word, baseIndex int, language string) (string, error) {
	compact := make([]promptWord, 0, len(words))
	for i, word := range words {
		compact = append(compact, promptWord{
			Index: baseIndex + i,
			Word:  word.Word,
			Start: word.Start,
			End:   word.End,
			Score: word.Score,
		})
	}
	doc := promptDocument{
		Task: "Predict 3D spatial position per lyric word for immersive audio.",
		Rules: []string{
			"Return valid JSON only.",
			"Include one output object for every input index.",
			"x,y,z must be floats in range [-1,1].",
			"confidence must be float in [0,1].",
			"Preserve the same index values.",
		},
		Language:   language,
		InputWords: compact,
		OutputSchema: positionDocument{
			Positions: []positionRow{{Index: 0, X: 0, Y: 0, Z: 0, Confidence: 0.8}},
		},
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, string(stage.Position), "predict", "encode prompt", err)
	}
	return string(encoded), nil
}

func (c *Client) generateOnce(ctx context.Context, endpoint string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, string(stage.Position), "predict", "new request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", services.Wrap(services.ErrTimeout, string(stage.Position), "predict", "request aborted", err)
		}
		return "", services.Wrap(services.ErrTransient, string(stage.Position), "predict", "http error", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, string(stage.Position), "predict", "read response", err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout:
		return "", services.Wrap(services.ErrTransient, string(stage.Position), "predict", resp.Status, nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return "", services.Wrap(services.ErrExternalService, string(stage.Position), "predict", resp.Status+": "+strings.TrimSpace(string(payload)), nil)
	}

	var decoded generateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", services.Wrap(services.ErrExternalService, string(stage.Position), "predict", "decode response", err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", services.Wrap(services.ErrExternalService, string(stage.Position), "predict", "empty candidates", nil)
	}
	text := strings.TrimSpace(decoded.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", services.Wrap(services.ErrExternalService, string(stage.Position), "predict", "empty content", nil)
	}
	return text, nil
}

var (
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z0-9_\\-]*\n")
	fenceClose = regexp.MustCompile("\n```$")
)

func stripCodeFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = fenceOpen.ReplaceAllString(cleaned, "")
		cleaned = fenceClose.ReplaceAllString(cleaned, "")
	}
	return strings.TrimSpace(cleaned)
}
