package whisperx

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"soundstage/internal/config"
	"soundstage/internal/services"
	"soundstage/internal/stage"
)

const defaultHTTPTimeout = 10 * time.Minute

// HTTPClient calls a hosted WhisperX transcription endpoint.
type HTTPClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	retry      services.RetryPolicy
}

// NewHTTPClient builds a client from the transcription config section.
func NewHTTPClient(cfg config.Transcription) *HTTPClient {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		retry:      services.DefaultRetryPolicy(),
	}
}

type transcribeRequest struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
	Audio    string `json:"audio_b64"`
}

type transcribeResponse struct {
	Language string          `json:"language"`
	Text     string          `json:"text"`
	Segments []stage.Segment `json:"segments"`
	Words    []stage.Word    `json:"words"`
}

func (c *HTTPClient) Transcribe(ctx context.Context, vocalPath, _, language string) (*stage.TranscriptionPayload, []stage.RawArtifact, error) {
	audio, err := os.ReadFile(vocalPath)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrStorage, string(stage.Transcription), "transcribe", "read vocal stem", err)
	}

	body, err := json.Marshal(transcribeRequest{
		Model:    c.model,
		Language: language,
		Audio:    base64.StdEncoding.EncodeToString(audio),
	})
	if err != nil {
		return nil, nil, services.Wrap(services.ErrExternalService, string(stage.Transcription), "transcribe", "encode request", err)
	}

	var (
		decoded transcribeResponse
		rawBody []byte
	)
	err = c.retry.Do(ctx, "whisperx transcribe", func() error {
		var postErr error
		rawBody, postErr = c.postJSON(ctx, c.baseURL+"/v1/transcribe", body, &decoded)
		return postErr
	})
	if err != nil {
		return nil, nil, err
	}

	resolved := strings.TrimSpace(decoded.Language)
	if resolved == "" {
		resolved = language
	}
	if resolved == "" {
		resolved = "unknown"
	}
	payload := &stage.TranscriptionPayload{
		Provider: "whisperx",
		Model:    c.model,
		Language: resolved,
		Text:     decoded.Text,
		Segments: decoded.Segments,
		Words:    decoded.Words,
	}
	raw := []stage.RawArtifact{{Name: "transcription_raw.json", Data: rawBody}}
	return payload, raw, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return services.Wrap(services.ErrExternalService, string(stage.Transcription), "ping", "new request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalService, string(stage.Transcription), "ping", "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return services.Wrap(services.ErrExternalService, string(stage.Transcription), "ping", resp.Status, nil)
	}
	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, endpoint string, body []byte, out any) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, string(stage.Transcription), "transcribe", "new request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrTimeout, string(stage.Transcription), "transcribe", "request aborted", err)
		}
		return nil, services.Wrap(services.ErrTransient, string(stage.Transcription), "transcribe", "http error", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, string(stage.Transcription), "transcribe", "read response", err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout:
		return nil, services.Wrap(services.ErrTransient, string(stage.Transcription), "transcribe", resp.Status, nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, services.Wrap(services.ErrExternalService, string(stage.Transcription), "transcribe", resp.Status+": "+strings.TrimSpace(string(payload)), nil)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return nil, services.Wrap(services.ErrExternalService, string(stage.Transcription), "transcribe", "decode response", err)
	}
	return payload, nil
}
