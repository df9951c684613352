package demucs

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

// HTTPClient calls a hosted Demucs separation endpoint.
type HTTPClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	retry      services.RetryPolicy
}

// NewHTTPClient builds a client from the separation config section.
func NewHTTPClient(cfg config.Separation) *HTTPClient {
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

type separateRequest struct {
	Model string `json:"model"`
	Audio string `json:"audio_b64"`
}

type separateResponse struct {
	Stems []struct {
		Name  string `json:"name"`
		Audio string `json:"audio_b64"`
	} `json:"stems"`
}

func (c *HTTPClient) Separate(ctx context.Context, audioPath, _ string) (*stage.SeparationPayload, []stage.RawArtifact, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrStorage, string(stage.Separation), "separate", "read input", err)
	}

	body, err := json.Marshal(separateRequest{
		Model: c.model,
		Audio: base64.StdEncoding.EncodeToString(audio),
	})
	if err != nil {
		return nil, nil, services.Wrap(services.ErrExternalService, string(stage.Separation), "separate", "encode request", err)
	}

	var decoded separateResponse
	err = c.retry.Do(ctx, "demucs separate", func() error {
		return c.postJSON(ctx, c.baseURL+"/v1/separate", body, &decoded)
	})
	if err != nil {
		return nil, nil, err
	}
	if len(decoded.Stems) == 0 {
		return nil, nil, services.Wrap(services.ErrExternalService, string(stage.Separation), "separate", "response carried no stems", nil)
	}

	payload := &stage.SeparationPayload{
		Provider: "demucs",
		Model:    c.model,
		Stems:    make([]stage.Stem, 0, len(decoded.Stems)),
	}
	raw := make([]stage.RawArtifact, 0, len(decoded.Stems))
	for _, stem := range decoded.Stems {
		name := strings.TrimSpace(stem.Name)
		if name == "" {
			continue
		}
		entry := stage.Stem{Name: name}
		if stem.Audio != "" {
			data, err := base64.StdEncoding.DecodeString(stem.Audio)
			if err != nil {
				return nil, nil, services.Wrap(services.ErrExternalService, string(stage.Separation), "separate", "decode stem "+name, err)
			}
			entry.Artifact = name + ".wav"
			raw = append(raw, stage.RawArtifact{Name: entry.Artifact, Data: data})
		}
		payload.Stems = append(payload.Stems, entry)
	}
	return payload, raw, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return services.Wrap(services.ErrExternalService, string(stage.Separation), "ping", "new request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalService, string(stage.Separation), "ping", "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return services.Wrap(services.ErrExternalService, string(stage.Separation), "ping", resp.Status, nil)
	}
	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, endpoint string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return services.Wrap(services.ErrExternalService, string(stage.Separation), "separate", "new request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrTimeout, string(stage.Separation), "separate", "request aborted", err)
		}
		return services.Wrap(services.ErrTransient, string(stage.Separation), "separate", "http error", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrTransient, string(stage.Separation), "separate", "read response", err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout:
		return services.Wrap(services.ErrTransient, string(stage.Separation), "separate", resp.Status, nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return services.Wrap(services.ErrExternalService, string(stage.Separation), "separate", resp.Status+": "+strings.TrimSpace(string(payload)), nil)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return services.Wrap(services.ErrExternalService, string(stage.Separation), "separate", "decode response", err)
	}
	return nil
}
