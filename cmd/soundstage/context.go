package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"soundstage/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiBase() (string, error) {
	if c.apiFlag != nil {
		if base := strings.TrimSpace(*c.apiFlag); base != "" {
			return strings.TrimRight(base, "/"), nil
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Paths.APIBind, nil
}

func (c *commandContext) apiClient() (*apiClient, error) {
	base, err := c.apiBase()
	if err != nil {
		return nil, err
	}
	return &apiClient{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// apiClient is a thin HTTP wrapper around the daemon API.
type apiClient struct {
	base string
	http *http.Client
}

func (a *apiClient) getJSON(path string, out any) error {
	resp, err := a.http.Get(a.base + path)
	if err != nil {
		return wrapDialError(err, a.base)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (a *apiClient) postJSON(path string, out any) error {
	resp, err := a.http.Post(a.base+path, "application/json", nil)
	if err != nil {
		return wrapDialError(err, a.base)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (a *apiClient) submit(path string, language string, out any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("read input file: %w", err)
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return fmt.Errorf("build upload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("build upload: %w", err)
	}

	resp, err := a.http.Post(a.base+"/jobs", writer.FormDataContentType(), body)
	if err != nil {
		return wrapDialError(err, a.base)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func wrapDialError(err error, base string) error {
	return fmt.Errorf("connect to daemon at %s: %w; start it with `soundstage serve`", base, err)
}
