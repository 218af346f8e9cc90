package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmorgan81/genrelay/internal/config"
	"github.com/dmorgan81/genrelay/internal/log"
	"github.com/samber/do"
)

type inferenceRequest struct {
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
}

type inferenceParameters struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type HuggingFaceGenerator struct {
	Client   *http.Client
	BaseURL  string
	Key      string
	Provider string
}

func NewHuggingFaceGenerator(i *do.Injector) (Generator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &HuggingFaceGenerator{
		Client:   do.MustInvoke[*http.Client](i),
		BaseURL:  cfg.BaseURL,
		Key:      cfg.APIKey,
		Provider: cfg.Provider,
	}, nil
}

func (g *HuggingFaceGenerator) Generate(ctx context.Context, params Params) (*http.Response, error) {
	url := g.BaseURL + "/models/" + strings.TrimLeft(params.Model, "/")
	log := log.FromContextOrDiscard(ctx).WithGroup("huggingface").With("url", url)
	log.Info("requesting image", "width", params.Width, "height", params.Height)

	body, err := json.Marshal(inferenceRequest{
		Inputs:     params.Prompt,
		Parameters: inferenceParameters{Width: params.Width, Height: params.Height},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+g.Key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png, application/json")
	if g.Provider != "" {
		req.Header.Set("X-HF-Provider", g.Provider)
	}

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	log.Info("received response", "status", resp.StatusCode, "content-type", resp.Header.Get("Content-Type"))
	return resp, nil
}
