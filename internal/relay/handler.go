package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmorgan81/genrelay/internal/config"
	"github.com/dmorgan81/genrelay/internal/image"
	"github.com/dmorgan81/genrelay/internal/log"
	"github.com/gin-gonic/gin"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const DefaultSize = 512

// Request is the body accepted by the generate route.
type Request struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt" binding:"required"`
	Width  int    `json:"width,omitempty" binding:"gte=0"`
	Height int    `json:"height,omitempty" binding:"gte=0"`
}

func (r Request) toImageParams() image.Params {
	return image.Params{
		Model:  r.Model,
		Prompt: r.Prompt,
		Width:  r.Width,
		Height: r.Height,
	}
}

type Handler struct {
	generator    image.Generator
	defaultModel string
	timeout      time.Duration
}

func NewHandler(i *do.Injector) (*Handler, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &Handler{
		generator:    do.MustInvoke[image.Generator](i),
		defaultModel: cfg.DefaultModel,
		timeout:      cfg.RequestTimeout,
	}, nil
}

func (h *Handler) withDefaults(req Request) Request {
	req.Model = lo.Ternary(strings.TrimSpace(req.Model) != "", req.Model, h.defaultModel)
	req.Width = lo.Ternary(req.Width > 0, req.Width, DefaultSize)
	req.Height = lo.Ternary(req.Height > 0, req.Height, DefaultSize)
	return req
}

// Generate relays one generation request upstream. Upstream failures keep
// their status code; transport failures become 500.
func (h *Handler) Generate(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req = h.withDefaults(req)

	ctx := c.Request.Context()
	log := log.FromContextOrDiscard(ctx).WithGroup("relay").With("model", req.Model, "width", req.Width, "height", req.Height)
	log.Info("relaying generation request")

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	status, contentType, body, err := h.relay(ctx, req)
	if err != nil {
		log.Error("generation error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch {
	case status < 200 || status > 299:
		log.Warn("upstream rejected request", "status", status)
		c.JSON(errorStatus(status), gin.H{"error": string(body)})
	case strings.Contains(contentType, "image"):
		log.Info("relaying image", "bytes", len(body))
		c.Data(http.StatusOK, "image/png", body)
	default:
		log.Info("relaying json body", "bytes", len(body))
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
	}
}

func (h *Handler) relay(ctx context.Context, req Request) (int, string, []byte, error) {
	resp, err := h.generator.Generate(ctx, req.toImageParams())
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to read upstream body: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if ok && !strings.Contains(contentType, "image") && !json.Valid(body) {
		return 0, "", nil, errors.New("upstream returned neither an image nor JSON")
	}
	return resp.StatusCode, contentType, body, nil
}

// errorStatus keeps the upstream status unless it cannot carry the error
// envelope (1xx, 304), in which case the relay answers 502.
func errorStatus(status int) int {
	if status < 200 || status == http.StatusNotModified {
		return http.StatusBadGateway
	}
	return status
}

// MethodNotAllowed answers any non-POST call to a generate route.
func MethodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
}
