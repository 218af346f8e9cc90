package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmorgan81/genrelay/internal/config"
	"github.com/dmorgan81/genrelay/internal/image"
	"github.com/dmorgan81/genrelay/internal/prompt"
	"github.com/gin-gonic/gin"
	"github.com/samber/do"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGenerator struct {
	mu     sync.Mutex
	calls  []image.Params
	status int
	header http.Header
	body   []byte
	err    error
	// block waits for ctx to finish before answering
	block bool
}

func (g *fakeGenerator) Generate(ctx context.Context, params image.Params) (*http.Response, error) {
	g.mu.Lock()
	g.calls = append(g.calls, params)
	g.mu.Unlock()
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return &http.Response{
		StatusCode: g.status,
		Header:     g.header,
		Body:       io.NopCloser(bytes.NewReader(g.body)),
	}, nil
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset by peer") }
func (failingBody) Close() error             { return nil }

func newTestEngine(t *testing.T, gen image.Generator, timeout time.Duration) *gin.Engine {
	t.Helper()
	i := do.New()
	do.ProvideValue[*config.Config](i, &config.Config{
		DefaultModel:   config.DefaultModel,
		RequestTimeout: timeout,
		AllowOrigins:   []string{"*"},
	})
	do.ProvideValue[image.Generator](i, gen)
	do.ProvideValue[*slog.Logger](i, slog.New(slog.NewTextHandler(io.Discard, nil)))
	do.ProvideNamedValue[[]string](i, "prompts", prompt.Examples)
	do.Provide[*prompt.Randomizer](i, prompt.NewRandomizer)
	do.Provide[*Handler](i, NewHandler)

	engine, err := NewEngine(i)
	if err != nil {
		t.Fatal(err)
	}
	return engine
}

func serve(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestGenerateRelaysImageBytes(t *testing.T) {
	img := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0xff}
	gen := &fakeGenerator{
		status: http.StatusOK,
		header: http.Header{"Content-Type": {"image/jpeg"}},
		body:   img,
	}
	engine := newTestEngine(t, gen, 0)

	rec := serve(engine, http.MethodPost, "/generate", `{"model":"black-forest-labs/FLUX.1-dev","prompt":"a kitten","width":768,"height":432}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), img) {
		t.Errorf("body not relayed byte-for-byte")
	}
	want := image.Params{Model: "black-forest-labs/FLUX.1-dev", Prompt: "a kitten", Width: 768, Height: 432}
	if len(gen.calls) != 1 || gen.calls[0] != want {
		t.Errorf("calls = %+v", gen.calls)
	}
}

func TestGenerateAppliesDefaults(t *testing.T) {
	gen := &fakeGenerator{status: http.StatusOK, header: http.Header{"Content-Type": {"image/png"}}}
	engine := newTestEngine(t, gen, 0)

	rec := serve(engine, http.MethodPost, "/api/generate", `{"prompt":"a kitten"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := image.Params{Model: config.DefaultModel, Prompt: "a kitten", Width: DefaultSize, Height: DefaultSize}
	if len(gen.calls) != 1 || gen.calls[0] != want {
		t.Errorf("calls = %+v", gen.calls)
	}
}

func TestGeneratePropagatesUpstreamStatus(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusServiceUnavailable} {
		upstream := `{"error":"Model is currently loading","estimated_time":20}`
		gen := &fakeGenerator{
			status: status,
			header: http.Header{"Content-Type": {"application/json"}},
			body:   []byte(upstream),
		}
		engine := newTestEngine(t, gen, 0)

		rec := serve(engine, http.MethodPost, "/generate", `{"prompt":"a kitten"}`)

		if rec.Code != status {
			t.Errorf("status = %d, want %d", rec.Code, status)
		}
		if got := decodeError(t, rec); got != upstream {
			t.Errorf("error = %q, want upstream body verbatim", got)
		}
	}
}

func TestGenerateBodilessUpstreamStatus(t *testing.T) {
	gen := &fakeGenerator{
		status: http.StatusNotModified,
		header: http.Header{"Content-Type": {"text/plain"}},
		body:   []byte("not modified"),
	}
	rec := serve(newTestEngine(t, gen, 0), http.MethodPost, "/generate", `{"prompt":"a kitten"}`)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if got := decodeError(t, rec); got != "not modified" {
		t.Fatalf("error = %q", got)
	}
}

func TestGenerateRelaysJSONOnSuccess(t *testing.T) {
	upstream := `{"error":["content flagged"]}`
	gen := &fakeGenerator{
		status: http.StatusOK,
		header: http.Header{"Content-Type": {"application/json"}},
		body:   []byte(upstream),
	}
	engine := newTestEngine(t, gen, 0)

	rec := serve(engine, http.MethodPost, "/generate", `{"prompt":"a kitten"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != upstream {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestGenerateTransportFailures(t *testing.T) {
	tests := map[string]*fakeGenerator{
		"dial error": {err: errors.New("dial tcp: lookup router.huggingface.co: no such host")},
		"garbage success body": {
			status: http.StatusOK,
			header: http.Header{"Content-Type": {"text/html"}},
			body:   []byte("<html>gateway</html>"),
		},
	}
	for name, gen := range tests {
		t.Run(name, func(t *testing.T) {
			rec := serve(newTestEngine(t, gen, 0), http.MethodPost, "/generate", `{"prompt":"a kitten"}`)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", rec.Code)
			}
			if decodeError(t, rec) == "" {
				t.Fatal("expected error message")
			}
		})
	}
}

type readFailGenerator struct{}

func (readFailGenerator) Generate(context.Context, image.Params) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"image/png"}},
		Body:       failingBody{},
	}, nil
}

func TestGenerateBodyReadFailure(t *testing.T) {
	rec := serve(newTestEngine(t, readFailGenerator{}, 0), http.MethodPost, "/generate", `{"prompt":"a kitten"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "connection reset") {
		t.Fatalf("error = %q", msg)
	}
}

func TestGenerateTimeout(t *testing.T) {
	gen := &fakeGenerator{block: true}
	rec := serve(newTestEngine(t, gen, 10*time.Millisecond), http.MethodPost, "/generate", `{"prompt":"a kitten"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, context.DeadlineExceeded.Error()) {
		t.Fatalf("error = %q", msg)
	}
}

func TestGenerateBadRequest(t *testing.T) {
	for name, body := range map[string]string{
		"malformed":      `{"prompt":`,
		"missing prompt": `{"model":"m"}`,
		"negative width": `{"prompt":"p","width":-1}`,
	} {
		t.Run(name, func(t *testing.T) {
			gen := &fakeGenerator{}
			rec := serve(newTestEngine(t, gen, 0), http.MethodPost, "/generate", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if len(gen.calls) != 0 {
				t.Fatal("upstream called for invalid request")
			}
		})
	}
}

func TestGenerateMethodNotAllowed(t *testing.T) {
	engine := newTestEngine(t, &fakeGenerator{}, 0)
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec := serve(engine, method, "/generate", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: status = %d", method, rec.Code)
			continue
		}
		if msg := decodeError(t, rec); msg != "Method not allowed" {
			t.Errorf("%s: error = %q", method, msg)
		}
	}
}

func TestRequestIDHeader(t *testing.T) {
	engine := newTestEngine(t, &fakeGenerator{}, 0)

	rec := serve(engine, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("status %d, request id %q", rec.Code, rec.Header().Get(requestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("request id = %q", got)
	}
}

func TestRandomPrompt(t *testing.T) {
	rec := serve(newTestEngine(t, &fakeGenerator{}, 0), http.MethodGet, "/prompt", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Prompt == "" {
		t.Fatalf("body %q: %v", rec.Body.String(), err)
	}
}
