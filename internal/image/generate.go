package image

import (
	"context"
	"net/http"
)

type Params struct {
	Model  string
	Prompt string
	Width  int
	Height int
}

// Generator issues one inference call and hands back the raw response.
// Callers own the response body.
type Generator interface {
	Generate(context.Context, Params) (*http.Response, error)
}
