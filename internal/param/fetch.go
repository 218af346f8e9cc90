package param

import "context"

// Fetcher reads configuration values kept outside the process environment.
type Fetcher interface {
	Fetch(context.Context, string) (string, error)
	FetchAll(context.Context, string) ([]string, error)
}
