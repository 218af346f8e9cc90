package fanout

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmorgan81/genrelay/internal/log"
	"github.com/dmorgan81/genrelay/internal/store"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

type Request struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type State int

const (
	Pending State = iota
	Filled
	Failed
)

func (s State) String() string {
	switch s {
	case Filled:
		return "filled"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Slot is one position in a batch. Image is set when Filled, Err when Failed.
type Slot struct {
	Index       int
	State       State
	Image       []byte
	ContentType string
	Err         error
}

// Reference returns a data URI for a filled slot, or "" otherwise.
func (s Slot) Reference() string {
	if s.State != Filled {
		return ""
	}
	ct := lo.Ternary(s.ContentType != "", s.ContentType, "image/png")
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(s.Image)
}

// RelayError is a non-2xx answer from the relay.
type RelayError struct {
	Status  int
	Message string
}

func (e *RelayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay status %d", e.Status)
	}
	return fmt.Sprintf("relay status %d: %s", e.Status, e.Message)
}

type Client struct {
	HTTP *http.Client
	// URL of the relay's generate route, e.g. http://localhost:3000/generate.
	URL string
	// Notify, when set, is called once per slot as it settles. Calls may
	// arrive concurrently and in any order.
	Notify func(Slot)
}

// Generate makes a single relay call and returns the image bytes and content type.
func (c *Client) Generate(ctx context.Context, req Request) ([]byte, string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := lo.Ternary(c.HTTP != nil, c.HTTP, http.DefaultClient)
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &payload)
		return nil, "", &RelayError{
			Status:  resp.StatusCode,
			Message: lo.Ternary(payload.Error != "", payload.Error, "Image generation failed"),
		}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Batch issues n concurrent relay calls for req and waits for every one of
// them to settle. Failures are logged and recorded on their slot; they never
// cancel siblings. n below 1 is treated as 1.
func (c *Client) Batch(ctx context.Context, n int, req Request) []Slot {
	n = lo.Ternary(n > 0, n, 1)
	logger := log.FromContextOrDiscard(ctx).WithGroup("fanout").With("count", n)
	logger.Info("generating batch")

	slots := lo.Times(n, func(i int) Slot { return Slot{Index: i} })

	var group errgroup.Group
	for i := range slots {
		i := i
		group.Go(func() error {
			img, ct, err := c.Generate(ctx, req)
			if err != nil {
				logger.Error("image failed", "index", i, "error", err)
				slots[i].State, slots[i].Err = Failed, err
			} else {
				slots[i].State, slots[i].Image, slots[i].ContentType = Filled, img, ct
			}
			if c.Notify != nil {
				c.Notify(slots[i])
			}
			return nil
		})
	}
	// every goroutine returns nil, so Wait only joins
	group.Wait()

	logger.Info("batch settled", "filled", len(FilledSlots(slots)))
	return slots
}

func FilledSlots(slots []Slot) []Slot {
	return lo.Filter(slots, func(s Slot, _ int) bool { return s.State == Filled })
}

// Save hands every filled slot to u as image-<unix-ms>-<index>.png.
func Save(ctx context.Context, u store.Uploader, slots []Slot) ([]string, error) {
	stamp := time.Now().UnixMilli()
	var names []string
	for _, s := range FilledSlots(slots) {
		name := fmt.Sprintf("image-%d-%d.png", stamp, s.Index)
		if err := u.Upload(ctx, store.UploadParams{
			Name:        name,
			Data:        s.Image,
			ContentType: "image/png",
			Metadata:    map[string]string{"index": fmt.Sprint(s.Index)},
		}); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}
