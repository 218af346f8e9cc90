package prompt

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dmorgan81/genrelay/internal/config"
	"github.com/dmorgan81/genrelay/internal/log"
	"github.com/dmorgan81/genrelay/internal/param"
	"github.com/samber/do"
	"github.com/samber/lo"
)

var Examples = []string{
	"A magic forest with glowing plants and fairy homes among giant mushrooms",
	"An old steampunk airship floating through golden clouds at sunset",
	"A future Mars colony with glass domes and gardens against red mountains",
	"A dragon sleeping on gold coins in a crystal cave",
	"An underwater kingdom with merpeople and glowing coral buildings",
	"A floating island with waterfalls pouring into clouds below",
	"A witch's cottage in fall with magic herbs in the garden",
	"A robot painting in a sunny studio with art supplies around it",
	"A magical library with floating glowing books and spiral staircases",
	"A Japanese shrine during cherry blossom season with lanterns and misty mountains",
	"A cosmic beach with glowing sand and an aurora in the night sky",
	"A medieval marketplace with colorful tents and street performers",
	"A cyberpunk city with neon signs and flying cars at night",
	"A peaceful bamboo forest with a hidden ancient temple",
	"A giant turtle carrying a village on its back in the ocean",
}

type Randomizer struct {
	prompts []string

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomizer(i *do.Injector) (*Randomizer, error) {
	prompts := do.MustInvokeNamed[[]string](i, "prompts")
	return New(prompts, time.Now().UTC().UnixNano())
}

func New(prompts []string, seed int64) (*Randomizer, error) {
	prompts = lo.Compact(lo.Map(prompts, func(p string, _ int) string {
		return strings.TrimSpace(p)
	}))
	if len(prompts) == 0 {
		return nil, errors.New("no example prompts")
	}
	return &Randomizer{prompts: prompts, rnd: rand.New(rand.NewSource(seed))}, nil
}

// Load returns the prompt list stored under path, or Examples when path is empty.
func Load(ctx context.Context, fetcher param.Fetcher, path string) ([]string, error) {
	if path == "" {
		return Examples, nil
	}
	return fetcher.FetchAll(ctx, path)
}

// LoadFromInjector resolves the fetcher only when PROMPTS_PARAM is set.
func LoadFromInjector(ctx context.Context) func(*do.Injector) ([]string, error) {
	return func(i *do.Injector) ([]string, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.PromptsParam == "" {
			return Examples, nil
		}
		return Load(ctx, do.MustInvoke[param.Fetcher](i), cfg.PromptsParam)
	}
}

func (r *Randomizer) Randomize(ctx context.Context) string {
	log := log.FromContextOrDiscard(ctx).WithGroup("randomizer")
	log.Debug("getting random prompt")

	r.mu.Lock()
	idx := r.rnd.Intn(len(r.prompts))
	r.mu.Unlock()
	return r.prompts[idx]
}
