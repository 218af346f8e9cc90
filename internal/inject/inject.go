package inject

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	relayconfig "github.com/dmorgan81/genrelay/internal/config"
	"github.com/dmorgan81/genrelay/internal/image"
	"github.com/dmorgan81/genrelay/internal/log"
	"github.com/dmorgan81/genrelay/internal/param"
	"github.com/dmorgan81/genrelay/internal/prompt"
	"github.com/dmorgan81/genrelay/internal/relay"
	"github.com/dmorgan81/genrelay/internal/server"
	"github.com/dmorgan81/genrelay/internal/serverless"
	"github.com/gin-gonic/gin"
	"github.com/samber/do"
)

func Setup(ctx context.Context) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	// AWS is only touched when a *_PARAM variable asks for Parameter Store.
	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return config.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)

	do.Provide[*relayconfig.Config](injector, func(i *do.Injector) (*relayconfig.Config, error) {
		return relayconfig.Load(ctx, func(ctx context.Context, path string) (string, error) {
			fetcher, err := do.Invoke[param.Fetcher](i)
			if err != nil {
				return "", err
			}
			return fetcher.Fetch(ctx, path)
		})
	})
	do.ProvideValue[*slog.Logger](injector, log)
	do.ProvideValue[*http.Client](injector, &http.Client{})

	do.Provide[image.Generator](injector, image.NewHuggingFaceGenerator)
	do.ProvideNamed[[]string](injector, "prompts", prompt.LoadFromInjector(ctx))
	do.Provide[*prompt.Randomizer](injector, prompt.NewRandomizer)
	do.Provide[*relay.Handler](injector, relay.NewHandler)
	do.Provide[*gin.Engine](injector, func(i *do.Injector) (*gin.Engine, error) {
		gin.SetMode(gin.ReleaseMode)
		return relay.NewEngine(i)
	})
	do.Provide[*server.Server](injector, server.NewServer)
	do.Provide[*serverless.Adapter](injector, serverless.NewAdapter)

	return injector
}
