package serverless

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/dmorgan81/genrelay/internal/log"
	"github.com/gin-gonic/gin"
	"github.com/samber/do"
)

// Adapter serves API Gateway v2 and Lambda Function URL events through the
// relay's gin engine.
type Adapter struct {
	proxy *ginadapter.GinLambdaV2
}

func NewAdapter(i *do.Injector) (*Adapter, error) {
	return New(do.MustInvoke[*gin.Engine](i)), nil
}

func New(engine *gin.Engine) *Adapter {
	return &Adapter{proxy: ginadapter.NewV2(engine)}
}

func (a *Adapter) Handle(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Adapter").With("route", event.RouteKey, "path", event.RawPath)
	log.Info("handling lambda invocation")

	resp, err := a.proxy.ProxyWithContext(ctx, event)
	if err != nil {
		log.Error("proxying event", "error", err)
	}
	return resp, err
}
