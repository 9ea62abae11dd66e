package strategy

import (
	"context"

	"github.com/davral/tidings/internal/adapter/httpx"
	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/logger"
)

// Fetcher is the slice of the HTTP substrate strategies consume; the concrete
// client satisfies it and tests stub it.
type Fetcher interface {
	Do(ctx context.Context, req httpx.Request) (*httpx.Response, error)
}

// baseRequest carries the per-source network settings into a substrate
// request. The strategy fills in the URL.
func baseRequest(cfg domain.SourceConfig, opts domain.SourceOptions, url string) httpx.Request {
	req := httpx.Request{
		URL:            url,
		SourceID:       cfg.SourceID,
		Headers:        opts.Headers,
		NeedProxy:      opts.NeedProxy,
		ProxyGroup:     opts.ProxyGroup,
		ProxyFallback:  opts.ProxyFallback,
		ConnectTimeout: opts.ConnectTimeout,
		ReadTimeout:    opts.ReadTimeout,
		TotalTimeout:   opts.TotalTimeout,
		MaxRetries:     opts.MaxRetries,
		RetryBackoff:   opts.RetryDelay,
		VerifyTLS:      opts.VerifyTLS,
	}
	if len(opts.UserAgents) > 0 {
		req.UserAgent = opts.UserAgents[0]
	}
	return req
}

// Deps bundles what every strategy constructor needs.
type Deps struct {
	Client Fetcher
	Logger *logger.StyledLogger
}
