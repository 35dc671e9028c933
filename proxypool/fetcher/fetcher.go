package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/extractor"
)

// Fetcher 并发抓取一组 URL。单个 URL 的失败只记录日志，不影响其它请求。
type Fetcher struct {
	identity Identity
	timeout  time.Duration
}

// New 创建 Fetcher。timeout 为 0 时使用抓取层的默认超时。
func New(identity Identity, timeout time.Duration) *Fetcher {
	return &Fetcher{
		identity: identity,
		timeout:  timeout,
	}
}

// Fetch 为每个 URL 发起一次独立请求，全部同时发出，不设并发上限。
// 所有请求结束后才返回；结果只包含成功的响应，顺序不保证。
func (f *Fetcher) Fetch(ctx context.Context, urls []string) []extractor.Payload {
	l := logger.WithComponent("ProxyPool/Fetcher")
	if len(urls) == 0 {
		return nil
	}

	// 每次调用使用独立的 collector，回调只作用于本批 URL。
	c := colly.NewCollector(
		colly.Async(true),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.UserAgent(f.identity.UserAgent()),
		colly.StdlibContext(ctx),
	)
	if f.timeout > 0 {
		c.SetRequestTimeout(f.timeout)
	}

	var mu sync.Mutex
	payloads := make([]extractor.Payload, 0, len(urls))

	c.OnRequest(func(r *colly.Request) {
		f.identity.Apply(*r.Headers)
	})

	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		defer mu.Unlock()
		payloads = append(payloads, extractor.Payload{
			URL:  r.Request.URL.String(),
			Body: r.Body,
		})
		l.Debug().Str("url", r.Request.URL.String()).Int("bytes", len(r.Body)).Msg("Fetched source.")
	})

	c.OnError(func(r *colly.Response, err error) {
		l.Warn().Err(err).Int("status_code", r.StatusCode).Str("url", r.Request.URL.String()).Msg("Fetch failed, skipping url.")
	})

	for _, u := range urls {
		if err := c.Visit(u); err != nil {
			l.Warn().Err(err).Str("url", u).Msg("Could not dispatch request, skipping url.")
		}
	}
	c.Wait()

	return payloads
}
