package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/fetcher"
	"proxyharvest/proxypool/model"
)

const (
	DefaultOnlineCheckEndpoint = "https://api.proxyscrape.com/v4/online_check"
	onlineCheckField           = "ip_addr[]"
	maxResponseBytes           = 32 * 1024 * 1024
)

var ErrSchema = errors.New("unexpected online check response")

// onlineCheckEntry 是检测服务返回数组中的一项。
type onlineCheckEntry struct {
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Type    string `json:"type"`
	Working *bool  `json:"working"`
}

// OnlineChecker 通过第三方检测服务批量检测候选，一次请求提交全部候选。
type OnlineChecker struct {
	endpoint string
	client   *http.Client
	identity fetcher.Identity
}

func NewOnlineChecker(endpoint string, timeout time.Duration, identity fetcher.Identity) *OnlineChecker {
	if endpoint == "" {
		endpoint = DefaultOnlineCheckEndpoint
	}
	return &OnlineChecker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		identity: identity,
	}
}

func (c *OnlineChecker) Name() string {
	return "onlinecheck"
}

// Check 以表单形式提交全部候选，并把响应解码为 ProxyRecord。
func (c *OnlineChecker) Check(ctx context.Context, candidates []string) ([]model.ProxyRecord, error) {
	form := url.Values{}
	for _, cand := range candidates {
		form.Add(onlineCheckField, cand)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.identity.Apply(req.Header)
	// 交给 Transport 协商压缩，响应体才会被自动解压。
	req.Header.Del("Accept-Encoding")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("online check HTTP %d", resp.StatusCode)
	}

	records, dropped, err := decodeOnlineCheck(body)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		l := logger.WithComponent("ProxyPool/Validator")
		l.Warn().
			Int("dropped", dropped).
			Int("kept", len(records)).
			Msg("Dropped malformed online check entries.")
	}
	return records, nil
}

// decodeOnlineCheck 解码检测服务的响应。响应体不是 JSON 数组时整次调用失败；
// 单个条目不符合约定 (缺 ip、端口越界、缺 working、字段类型不对) 时只丢弃该条目。
func decodeOnlineCheck(body []byte) ([]model.ProxyRecord, int, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	records := make([]model.ProxyRecord, 0, len(entries))
	dropped := 0
	for _, raw := range entries {
		var e onlineCheckEntry
		if err := json.Unmarshal(raw, &e); err != nil || !e.valid() {
			dropped++
			continue
		}
		records = append(records, model.ProxyRecord{
			IP:      e.IP,
			Port:    e.Port,
			Type:    model.ParseProtocol(e.Type),
			Working: model.Bool(*e.Working),
		})
	}
	return records, dropped, nil
}

func (e onlineCheckEntry) valid() bool {
	return e.IP != "" && e.Port > 0 && e.Port <= 65535 && e.Working != nil
}
