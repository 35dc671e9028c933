package validator

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/model"
)

const (
	defaultValidationTarget = "www.google.com:443"
	defaultDirectTimeout    = 10 * time.Second
)

// DirectChecker 不依赖第三方服务，自行连接每个候选：
// 先尝试 HTTP CONNECT，再尝试 SOCKS5 握手，以成功的一方作为协议分类。
type DirectChecker struct {
	timeout     time.Duration
	concurrency int
	target      string
}

func NewDirectChecker(timeout time.Duration, concurrency int, target string) *DirectChecker {
	if concurrency <= 0 {
		concurrency = 50
	}
	if target == "" {
		target = defaultValidationTarget
	}
	if timeout <= 0 {
		timeout = defaultDirectTimeout
	}
	return &DirectChecker{
		timeout:     timeout,
		concurrency: concurrency,
		target:      target,
	}
}

func (d *DirectChecker) Name() string {
	return "direct"
}

// Check 以有限并发逐个检测候选。无法解析为 host:port 的候选被跳过。
func (d *DirectChecker) Check(ctx context.Context, candidates []string) ([]model.ProxyRecord, error) {
	l := logger.WithComponent("ProxyPool/Validator")

	var wg sync.WaitGroup
	resultsChan := make(chan model.ProxyRecord, len(candidates))
	semaphore := make(chan struct{}, d.concurrency)

	for _, cand := range candidates {
		host, portStr, err := net.SplitHostPort(cand)
		if err != nil {
			l.Debug().Str("candidate", cand).Msg("Skipping malformed candidate.")
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			l.Debug().Str("candidate", cand).Msg("Skipping candidate with invalid port.")
			continue
		}

		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}

		wg.Add(1)
		go func(host string, port int) {
			defer wg.Done()
			defer func() { <-semaphore }()
			resultsChan <- d.checkOne(ctx, host, port)
		}(host, port)
	}

	wg.Wait()
	close(resultsChan)

	records := make([]model.ProxyRecord, 0, len(candidates))
	for r := range resultsChan {
		records = append(records, r)
	}
	return records, nil
}

func (d *DirectChecker) checkOne(ctx context.Context, host string, port int) model.ProxyRecord {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	rec := model.ProxyRecord{IP: host, Port: port, Type: model.ProtocolUnknown, Working: model.Bool(false)}

	if err := d.checkHTTPConnect(ctx, addr); err == nil {
		rec.Type = model.ProtocolHTTP
		rec.Working = model.Bool(true)
		return rec
	}
	if err := d.checkSocks5Connect(ctx, addr); err == nil {
		rec.Type = model.ProtocolSOCKS5
		rec.Working = model.Bool(true)
	}
	return rec
}

// checkHTTPConnect 通过 CONNECT 请求确认代理能建立到目标的隧道。
func (d *DirectChecker) checkHTTPConnect(ctx context.Context, addr string) error {
	dialer := &net.Dialer{Timeout: d.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(d.timeout))

	if _, err := fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", d.target, d.target); err != nil {
		return err
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("CONNECT returned status %d", resp.StatusCode)
	}
	return nil
}

// checkSocks5Connect validates a proxy by attempting a SOCKS5 connection to the target.
func (d *DirectChecker) checkSocks5Connect(ctx context.Context, addr string) error {
	dialer, err := proxy.SOCKS5("tcp", addr, nil, &net.Dialer{Timeout: d.timeout})
	if err != nil {
		return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", d.target)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}
