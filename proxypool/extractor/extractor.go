// Package extractor turns a raw source payload into candidate "ip:port" strings
// according to a source's extraction rule.
package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dlclark/regexp2"
	"github.com/tidwall/gjson"

	"proxyharvest/proxypool/model"
)

// 单次正则匹配的上限，防止配置中的模式发生灾难性回溯。
const regexMatchTimeout = 5 * time.Second

// objectProviders 列出返回 {ip, port} 对象集合、无需路径查询的来源主机。
// 对这些主机，json 规则会改用 objects 策略。
var objectProviders = []string{"rotatingproxies.com"}

// Payload 是一次成功抓取的原始响应。
type Payload struct {
	URL  string
	Body []byte
}

// Extractor 是编译后的抽取规则，可被多个 goroutine 并发使用。
type Extractor struct {
	rule model.ExtractionRule
	re   *regexp2.Regexp
}

// Compile 校验规则并预编译正则。返回的错误属于配置错误。
func Compile(rule model.ExtractionRule) (*Extractor, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	e := &Extractor{rule: rule}
	if rule.Kind == model.RuleRegex {
		re, err := regexp2.Compile(rule.Regex, regexp2.ECMAScript)
		if err != nil {
			return nil, fmt.Errorf("%w: compile %q: %v", model.ErrInvalidRule, rule.Regex, err)
		}
		re.MatchTimeout = regexMatchTimeout
		e.re = re
	}
	return e, nil
}

// Extract 按规则从 payload 中抽取候选地址，顺序与文档中出现的顺序一致。
// 规则与内容形态不符时返回空切片，而不是错误。
func (e *Extractor) Extract(p Payload) []string {
	var raw []string
	switch e.rule.Kind {
	case model.RuleSplit:
		raw = e.split(p.Body)
	case model.RuleRegex:
		raw = e.match(p.Body)
	case model.RuleJSON:
		if isObjectProvider(p.URL) {
			raw = objects(p.Body, "")
		} else {
			raw = e.fieldPath(p.Body)
		}
	case model.RuleObjects:
		raw = objects(p.Body, e.rule.Root)
	case model.RuleHTML:
		raw = e.table(p.Body)
	}
	return clean(raw)
}

// Extract compiles rule and applies it to p. An invalid rule yields nothing.
func Extract(p Payload, rule model.ExtractionRule) []string {
	e, err := Compile(rule)
	if err != nil {
		return nil
	}
	return e.Extract(p)
}

func (e *Extractor) split(body []byte) []string {
	delim := e.rule.Delimiter
	if delim == "" {
		delim = "\n"
	}
	text := strings.ReplaceAll(string(body), "\r", "")
	return strings.Split(text, delim)
}

func (e *Extractor) match(body []byte) []string {
	text := strings.ReplaceAll(string(body), "\r", "")
	var out []string
	m, err := e.re.FindStringMatch(text)
	for m != nil && err == nil {
		out = append(out, m.String())
		m, err = e.re.FindNextMatch(m)
	}
	// 超时只截断结果，已得到的匹配仍然有效。
	return out
}

func (e *Extractor) fieldPath(body []byte) []string {
	if !gjson.ValidBytes(body) {
		return nil
	}
	ips := sequence(gjson.GetBytes(body, e.rule.Path.IP))
	ports := sequence(gjson.GetBytes(body, e.rule.Path.Port))

	n := min(len(ips), len(ports))
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ip, port := scalar(ips[i]), scalar(ports[i])
		if ip == "" || port == "" {
			continue
		}
		out = append(out, ip+":"+port)
	}
	return out
}

func objects(body []byte, root string) []string {
	if !gjson.ValidBytes(body) {
		return nil
	}
	doc := gjson.ParseBytes(body)
	if root != "" {
		doc = doc.Get(root)
	}
	var out []string
	doc.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		ip, port := scalar(v.Get("ip")), scalar(v.Get("port"))
		if ip != "" && port != "" {
			out = append(out, ip+":"+port)
		}
		return true
	})
	return out
}

func (e *Extractor) table(body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find(e.rule.Selector).Each(func(_ int, row *goquery.Selection) {
		// 部分站点用 th 作数据单元格
		cells := row.Find("td, th")
		ip := strings.TrimSpace(cells.Eq(e.rule.IPColumn).Text())
		if e.rule.IPColumn == e.rule.PortColumn {
			// 单列形如 "ip:port"
			if strings.Contains(ip, ":") {
				out = append(out, ip)
			}
			return
		}
		port := strings.TrimSpace(cells.Eq(e.rule.PortColumn).Text())
		if ip != "" && port != "" {
			out = append(out, ip+":"+port)
		}
	})
	return out
}

// sequence 把路径查询结果统一成序列，标量视为单元素序列。
func sequence(r gjson.Result) []gjson.Result {
	if !r.Exists() {
		return nil
	}
	if r.IsArray() {
		return r.Array()
	}
	return []gjson.Result{r}
}

// scalar 返回值的文本形式；null、false、0 与空串都视为缺失。
func scalar(r gjson.Result) string {
	switch r.Type {
	case gjson.Null, gjson.False:
		return ""
	case gjson.Number:
		if r.Num == 0 {
			return ""
		}
	}
	return strings.TrimSpace(r.String())
}

func isObjectProvider(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range objectProviders {
		if host == p || strings.HasSuffix(host, "."+p) {
			return true
		}
	}
	return false
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ReplaceAll(s, "\r", "")
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
