package fetcher

import "net/http"

// Identity 是附加在每个出站请求上的固定浏览器请求头。
// 构造时注入，运行期间只读。
type Identity struct {
	header http.Header
}

// DefaultIdentity 返回模拟桌面 Chrome 的请求头集合，用于降低来源站点的简单拦截。
// Accept-Encoding 只声明 gzip，抓取层能够自行解压它。
func DefaultIdentity() Identity {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36")
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Pragma", "no-cache")
	return Identity{header: h}
}

// UserAgent returns the identity's User-Agent value.
func (id Identity) UserAgent() string {
	return id.header.Get("User-Agent")
}

// Apply 把身份请求头写入 dst，覆盖同名字段。
func (id Identity) Apply(dst http.Header) {
	for k, vs := range id.header {
		dst.Del(k)
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
