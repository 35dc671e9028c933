package model

import (
	"net"
	"strconv"
	"strings"
)

// Protocol 是校验服务给出的协议分类，取值为封闭集合。
type Protocol string

const (
	ProtocolHTTP    Protocol = "http"
	ProtocolHTTPS   Protocol = "https"
	ProtocolSOCKS4  Protocol = "socks4"
	ProtocolSOCKS5  Protocol = "socks5"
	ProtocolUnknown Protocol = "unknown"
)

// Protocols 按输出文件的固定顺序列出所有协议。
var Protocols = []Protocol{ProtocolHTTP, ProtocolHTTPS, ProtocolSOCKS4, ProtocolSOCKS5, ProtocolUnknown}

// ParseProtocol 把任意字符串归一化为已知协议，无法识别的一律视为 unknown。
func ParseProtocol(s string) Protocol {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case ProtocolHTTP, ProtocolHTTPS, ProtocolSOCKS4, ProtocolSOCKS5:
		return p
	default:
		return ProtocolUnknown
	}
}

// IsHTTP reports whether p belongs to the http.json partition.
func (p Protocol) IsHTTP() bool {
	return p == ProtocolHTTP || p == ProtocolHTTPS
}

// IsSOCKS reports whether p belongs to the socks.json partition.
func (p Protocol) IsSOCKS() bool {
	return p == ProtocolSOCKS4 || p == ProtocolSOCKS5
}

// ProxyRecord 是经过存活校验后的代理，只由 Validator 创建，创建后不再修改。
type ProxyRecord struct {
	IP      string   `json:"ip"`
	Port    int      `json:"port"`
	Type    Protocol `json:"type"`
	Working *bool    `json:"working,omitempty"` // nil 表示校验方未给出存活标记
}

// RecordKey 是 ProxyRecord 的可比较形式，用于结构化去重。
type RecordKey struct {
	IP      string
	Port    int
	Type    Protocol
	Working int8 // 0: 未标记, 1: 存活, -1: 失效
}

// Key 返回记录的去重键。只有存活标记不同的两条记录被视为不同记录。
func (r ProxyRecord) Key() RecordKey {
	k := RecordKey{IP: r.IP, Port: r.Port, Type: r.Type}
	if r.Working != nil {
		if *r.Working {
			k.Working = 1
		} else {
			k.Working = -1
		}
	}
	return k
}

// Address 返回 "ip:port" 形式的地址。
func (r ProxyRecord) Address() string {
	return net.JoinHostPort(r.IP, strconv.Itoa(r.Port))
}

// IsWorking reports whether the record carries a positive liveness flag.
func (r ProxyRecord) IsWorking() bool {
	return r.Working != nil && *r.Working
}

// Bool returns a pointer to b, for populating ProxyRecord.Working.
func Bool(b bool) *bool {
	return &b
}

// Dedup 按 Key 去重，保留首次出现的顺序。
func Dedup(records []ProxyRecord) []ProxyRecord {
	seen := make(map[RecordKey]struct{}, len(records))
	out := make([]ProxyRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}
