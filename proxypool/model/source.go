package model

import (
	"errors"
	"fmt"
	"strings"
)

// RuleKind 是 ExtractionRule 的判别字段。
type RuleKind string

const (
	RuleSplit   RuleKind = "split"
	RuleRegex   RuleKind = "regex"
	RuleJSON    RuleKind = "json"
	RuleObjects RuleKind = "objects"
	RuleHTML    RuleKind = "html"
)

var ErrInvalidRule = errors.New("invalid extraction rule")

// FieldPath 是 json 规则中的两条路径查询 (gjson 语法，例如 "data.#.ip")。
type FieldPath struct {
	IP   string `yaml:"ip" json:"ip"`
	Port string `yaml:"port" json:"port"`
}

// ExtractionRule 描述如何把一个来源的原始响应解析为 "ip:port" 候选。
// Kind 决定哪些字段有意义：
//   - split:   Delimiter
//   - regex:   Regex
//   - json:    Path.IP / Path.Port
//   - objects: Root (可选)，其下每个成员对象需带 ip 与 port 字段
//   - html:    Selector / IPColumn / PortColumn
type ExtractionRule struct {
	Kind       RuleKind   `yaml:"type" json:"type"`
	Delimiter  string     `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	Regex      string     `yaml:"regex,omitempty" json:"regex,omitempty"`
	Path       *FieldPath `yaml:"path,omitempty" json:"path,omitempty"`
	Root       string     `yaml:"root,omitempty" json:"root,omitempty"`
	Selector   string     `yaml:"selector,omitempty" json:"selector,omitempty"`
	IPColumn   int        `yaml:"ip_column,omitempty" json:"ip_column,omitempty"`
	PortColumn int        `yaml:"port_column,omitempty" json:"port_column,omitempty"`
}

// Validate 检查判别字段与对应字段是否匹配。
func (r ExtractionRule) Validate() error {
	switch r.Kind {
	case RuleSplit:
		return nil
	case RuleRegex:
		if r.Regex == "" {
			return fmt.Errorf("%w: regex rule without expression", ErrInvalidRule)
		}
	case RuleJSON:
		if r.Path == nil || r.Path.IP == "" || r.Path.Port == "" {
			return fmt.Errorf("%w: json rule requires path.ip and path.port", ErrInvalidRule)
		}
	case RuleObjects:
		return nil
	case RuleHTML:
		if r.Selector == "" {
			return fmt.Errorf("%w: html rule without selector", ErrInvalidRule)
		}
		if r.IPColumn < 0 || r.PortColumn < 0 {
			return fmt.Errorf("%w: negative column index", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, r.Kind)
	}
	return nil
}

// SourceInfo 是来源描述文件中的说明性元数据，仅用于统计报表。
type SourceInfo struct {
	Name       string `yaml:"name" json:"name"`
	Source     string `yaml:"source" json:"source"`
	SourceType string `yaml:"source_type" json:"source_type"`
	ProxyType  string `yaml:"proxy_type" json:"proxy_type"`
	Author     string `yaml:"author" json:"author"`
}

// ProxyTypes splits the comma separated proxy_type field.
func (i SourceInfo) ProxyTypes() []string {
	var out []string
	for _, t := range strings.Split(i.ProxyType, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SourceDescriptor 是一个已配置的代理来源，加载后只读。
type SourceDescriptor struct {
	Info SourceInfo     `yaml:"info" json:"info"`
	Rule ExtractionRule `yaml:"extractors" json:"extractors"`
	URLs []string       `yaml:"proxies" json:"proxies"`
}

// Name 返回来源名称。
func (d SourceDescriptor) Name() string {
	return d.Info.Name
}

func (d SourceDescriptor) Validate() error {
	if d.Info.Name == "" {
		return errors.New("source descriptor without info.name")
	}
	if len(d.URLs) == 0 {
		return fmt.Errorf("source %q has no urls", d.Info.Name)
	}
	if err := d.Rule.Validate(); err != nil {
		return fmt.Errorf("source %q: %w", d.Info.Name, err)
	}
	return nil
}
