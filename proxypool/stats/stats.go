package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	manager "proxyharvest/proxypool"
	"proxyharvest/proxypool/model"
)

// SourceStat 是单个来源的检测汇总。
type SourceStat struct {
	Name       string   `json:"name"`
	SourceType string   `json:"source_type"`
	Author     string   `json:"author"`
	ProxyTypes []string `json:"proxy_types"`
	Total      int      `json:"total"`
	Live       int      `json:"live"`
	Dead       int      `json:"dead"`
}

// CountRow 是汇总表中的一行。
type CountRow struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type Report struct {
	Sources     []SourceStat `json:"sources"`
	SourceTypes []CountRow   `json:"source_types"`
	Authors     []CountRow   `json:"authors"`
	ProxyTypes  []CountRow   `json:"proxy_types"`
}

// Compute 根据各来源的候选与一次保留失效条目的检测结果计算报表。
// 某来源的 Total 是检测结果中地址属于该来源候选的记录数。
func Compute(sources []manager.SourceResult, records []model.ProxyRecord) *Report {
	byAddr := make(map[string][]model.ProxyRecord)
	for _, r := range records {
		byAddr[r.Address()] = append(byAddr[r.Address()], r)
	}

	report := &Report{}
	sourceTypes := make(map[string]int)
	authors := make(map[string]int)
	proxyTypes := make(map[string]int)

	for _, src := range sources {
		st := SourceStat{
			Name:       src.Name,
			SourceType: src.Info.SourceType,
			Author:     src.Info.Author,
			ProxyTypes: src.Info.ProxyTypes(),
		}

		seen := make(map[string]struct{})
		for _, c := range src.Candidates {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			for _, r := range byAddr[c] {
				st.Total++
				if r.IsWorking() {
					st.Live++
				}
			}
		}
		st.Dead = st.Total - st.Live
		report.Sources = append(report.Sources, st)

		sourceTypes[st.SourceType]++
		authors[st.Author]++
		for _, t := range st.ProxyTypes {
			proxyTypes[t]++
		}
	}

	sort.Slice(report.Sources, func(i, j int) bool {
		return report.Sources[i].Name < report.Sources[j].Name
	})
	report.SourceTypes = toRows(sourceTypes)
	report.Authors = toRows(authors)
	report.ProxyTypes = toRows(proxyTypes)
	return report
}

// toRows 按数量降序、名称升序排列。
func toRows(counts map[string]int) []CountRow {
	rows := make([]CountRow, 0, len(counts))
	for k, v := range counts {
		rows = append(rows, CountRow{Key: k, Count: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}

// Markdown renders the report as STATISTICS.md content.
func (r *Report) Markdown() string {
	var sb strings.Builder

	sb.WriteString("# Source Type Summary\n\n")
	writeCountTable(&sb, "Source Type", r.SourceTypes)
	sb.WriteString("\n# Author Summary\n\n")
	writeCountTable(&sb, "Author", r.Authors)
	sb.WriteString("\n# Proxy Type Summary\n\n")
	writeCountTable(&sb, "Proxy Type", r.ProxyTypes)

	sb.WriteString("\n# Proxy Details\n\n")
	sb.WriteString("| Name | Total Proxies | Live Proxies | Dead Proxies |\n")
	sb.WriteString("|------|---------------|--------------|--------------|\n")
	for _, s := range r.Sources {
		fmt.Fprintf(&sb, "| %s | %d | %d | %d |\n", cell(s.Name), s.Total, s.Live, s.Dead)
	}
	return sb.String()
}

func writeCountTable(sb *strings.Builder, title string, rows []CountRow) {
	fmt.Fprintf(sb, "| %s | Count |\n", title)
	fmt.Fprintf(sb, "|%s|-------|\n", strings.Repeat("-", len(title)+2))
	for _, row := range rows {
		fmt.Fprintf(sb, "| %s | %d |\n", cell(row.Key), row.Count)
	}
}

// cell 转义表格单元格中的竖线，空值显示为 "-"。
func cell(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}

// Write 把报表写入 path，必要时创建父目录。
func Write(path string, r *Report) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create statistics dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(r.Markdown()), 0644); err != nil {
		return fmt.Errorf("failed to write statistics: %w", err)
	}
	return nil
}
