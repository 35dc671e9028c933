package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"proxyharvest/internal/shared/logger"
	"proxyharvest/proxypool/model"
)

const (
	AllJSON   = "proxies.json"
	HTTPJSON  = "http.json"
	SocksJSON = "socks.json"
	AllText   = "proxies.txt"
)

// Storage 接口定义了代理数据持久化的行为。
type Storage interface {
	Load() ([]model.ProxyRecord, error)
	Save(records []model.ProxyRecord) error
}

// FileStorage 实现了 Storage 接口，把一次运行的结果写成一组产物文件。
// 每次 Save 都整体重写，不追加。
type FileStorage struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStorage 创建一个新的 FileStorage 实例。
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{
		dir: dir,
	}
}

// Load 读取上一次写出的 proxies.json。文件不存在时返回空列表。
func (fs *FileStorage) Load() ([]model.ProxyRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	l := logger.WithComponent("ProxyPool/Storage")

	data, err := os.ReadFile(filepath.Join(fs.dir, AllJSON))
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("dir", fs.dir).Msg("No previous output found, starting empty.")
			return []model.ProxyRecord{}, nil
		}
		return nil, err
	}

	var records []model.ProxyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", AllJSON, err)
	}
	l.Info().Int("count", len(records)).Msg("Successfully loaded previous output.")
	return records, nil
}

// Save 写出全部产物：
//   - proxies.json / proxies.txt: 全部记录
//   - http.json: http 与 https
//   - socks.json: socks4 与 socks5
//   - <type>.txt: 每种出现的协议一个文件，未出现的协议文件被删除
func (fs *FileStorage) Save(records []model.ProxyRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	if err := os.MkdirAll(fs.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	var httpRecords, socksRecords []model.ProxyRecord
	byType := make(map[model.Protocol][]model.ProxyRecord)
	for _, r := range records {
		switch {
		case r.Type.IsHTTP():
			httpRecords = append(httpRecords, r)
		case r.Type.IsSOCKS():
			socksRecords = append(socksRecords, r)
		}
		byType[r.Type] = append(byType[r.Type], r)
	}

	if err := fs.writeJSON(AllJSON, records); err != nil {
		return err
	}
	if err := fs.writeJSON(HTTPJSON, httpRecords); err != nil {
		return err
	}
	if err := fs.writeJSON(SocksJSON, socksRecords); err != nil {
		return err
	}
	if err := fs.writeText(AllText, records); err != nil {
		return err
	}

	for _, p := range model.Protocols {
		name := string(p) + ".txt"
		list, ok := byType[p]
		if !ok {
			if err := os.Remove(filepath.Join(fs.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to remove stale %s: %w", name, err)
			}
			continue
		}
		if err := fs.writeText(name, list); err != nil {
			return err
		}
	}

	l.Info().Int("count", len(records)).Int("http", len(httpRecords)).Int("socks", len(socksRecords)).Str("dir", fs.dir).Msg("Successfully saved output files.")
	return nil
}

func (fs *FileStorage) writeJSON(name string, records []model.ProxyRecord) error {
	if records == nil {
		records = []model.ProxyRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return fs.writeFile(name, data)
}

func (fs *FileStorage) writeText(name string, records []model.ProxyRecord) error {
	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(r.Address())
		sb.WriteString("\n")
	}
	return fs.writeFile(name, []byte(sb.String()))
}

// writeFile 先写临时文件再改名，读者不会看到写了一半的文件。
func (fs *FileStorage) writeFile(name string, data []byte) error {
	target := filepath.Join(fs.dir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", name, err)
	}
	return nil
}
