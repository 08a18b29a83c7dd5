package user

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"recipe_recommend/internal/artifact"
	"recipe_recommend/internal/model"

	"gopkg.in/yaml.v3"
)

// Entry 一条原始标识到规范用户标识的映射
type Entry struct {
	RawID  string `yaml:"raw_id"`
	UserID string `yaml:"user_id"`
}

type mapFile struct {
	Users []Entry `yaml:"users"`
}

// Mapper 把上游重编号后的代理 ID 翻译回原生用户 ID
//
// 构建后只读，可被并发读取。
type Mapper struct {
	ids map[string]string
}

// NewMapper 由映射条目构建 Mapper，同一原始标识映射到不同用户视为错误
func NewMapper(entries []Entry) (*Mapper, error) {
	ids := make(map[string]string, len(entries))
	for i, e := range entries {
		raw := model.NormalizeUserID(e.RawID)
		uid := model.NormalizeUserID(e.UserID)
		if raw == "" || uid == "" {
			return nil, fmt.Errorf("entry %d: raw_id and user_id are required", i+1)
		}
		if prev, ok := ids[raw]; ok && prev != uid {
			return nil, fmt.Errorf("entry %d: raw_id %s maps to both %s and %s", i+1, raw, prev, uid)
		}
		ids[raw] = uid
	}
	return &Mapper{ids: ids}, nil
}

// Load 读取 CSV (raw_id,user_id) 或 YAML (users: [...]) 格式的用户映射
func Load(ctx context.Context, loader *artifact.Loader, path string) (*Mapper, error) {
	data, err := loader.ReadBytes(ctx, path)
	if err != nil {
		return nil, &artifact.LoadError{Kind: "user_map", Path: path, Err: err}
	}

	var entries []Entry
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		var f mapFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, &artifact.LoadError{Kind: "user_map", Path: path, Err: fmt.Errorf("failed to parse yaml: %w", err)}
		}
		entries = f.Users
	} else {
		entries, err = parseCSV(data)
		if err != nil {
			return nil, &artifact.LoadError{Kind: "user_map", Path: path, Err: err}
		}
	}

	m, err := NewMapper(entries)
	if err != nil {
		return nil, &artifact.LoadError{Kind: "user_map", Path: path, Err: err}
	}
	return m, nil
}

func parseCSV(data []byte) ([]Entry, error) {
	rd := csv.NewReader(bytes.NewReader(data))
	rd.TrimLeadingSpace = true

	header, err := rd.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty user map")
		}
		return nil, err
	}
	rawIdx, userIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))) {
		case "raw_id", "uid", "index":
			rawIdx = i
		case "user_id":
			userIdx = i
		}
	}
	if rawIdx < 0 || userIdx < 0 {
		return nil, errors.New("user map csv needs raw_id and user_id columns")
	}

	var entries []Entry
	for {
		row, err := rd.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if rawIdx >= len(row) || userIdx >= len(row) {
			line, _ := rd.FieldPos(0)
			return nil, fmt.Errorf("line %d: short row", line)
		}
		entries = append(entries, Entry{RawID: row[rawIdx], UserID: row[userIdx]})
	}
	return entries, nil
}

// Resolve 返回规范用户标识，未登记的标识原样返回
func (m *Mapper) Resolve(raw string) string {
	if m == nil {
		return raw
	}
	if uid, ok := m.ids[model.NormalizeUserID(raw)]; ok {
		return uid
	}
	return raw
}

// Len 映射条目数
func (m *Mapper) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ids)
}
