package artifact

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

// record 是一行扁平数据，列名统一为小写
//
// JSON 数组值保存在 lists 中，不经过文本往返。
type record struct {
	line   int
	values map[string]string
	lists  map[string][]string
}

func newRecord(line int, values map[string]string) record {
	lowered := make(map[string]string, len(values))
	for k, v := range values {
		lowered[normalizeColumn(k)] = v
	}
	return record{line: line, values: lowered}
}

func normalizeColumn(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// list 优先返回原生数组值，否则按列表字面量解析文本
func (r record) list(aliases ...string) ([]string, bool) {
	for _, a := range aliases {
		if items, ok := r.lists[a]; ok {
			return items, true
		}
	}
	if v, ok := r.get(aliases...); ok {
		return parseList(v), true
	}
	return nil, false
}

// get 依次尝试别名，返回第一个非空值
func (r record) get(aliases ...string) (string, bool) {
	for _, a := range aliases {
		if v, ok := r.values[a]; ok {
			v = strings.TrimSpace(v)
			if v != "" && !isNullToken(v) {
				return v, true
			}
		}
	}
	return "", false
}

func isNullToken(v string) bool {
	switch strings.ToLower(v) {
	case "nan", "null", "none", "<na>":
		return true
	}
	return false
}

func (r record) float(aliases ...string) (*float64, error) {
	v, ok := r.get(aliases...)
	if !ok {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("column %s: invalid number %q", aliases[0], v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("column %s: non-finite value %q", aliases[0], v)
	}
	return &f, nil
}

func (r record) id(aliases ...string) (int64, bool, error) {
	v, ok := r.get(aliases...)
	if !ok {
		return 0, false, nil
	}
	id, err := parseID(v)
	if err != nil {
		return 0, true, fmt.Errorf("column %s: %w", aliases[0], err)
	}
	return id, true, nil
}

// maxExactFloat 是 float64 能精确表示的最大整数 2^53
const maxExactFloat = 1 << 53

// parseID 接受整数或 "10.0" 形式的整数浮点
//
// 其他浮点写法只在 2^53 以内接受，超出范围的值报错而不是回绕。
func parseID(v string) (int64, error) {
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i, nil
	}
	if dot := strings.IndexByte(v, '.'); dot > 0 && dot < len(v)-1 && strings.Trim(v[dot+1:], "0") == "" {
		i, err := strconv.ParseInt(v[:dot], 10, 64)
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("integer id %q out of range", v)
		}
		if err != nil {
			return 0, fmt.Errorf("invalid integer id %q", v)
		}
		return i, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid integer id %q", v)
	}
	if math.Abs(f) > maxExactFloat {
		return 0, fmt.Errorf("integer id %q out of range", v)
	}
	return int64(f), nil
}

// readCSV 读取带表头的 CSV，行号从数据首行 = 2 开始
func readCSV(data []byte) ([]record, error) {
	rd := csv.NewReader(bufio.NewReader(bytes.NewReader(data)))
	rd.LazyQuotes = true
	rd.TrimLeadingSpace = true

	header, err := rd.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv, header required")
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	// 去掉 UTF-8 BOM
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var records []record
	line := 1
	for {
		row, err := rd.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &LoadError{Line: line, Err: err}
		}
		values := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				values[col] = row[i]
			}
		}
		records = append(records, newRecord(line, values))
	}
	return records, nil
}

// readJSONL 每行一个 JSON 对象，空行忽略
func readJSONL(data []byte) ([]record, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var records []record
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var obj map[string]any
		if err := decodeJSON(raw, &obj); err != nil {
			return nil, &LoadError{Line: line, Err: fmt.Errorf("invalid json object: %w", err)}
		}
		if obj == nil {
			return nil, &LoadError{Line: line, Err: errors.New("line must be a json object")}
		}
		records = append(records, objectRecord(line, obj))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jsonl: %w", err)
	}
	return records, nil
}

// decodeJSON 以 json.Number 保留数字原文，避免大整数 id 丢失精度
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after top-level value")
	}
	return nil
}

func objectRecord(line int, obj map[string]any) record {
	values := make(map[string]string, len(obj))
	lists := make(map[string][]string)
	for k, v := range obj {
		if arr, ok := v.([]any); ok {
			items := make([]string, 0, len(arr))
			for _, it := range arr {
				if s, ok := stringify(it); ok {
					items = append(items, s)
				}
			}
			lists[normalizeColumn(k)] = items
			continue
		}
		if s, ok := stringify(v); ok {
			values[k] = s
		}
	}
	r := newRecord(line, values)
	r.lists = lists
	return r
}

// stringify 把 JSON / SQL 标量转换为字符串，对象重新编码为 JSON 文本
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	default:
		b, err := json.MarshalNoEscape(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// readSQLiteTable 按 rowid 顺序读取整张表
func readSQLiteTable(ctx context.Context, path, table string) ([]record, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %q ORDER BY rowid", table))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []record
	line := 0
	for rows.Next() {
		line++
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &LoadError{Line: line, Err: err}
		}
		values := make(map[string]string, len(cols))
		for i, c := range cols {
			if s, ok := stringify(dest[i]); ok {
				values[c] = s
			}
		}
		records = append(records, newRecord(line, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
	}
	return records, nil
}

// withSource 为底层错误补全制品类别与路径
func withSource(err error, kind, path string) error {
	if err == nil {
		return nil
	}
	var le *LoadError
	if errors.As(err, &le) {
		if le.Kind == "" {
			le.Kind = kind
		}
		if le.Path == "" {
			le.Path = path
		}
		return le
	}
	return &LoadError{Kind: kind, Path: path, Err: err}
}
