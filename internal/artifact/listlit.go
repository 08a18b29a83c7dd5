package artifact

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// parseList 解析列表字段
//
// 支持 Python / JSON 列表字面量 (['a', "b's"]) 与以 '|' 或 ',' 分隔的纯文本。
func parseList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return parseListLiteral(s[1 : len(s)-1])
	}

	sep := ","
	if strings.Contains(s, "|") {
		sep = "|"
	}
	out := []string{}
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseListLiteral(body string) []string {
	out := []string{}
	i := 0
	for i < len(body) {
		c := body[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == ',':
			i++
		case c == '\'' || c == '"':
			start := i + 1
			i = start
			for i < len(body) && body[i] != c {
				if body[i] == '\\' {
					i++
				}
				i++
			}
			end := min(i, len(body))
			i++ // 结束引号
			out = append(out, unescapeItem(body[start:end]))
		default:
			j := strings.IndexByte(body[i:], ',')
			if j < 0 {
				j = len(body) - i
			}
			if tok := strings.TrimSpace(body[i : i+j]); tok != "" {
				out = append(out, tok)
			}
			i += j
		}
	}
	return out
}

// unescapeItem 还原 JSON 与 Python 字符串字面量中的转义序列
func unescapeItem(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			sb.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'u':
			r, n := decodeUnicodeEscape(s[i+1:])
			if n == 0 {
				sb.WriteString(`\u`)
				continue
			}
			sb.WriteRune(r)
			i += n
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// decodeUnicodeEscape 解析 \u 之后的 4 位十六进制，支持代理对
func decodeUnicodeEscape(s string) (rune, int) {
	if len(s) < 4 {
		return 0, 0
	}
	v, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, 0
	}
	r := rune(v)
	if utf16.IsSurrogate(r) && len(s) >= 10 && s[4] == '\\' && s[5] == 'u' {
		if lo, err := strconv.ParseUint(s[6:10], 16, 16); err == nil {
			if pair := utf16.DecodeRune(r, rune(lo)); pair != '\uFFFD' {
				return pair, 10
			}
		}
	}
	return r, 4
}
