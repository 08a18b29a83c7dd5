package model

import (
	"regexp"
	"strings"
)

// 数据框导出整数列时产生的 "12345.0" 形式
var integralFloatID = regexp.MustCompile(`^-?[0-9]+\.0+$`)

// NormalizeUserID 将原始用户标识统一成规范字符串形式
//
// 仅把 "12345.0" 折叠为 "12345"；其余字符串只做首尾空白裁剪，"007"、"1e3" 原样保留。
func NormalizeUserID(raw string) string {
	s := strings.TrimSpace(raw)
	if integralFloatID.MatchString(s) {
		return s[:strings.IndexByte(s, '.')]
	}
	return s
}
