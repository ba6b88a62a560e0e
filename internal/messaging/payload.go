package messaging

import (
	"fmt"
	"strings"
)

// Payload 是信封中携带的 JSON 对象。
type Payload map[string]any

// String 读取字符串字段，非字符串值返回空串。
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Strings 读取字符串数组字段，兼容 []any 与 []string。
func (p Payload) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	default:
		return nil
	}
}

// Bool 读取布尔字段。
func (p Payload) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

// Map 读取嵌套对象字段。
func (p Payload) Map(key string) map[string]any {
	v, _ := p[key].(map[string]any)
	return v
}

// Require 返回第一个缺失或为空的字段名。
func (p Payload) Require(keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := p[key]
		if !ok || v == nil {
			return key, false
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return key, false
		}
	}
	return "", true
}
