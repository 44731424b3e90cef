// Package util 提供通用工具函数。
//
//   - EscapeLike / ClampInt: 笔记搜索的 LIKE 转义与分页钳制
//   - Env*:                 类型化环境变量读取
//   - LoadFromEnv:          按 struct tag 反射加载配置
package util

import (
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

// EscapeLike 转义 SQL LIKE 模式中的特殊字符 (%, _, \)。
func EscapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// ClampInt 将值限制在 [lo, hi] 范围内。
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EnvInt 读取整型环境变量，无效时返回 def，并确保不小于 min。
func EnvInt(name string, def, min int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	return v
}

// EnvBool 读取布尔环境变量，无效时返回 def。
// 接受: 1/true/yes/on → true, 0/false/no/off → false。
func EnvBool(name string, def bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// EnvStr 读取字符串环境变量，为空时返回 def。
func EnvStr(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}

// LoadFromEnv 通过反射从 struct tag 加载环境变量。
//
// 支持的 tag:
//   - env:"VAR_NAME"   — 环境变量名
//   - default:"value"  — 默认值
//   - min:"N"          — 最小值 (整型)
//
// 支持的字段类型: string, int, int64, bool。
// onlySet 为 true 时仅覆盖已设置的环境变量 (叠加在已有值之上)。
func LoadFromEnv(ptr any, onlySet bool) {
	if ptr == nil {
		logger.Error("util.LoadFromEnv: ptr must not be nil")
		return
	}
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		logger.Error("util.LoadFromEnv: ptr must be a non-nil pointer to struct")
		return
	}
	v := rv.Elem()
	t := v.Type()

	for i := range t.NumField() {
		field := t.Field(i)
		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		if _, set := os.LookupEnv(envName); onlySet && !set {
			continue
		}

		def := field.Tag.Get("default")
		fv := v.Field(i)
		if onlySet {
			def = fieldString(fv)
		}
		minInt, _ := strconv.ParseInt(field.Tag.Get("min"), 10, 64)

		switch field.Type.Kind() {
		case reflect.String:
			fv.SetString(EnvStr(envName, def))
		case reflect.Int, reflect.Int64:
			defInt, _ := strconv.ParseInt(def, 10, 64)
			fv.SetInt(EnvInt(envName, defInt, minInt))
		case reflect.Bool:
			defBool := def == "true" || def == "1" || def == "yes"
			fv.SetBool(EnvBool(envName, defBool))
		}
	}
}

func fieldString(fv reflect.Value) string {
	switch fv.Kind() {
	case reflect.String:
		return fv.String()
	case reflect.Int, reflect.Int64:
		return strconv.FormatInt(fv.Int(), 10)
	case reflect.Bool:
		return strconv.FormatBool(fv.Bool())
	}
	return ""
}

// ApplyDefaults 仅按 default tag 填充字段, 不读取环境变量。
func ApplyDefaults(ptr any) {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		logger.Error("util.ApplyDefaults: ptr must be a non-nil pointer to struct")
		return
	}
	v := rv.Elem()
	t := v.Type()
	for i := range t.NumField() {
		def, ok := t.Field(i).Tag.Lookup("default")
		if !ok {
			continue
		}
		fv := v.Field(i)
		switch fv.Kind() {
		case reflect.String:
			fv.SetString(def)
		case reflect.Int, reflect.Int64:
			n, _ := strconv.ParseInt(def, 10, 64)
			fv.SetInt(n)
		case reflect.Bool:
			fv.SetBool(def == "true" || def == "1" || def == "yes")
		}
	}
}
