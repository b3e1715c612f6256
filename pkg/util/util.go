// Package util 提供通用工具函数: 环境变量加载、数值钳制、任意值转换。
package util

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
)

// ToMapAny 将任意值转为 map[string]any。
//
// 已经是 map[string]any 则直接返回 (零分配)。
// 否则通过 json marshal+unmarshal 转换，失败返回 nil。
func ToMapAny(v any) map[string]any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
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
func EnvInt(name string, def, min int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return max(def, min)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return max(def, min)
	}
	return max(v, min)
}

// EnvBool 读取布尔环境变量，无效时返回 def。
// 接受: 1/true/yes/on → true, 0/false/no/off → false。
func EnvBool(name string, def bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(name))) {
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
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// EnvDuration 读取时长环境变量 ("30s"/"2m"); 纯数字按秒解析。
func EnvDuration(name string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

var durationType = reflect.TypeOf(time.Duration(0))

// LoadFromEnv 通过反射从 struct tag 加载环境变量。
//
// 支持的 tag:
//   - env:"VAR_NAME"  环境变量名
//   - default:"value"  默认值
//   - min:"N"  最小值 (int)
//
// 支持的字段类型: string, int, bool, time.Duration, []string (逗号分隔)。
func LoadFromEnv(ptr any) error {
	rv := reflect.ValueOf(ptr)
	if ptr == nil || rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "util.LoadFromEnv", "ptr must be a non-nil pointer to struct")
	}
	v := rv.Elem()
	t := v.Type()

	for i := range t.NumField() {
		field := t.Field(i)
		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		def := field.Tag.Get("default")
		fv := v.Field(i)

		switch {
		case field.Type == durationType:
			defDur, err := time.ParseDuration(def)
			if def != "" && err != nil {
				return apperrors.Wrapf(err, "util.LoadFromEnv", "field %s: bad default %q", field.Name, def)
			}
			fv.SetInt(int64(EnvDuration(envName, defDur)))

		case field.Type.Kind() == reflect.String:
			fv.SetString(EnvStr(envName, def))

		case field.Type.Kind() == reflect.Int:
			defInt, _ := strconv.Atoi(def)
			minInt := math.MinInt32
			if minStr := field.Tag.Get("min"); minStr != "" {
				minInt, _ = strconv.Atoi(minStr)
			}
			fv.SetInt(int64(EnvInt(envName, defInt, minInt)))

		case field.Type.Kind() == reflect.Bool:
			fv.SetBool(EnvBool(envName, def == "true" || def == "1" || def == "yes"))

		case field.Type.Kind() == reflect.Slice && field.Type.Elem().Kind() == reflect.String:
			fv.Set(reflect.ValueOf(SplitList(EnvStr(envName, def))))

		default:
			return apperrors.Newf("util.LoadFromEnv", "field %s: unsupported type %s", field.Name, field.Type)
		}
	}
	return nil
}

// SplitList 按逗号切分并去除空白项。
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Truncate 截断到 n 个字节以内, 超出部分以 "..." 结尾。
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return fmt.Sprintf("%s...", s[:n-3])
}
