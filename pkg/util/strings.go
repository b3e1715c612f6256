// strings.go — 字段回退选择。
package util

import "strings"

// FirstNonEmpty 按优先级返回第一个 trim 后非空的值, 全部为空时返回 ""。
//
// 上游事件同一含义常出现在多个字段 (message_id / turn id, note 参数 / 顶层 note),
// 调用方按优先级依次传入。
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
