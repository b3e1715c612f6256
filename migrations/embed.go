// Package migrations 内嵌 PostgreSQL schema 脚本。
package migrations

import "embed"

// FS 根目录下的 *.sql 按文件名顺序执行。
//
//go:embed *.sql
var FS embed.FS
