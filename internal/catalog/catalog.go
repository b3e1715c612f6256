// Package catalog 提供展示名查表: agent 名称、工具标签、报告产物类型。
//
// 默认表嵌入在二进制中, 可用外部 TOML 文件覆盖并热加载。
package catalog

import (
	_ "embed"
	"strings"
	"sync/atomic"

	"github.com/BurntSushi/toml"

	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
)

//go:embed catalog.toml
var defaultTOML string

// Tables 查表内容。
type Tables struct {
	DefaultArtifactType   string            `toml:"default_artifact_type"`
	Agents                map[string]string `toml:"agents"`
	Tools                 map[string]string `toml:"tools"`
	ReportTools           map[string]string `toml:"report_tools"`
	ReportTypes           map[string]string `toml:"report_types"`
	ResponseArtifactTypes map[string]string `toml:"response_artifact_types"`
}

// Catalog 并发安全的查表; 重新加载时整体替换。
type Catalog struct {
	tables atomic.Pointer[Tables]
	path   string
}

// Default 仅使用内置表。
func Default() *Catalog {
	c := &Catalog{}
	t, err := parse(defaultTOML)
	if err != nil {
		panic("catalog: embedded catalog.toml: " + err.Error())
	}
	c.tables.Store(t)
	return c
}

// Load 内置表 + path 指向的覆盖文件 (path 为空时只用内置表)。
func Load(path string) (*Catalog, error) {
	c := Default()
	c.path = path
	if path == "" {
		return c, nil
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path 覆盖文件路径。
func (c *Catalog) Path() string { return c.path }

// Reload 重新读取覆盖文件; 失败时保留现有表。
func (c *Catalog) Reload() error {
	base, err := parse(defaultTOML)
	if err != nil {
		return err
	}
	if c.path != "" {
		var override Tables
		if _, err := toml.DecodeFile(c.path, &override); err != nil {
			return apperrors.Wrapf(err, "Catalog.Reload", "decode %s", c.path)
		}
		base.merge(&override)
	}
	c.tables.Store(base)
	return nil
}

// Snapshot 当前表的只读视图。
func (c *Catalog) Snapshot() *Tables { return c.tables.Load() }

func parse(src string) (*Tables, error) {
	var t Tables
	if _, err := toml.Decode(src, &t); err != nil {
		return nil, apperrors.Wrap(err, "catalog.parse", "decode toml")
	}
	t.ensureMaps()
	return &t, nil
}

func (t *Tables) ensureMaps() {
	for _, m := range []*map[string]string{&t.Agents, &t.Tools, &t.ReportTools, &t.ReportTypes, &t.ResponseArtifactTypes} {
		if *m == nil {
			*m = map[string]string{}
		}
	}
}

func (t *Tables) merge(o *Tables) {
	if o.DefaultArtifactType != "" {
		t.DefaultArtifactType = o.DefaultArtifactType
	}
	mergeInto(t.Agents, o.Agents)
	mergeInto(t.Tools, o.Tools)
	mergeInto(t.ReportTools, o.ReportTools)
	mergeInto(t.ReportTypes, o.ReportTypes)
	mergeInto(t.ResponseArtifactTypes, o.ResponseArtifactTypes)
}

func mergeInto(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

// ========================================
// uistate.Labels 实现
// ========================================

// AgentName slug → 展示名; 未知 slug 返回空串, 由调用方回落。
func (c *Catalog) AgentName(slug string) string {
	return c.Snapshot().Agents[strings.TrimSpace(slug)]
}

// ToolLabel 工具名 → 进度标签。
func (c *Catalog) ToolLabel(tool string) string {
	return c.Snapshot().Tools[tool]
}

// ReportArtifactType 报告工具 → 产物类型。
func (c *Catalog) ReportArtifactType(tool string) (string, bool) {
	kind, ok := c.Snapshot().ReportTools[tool]
	return kind, ok
}

// ArtifactDisplayType report_type → 展示类型, 未知时使用默认类型。
func (c *Catalog) ArtifactDisplayType(reportType string) string {
	t := c.Snapshot()
	if kind, ok := t.ReportTypes[reportType]; ok {
		return kind
	}
	return t.DefaultArtifactType
}

// ResponseArtifactType response 产物类型映射, 未知时原样返回。
func (c *Catalog) ResponseArtifactType(raw string) string {
	if kind, ok := c.Snapshot().ResponseArtifactTypes[raw]; ok {
		return kind
	}
	return raw
}
