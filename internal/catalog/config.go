// Package catalog holds table schemas and the read-only, build-once
// per-column statistics (Count-Min Sketch, HyperLogLog, min/max, distinct
// rate) the optimizer's cardinality estimator reads at query time. It is
// also home to Config, the one piece of top-level wiring the engine needs
// that spec.md leaves as "build-time constants": buffer pool size, the
// database file path, and the CMS/HLL parameters, loaded from YAML the same
// way the teacher loads fixture/config data.
//
// What: Config (YAML-backed engine configuration), Schema/Column (table
// metadata, FK/PK), Stats (CMS + HLL + min/max + distinct rate per column).
// How: plain structs decoded by gopkg.in/yaml.v3; Catalog is a mutex-
// guarded map of table name to *Table, mirroring the teacher's
// CatalogManager (sync.RWMutex over map[string]*CatalogTable).
// Why: statistics are built once by an external sampling/load pass and are
// read-only at query time (spec.md §3); Catalog only needs to serve
// concurrent readers safely, never to recompute anything.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the engine's top-level, build-once configuration: everything
// spec.md §6 calls a "build-time constant" promoted to a field per §9's
// open question ("expose them as configuration").
type Config struct {
	// DBPath is the backing file PageManager opens.
	DBPath string `yaml:"db_path"`
	// BufferPoolPages is the fixed buffer pool capacity, in pages (>= 2).
	BufferPoolPages int `yaml:"buffer_pool_pages"`
	// PageSize is carried for documentation; pagestore.PageSize is the
	// actual compiled-in constant (4096) and this field must match it.
	PageSize int `yaml:"page_size"`
	// CMSWidth / CMSDepth size every column's Count-Min Sketch.
	CMSWidth int `yaml:"cms_width"`
	CMSDepth int `yaml:"cms_depth"`
	// HLLBuckets sizes every column's HyperLogLog counter (spec.md
	// suggests 1024).
	HLLBuckets int `yaml:"hll_buckets"`
}

// DefaultConfig returns the suggested constants from spec.md §4.5/§6: CMS
// sized 4x its width-vs-depth ratio, 1024 HLL buckets, a modest buffer
// pool.
func DefaultConfig() Config {
	return Config{
		DBPath:          "dbcore.db",
		BufferPoolPages: 64,
		PageSize:        4096,
		CMSWidth:        2048,
		CMSDepth:        4,
		HLLBuckets:      1024,
	}
}

// LoadConfig reads a YAML configuration file, defaulting any zero-valued
// field from DefaultConfig so a partial file (e.g. just db_path) is valid.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("catalog: read config %s: %w", path, err)
	}
	var partial Config
	if err := yaml.Unmarshal(buf, &partial); err != nil {
		return Config{}, fmt.Errorf("catalog: parse config %s: %w", path, err)
	}
	applyOverride(&cfg.DBPath, partial.DBPath)
	applyIntOverride(&cfg.BufferPoolPages, partial.BufferPoolPages)
	applyIntOverride(&cfg.PageSize, partial.PageSize)
	applyIntOverride(&cfg.CMSWidth, partial.CMSWidth)
	applyIntOverride(&cfg.CMSDepth, partial.CMSDepth)
	applyIntOverride(&cfg.HLLBuckets, partial.HLLBuckets)
	return cfg, nil
}

func applyOverride(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyIntOverride(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// Validate checks the configuration is usable by PageManager and the
// statistics layer.
func (c Config) Validate() error {
	if c.BufferPoolPages < 2 {
		return fmt.Errorf("catalog: buffer_pool_pages must be >= 2, got %d", c.BufferPoolPages)
	}
	if c.PageSize != 4096 {
		return fmt.Errorf("catalog: page_size must be 4096 (fixed by pagestore), got %d", c.PageSize)
	}
	if c.CMSWidth <= 0 || c.CMSDepth <= 0 {
		return fmt.Errorf("catalog: cms_width/cms_depth must be positive, got %d/%d", c.CMSWidth, c.CMSDepth)
	}
	if c.HLLBuckets <= 0 || c.HLLBuckets&(c.HLLBuckets-1) != 0 {
		return fmt.Errorf("catalog: hll_buckets must be a positive power of two, got %d", c.HLLBuckets)
	}
	return nil
}
