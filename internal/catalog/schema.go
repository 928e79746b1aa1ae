package catalog

import (
	"sync"

	"github.com/kvrel/dbcore/internal/dberrors"
)

// ColumnType enumerates the scalar types spec.md §6 lists for
// OutputSchema column descriptors.
type ColumnType uint8

const (
	TypeEmpty ColumnType = iota
	TypeInt32
	TypeInt64
	TypeFloat64
	TypeChar
	TypeVarchar
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt32:
		return "INT32"
	case TypeInt64:
		return "INT64"
	case TypeFloat64:
		return "FLOAT64"
	case TypeChar:
		return "CHAR"
	case TypeVarchar:
		return "VARCHAR"
	default:
		return "EMPTY"
	}
}

// IsNumeric reports whether t participates in numeric range estimation
// and numeric comparison.
func (t ColumnType) IsNumeric() bool {
	return t == TypeInt32 || t == TypeInt64 || t == TypeFloat64
}

// ColumnID is a column's position within its table, 0-based.
type ColumnID uint32

// Column describes one column of a table: its id, name, and declared
// type, matching spec.md §6's OutputSchema column descriptor.
type Column struct {
	ID   ColumnID
	Name string
	Type ColumnType
}

// ForeignKey names a column in this table that must match an existing key
// in a referenced table's primary key.
type ForeignKey struct {
	Column    ColumnID
	RefTable  string
	RefColumn ColumnID
}

// Table is one table's schema plus FK/PK metadata and its root B+-tree
// location (the pgid of its treeMeta, kept wherever the super page's
// layout points it — Catalog only remembers the mapping, not the bytes).
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  ColumnID
	AutoIncPK   bool // PK value is assigned by Insert, not supplied
	ForeignKeys []ForeignKey
	TreeMetaPg  uint32 // pagestore.PageID of this table's B+-tree meta
	Stats       *TableStats
}

// ColumnByID returns the column descriptor for id, or false if out of
// range.
func (t *Table) ColumnByID(id ColumnID) (Column, bool) {
	if int(id) < 0 || int(id) >= len(t.Columns) {
		return Column{}, false
	}
	return t.Columns[id], true
}

// ColumnByName looks up a column by (case-sensitive) name.
func (t *Table) ColumnByName(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Catalog is the mutex-guarded registry of table schemas + statistics,
// mirroring the teacher's CatalogManager (sync.RWMutex over a
// map[string]*CatalogTable) but narrowed to what the optimizer and
// executors actually consult: schema shape and read-only stats, not
// introspection views or job scheduling.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tables: make(map[string]*Table)}
}

// Register adds or replaces a table's schema. Stats, if nil, default to
// an empty TableStats built with the given config's CMS/HLL parameters so
// the optimizer never has to special-case a stats-free table.
func (c *Catalog) Register(t *Table, cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Stats == nil {
		t.Stats = NewTableStats(t, cfg)
	}
	c.tables = cloneTables(c.tables)
	c.tables[t.Name] = t
}

func cloneTables(m map[string]*Table) map[string]*Table {
	out := make(map[string]*Table, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Table returns the schema for name, or a CatalogError-wrapped error if
// unknown.
func (c *Catalog) Table(name string) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return nil, dberrors.Wrap(dberrors.CatalogError, "catalog: unknown table %q", name)
	}
	return t, nil
}

// Tables returns every registered table, in no particular order.
func (c *Catalog) Tables() []*Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	return out
}
