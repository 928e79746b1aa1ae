package catalog

import (
	"errors"
	"testing"

	"github.com/kvrel/dbcore/internal/dberrors"
)

func TestCatalogRegisterAndLookup(t *testing.T) {
	c := NewCatalog()
	tbl := &Table{
		Name: "users",
		Columns: []Column{
			{ID: 0, Name: "id", Type: TypeInt64},
			{ID: 1, Name: "name", Type: TypeVarchar},
		},
		PrimaryKey: 0,
	}
	c.Register(tbl, DefaultConfig())

	got, err := c.Table("users")
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if got.Stats == nil {
		t.Fatal("expected auto-built stats")
	}
	if col, ok := got.ColumnByName("name"); !ok || col.ID != 1 {
		t.Fatalf("ColumnByName(name) = %+v, %v", col, ok)
	}
}

func TestCatalogUnknownTable(t *testing.T) {
	c := NewCatalog()
	_, err := c.Table("nope")
	if !errors.Is(err, dberrors.CatalogError) {
		t.Fatalf("expected CatalogError, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate: %v", err)
	}
	bad := cfg
	bad.BufferPoolPages = 1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for buffer_pool_pages < 2")
	}
}
