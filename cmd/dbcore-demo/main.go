// Command dbcore-demo wires pagestore, btree, catalog, exec, optimizer,
// and txnmgr together end to end: it builds two tables, inserts rows
// under a transaction, runs a filtered scan and a hash join through the
// rule-optimized plan, and prints the results.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kvrel/dbcore/internal/btree"
	"github.com/kvrel/dbcore/internal/catalog"
	"github.com/kvrel/dbcore/internal/exec"
	"github.com/kvrel/dbcore/internal/optimizer"
	"github.com/kvrel/dbcore/internal/pagestore"
	"github.com/kvrel/dbcore/internal/plan"
	"github.com/kvrel/dbcore/internal/txnmgr"
)

func main() {
	dbPath := flag.String("db", "dbcore-demo.db", "backing database file")
	flag.Parse()

	if err := run(*dbPath); err != nil {
		log.Fatalf("dbcore-demo: %v", err)
	}
}

func run(dbPath string) error {
	os.Remove(dbPath)
	cfg := catalog.DefaultConfig()
	cfg.DBPath = dbPath
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	pm, err := pagestore.Open(cfg.DBPath, cfg.BufferPoolPages)
	if err != nil {
		return fmt.Errorf("open pagestore: %w", err)
	}
	defer pm.Close()
	log.Printf("dbcore-demo: opened %s (instance %x)", cfg.DBPath, pm.InstanceID())

	cat := catalog.NewCatalog()
	locks := txnmgr.NewLockManager()
	tm := txnmgr.NewTxnManager(locks)

	users, err := createTable(pm, cat, cfg, "users", []catalog.Column{
		{ID: 0, Name: "id", Type: catalog.TypeInt64},
		{ID: 1, Name: "name", Type: catalog.TypeVarchar},
	}, 0, nil)
	if err != nil {
		return fmt.Errorf("create users: %w", err)
	}
	orders, err := createTable(pm, cat, cfg, "orders", []catalog.Column{
		{ID: 0, Name: "id", Type: catalog.TypeInt64},
		{ID: 1, Name: "user_id", Type: catalog.TypeInt64},
		{ID: 2, Name: "amount", Type: catalog.TypeFloat64},
	}, 0, []catalog.ForeignKey{{Column: 1, RefTable: "users", RefColumn: 0}})
	if err != nil {
		return fmt.Errorf("create orders: %w", err)
	}

	usersTable := exec.NewTable(users.schema, users.tree, locks)
	ordersTable := exec.NewTable(orders.schema, orders.tree, locks)
	tm.RegisterTable("users", usersTable.ModifyHandle())
	tm.RegisterTable("orders", ordersTable.ModifyHandle())
	reg := exec.TableRegistry{"users": usersTable, "orders": ordersTable}

	txn := tm.Begin()
	insertUsers := &plan.PlanNode{Kind: plan.NodeInsert, Table: "users", Schema: usersTable.OutputSchema(),
		InsertRows: [][]plan.Value{
			{intVal(catalog.TypeInt64, 1), strVal("Ada")},
			{intVal(catalog.TypeInt64, 2), strVal("Grace")},
		}}
	if err := runInsert(insertUsers, txn, reg); err != nil {
		return fmt.Errorf("insert users: %w", err)
	}
	insertOrders := &plan.PlanNode{Kind: plan.NodeInsert, Table: "orders", Schema: ordersTable.OutputSchema(),
		InsertRows: [][]plan.Value{
			{intVal(catalog.TypeInt64, 1), intVal(catalog.TypeInt64, 1), floatVal(19.99)},
			{intVal(catalog.TypeInt64, 2), intVal(catalog.TypeInt64, 1), floatVal(4.50)},
			{intVal(catalog.TypeInt64, 3), intVal(catalog.TypeInt64, 2), floatVal(99.00)},
		}}
	if err := runInsert(insertOrders, txn, reg); err != nil {
		return fmt.Errorf("insert orders: %w", err)
	}

	// An order referencing a nonexistent user must be rejected by the FK
	// checker Build wires in, without touching any row already inserted.
	badOrder := &plan.PlanNode{Kind: plan.NodeInsert, Table: "orders", Schema: ordersTable.OutputSchema(),
		InsertRows: [][]plan.Value{{intVal(catalog.TypeInt64, 99), intVal(catalog.TypeInt64, 404), floatVal(1.00)}}}
	if err := runInsert(badOrder, txn, reg); err == nil {
		return fmt.Errorf("expected foreign key violation for orphan order, got none")
	} else {
		log.Printf("dbcore-demo: rejected orphan order as expected: %v", err)
	}

	if err := tm.Commit(txn); err != nil {
		return fmt.Errorf("commit seed data: %w", err)
	}

	readTxn := tm.Begin()
	defer func() {
		if readTxn.State == txnmgr.StateGrowing || readTxn.State == txnmgr.StateShrinking {
			tm.Commit(readTxn)
		}
	}()

	joinPlan := &plan.PlanNode{
		Kind: plan.NodeJoin,
		Children: []*plan.PlanNode{
			{Kind: plan.NodeSeqScan, Table: "users", Schema: usersTable.OutputSchema()},
			{Kind: plan.NodeSeqScan, Table: "orders", Schema: ordersTable.OutputSchema()},
		},
		Schema: plan.Concat(usersTable.OutputSchema(), ordersTable.OutputSchema()),
		JoinPredicate: plan.Bin(plan.OpEq,
			plan.Col(0, catalog.TypeInt64),
			plan.Col(3, catalog.TypeInt64), // orders.user_id, post-concat column index
		),
	}
	optimized := optimizer.ApplyRules(joinPlan)

	joinExec, err := exec.Build(optimized, readTxn, reg)
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}
	if err := joinExec.Init(); err != nil {
		return fmt.Errorf("init join: %w", err)
	}

	fmt.Println("user_id, name, order_id, amount")
	for {
		row, err := joinExec.Next()
		if err != nil {
			return fmt.Errorf("next: %w", err)
		}
		if row == nil {
			break
		}
		r := *row
		fmt.Printf("%d, %s, %d, %.2f\n", r[0].Int, r[1].String, r[2].Int, r[4].Float)
	}
	if err := tm.Commit(readTxn); err != nil {
		return fmt.Errorf("commit read: %w", err)
	}

	// Deleting order 2 exercises NodeDelete's restrict check: orders has
	// no table referencing it, so the delete succeeds outright.
	delTxn := tm.Begin()
	deletePlan := &plan.PlanNode{
		Kind:  plan.NodeDelete,
		Table: "orders",
		Children: []*plan.PlanNode{
			{Kind: plan.NodeFilter, Schema: ordersTable.OutputSchema(),
				Predicate: plan.Bin(plan.OpEq, plan.Col(0, catalog.TypeInt64), plan.Lit(intVal(catalog.TypeInt64, 2))),
				Children:  []*plan.PlanNode{{Kind: plan.NodeSeqScan, Table: "orders", Schema: ordersTable.OutputSchema()}},
			},
		},
	}
	delExec, err := exec.Build(deletePlan, delTxn, reg)
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if err := delExec.Init(); err != nil {
		return fmt.Errorf("init delete: %w", err)
	}
	deleted := 0
	for {
		row, err := delExec.Next()
		if err != nil {
			return fmt.Errorf("delete next: %w", err)
		}
		if row == nil {
			break
		}
		deleted++
	}
	if err := tm.Commit(delTxn); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	log.Printf("dbcore-demo: deleted %d order(s)", deleted)
	return nil
}

// runInsert builds and fully drains an Insert executor for n within txn,
// the FK-checked write path every literal-row seed insert above goes
// through instead of the table's raw InsertRow.
func runInsert(n *plan.PlanNode, txn *txnmgr.Txn, reg exec.TableRegistry) error {
	ex, err := exec.Build(n, txn, reg)
	if err != nil {
		return err
	}
	if err := ex.Init(); err != nil {
		return err
	}
	for {
		row, err := ex.Next()
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
	}
}

type openTable struct {
	schema *catalog.Table
	tree   *btree.BPlusTree
}

func createTable(pm *pagestore.PageManager, cat *catalog.Catalog, cfg catalog.Config, name string, cols []catalog.Column, pk catalog.ColumnID, fks []catalog.ForeignKey) (*openTable, error) {
	metaH, err := pm.Allocate(pagestore.PageTypePlain)
	if err != nil {
		return nil, err
	}
	metaPgid := metaH.ID()
	metaH.Unpin()

	tree, err := btree.Create(pm, metaPgid, btree.BytesComparator)
	if err != nil {
		return nil, err
	}

	table := &catalog.Table{Name: name, Columns: cols, PrimaryKey: pk, ForeignKeys: fks, TreeMetaPg: uint32(metaPgid)}
	cat.Register(table, cfg)
	return &openTable{schema: table, tree: tree}, nil
}

func intVal(t catalog.ColumnType, v int64) plan.Value { return plan.Value{Type: t, Int: v} }
func floatVal(v float64) plan.Value                   { return plan.Value{Type: catalog.TypeFloat64, Float: v} }
func strVal(v string) plan.Value                      { return plan.Value{Type: catalog.TypeVarchar, String: v} }
