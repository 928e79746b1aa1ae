package exec

import (
	"testing"

	"github.com/kvrel/dbcore/internal/catalog"
	"github.com/kvrel/dbcore/internal/plan"
	"github.com/kvrel/dbcore/internal/txnmgr"
)

func ordersSchema() []catalog.Column {
	return []catalog.Column{
		{ID: 0, Name: "id", Type: catalog.TypeInt64},
		{ID: 1, Name: "w", Type: catalog.TypeVarchar},
	}
}

func seedRows(t *testing.T, tm *txnmgr.TxnManager, table *Table, rows []Tuple) {
	t.Helper()
	txn := tm.Begin()
	for _, r := range rows {
		if err := table.InsertRow(txn, r); err != nil {
			t.Fatalf("InsertRow: %v", err)
		}
	}
	if err := tm.Commit(txn); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func drainExec(t *testing.T, ex Executor) []Tuple {
	t.Helper()
	if err := ex.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var out []Tuple
	for {
		row, err := ex.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if row == nil {
			return out
		}
		out = append(out, *row)
	}
}

// TestHashJoinScenario exercises spec.md §8 scenario #3: L(id,v) =
// {(1,"a"),(2,"b"),(3,"c")}, R(id,w) = {(2,"x"),(3,"y"),(4,"z")}, joined on
// L.id = R.id, expecting {(2,"b","x"),(3,"c","y")}.
func TestHashJoinScenario(t *testing.T) {
	locks, tm := newTxnEnv(t)
	l := newTestTable(t, "l", usersSchema(), 0, locks)
	r := newTestTable(t, "r", ordersSchema(), 0, locks)
	tm.RegisterTable("l", l.ModifyHandle())
	tm.RegisterTable("r", r.ModifyHandle())

	seedRows(t, tm, l, []Tuple{
		{intV(1), strV("a")},
		{intV(2), strV("b")},
		{intV(3), strV("c")},
	})
	seedRows(t, tm, r, []Tuple{
		{intV(2), strV("x")},
		{intV(3), strV("y")},
		{intV(4), strV("z")},
	})

	readTxn := tm.Begin()
	left := NewSeqScan(l, readTxn)
	right := NewSeqScan(r, readTxn)
	leftKeys := []*plan.Expr{plan.Col(0, catalog.TypeInt64)}
	rightKeys := []*plan.Expr{plan.Col(0, catalog.TypeInt64)}
	hj := NewHashJoin(left, right, leftKeys, rightKeys, nil)

	rows := drainExec(t, hj)
	tm.Commit(readTxn)

	if len(rows) != 2 {
		t.Fatalf("got %d joined rows, want 2: %+v", len(rows), rows)
	}
	got := map[int64]string{}
	for _, row := range rows {
		got[row[0].Int] = row[1].String + "," + row[3].String
	}
	if got[2] != "b,x" {
		t.Fatalf("row for id=2: got %q, want \"b,x\"", got[2])
	}
	if got[3] != "c,y" {
		t.Fatalf("row for id=3: got %q, want \"c,y\"", got[3])
	}
}

func TestNestedLoopJoinPredicate(t *testing.T) {
	locks, tm := newTxnEnv(t)
	l := newTestTable(t, "l", usersSchema(), 0, locks)
	r := newTestTable(t, "r", ordersSchema(), 0, locks)
	tm.RegisterTable("l", l.ModifyHandle())
	tm.RegisterTable("r", r.ModifyHandle())

	seedRows(t, tm, l, []Tuple{{intV(1), strV("a")}, {intV(2), strV("b")}})
	seedRows(t, tm, r, []Tuple{{intV(2), strV("x")}, {intV(3), strV("y")}})

	readTxn := tm.Begin()
	pred := plan.Bin(plan.OpEq, plan.Col(0, catalog.TypeInt64), plan.Col(2, catalog.TypeInt64))
	nlj := NewNestedLoopJoin(NewSeqScan(l, readTxn), NewSeqScan(r, readTxn), pred)
	rows := drainExec(t, nlj)
	tm.Commit(readTxn)

	if len(rows) != 1 || rows[0][0].Int != 2 || rows[0][3].String != "x" {
		t.Fatalf("nested loop join = %+v, want single row (2,b,2,x)", rows)
	}
}

func TestAggregateGroupCountSum(t *testing.T) {
	locks, tm := newTxnEnv(t)
	orders := newTestTable(t, "orders", []catalog.Column{
		{ID: 0, Name: "id", Type: catalog.TypeInt64},
		{ID: 1, Name: "user_id", Type: catalog.TypeInt64},
		{ID: 2, Name: "amount", Type: catalog.TypeFloat64},
	}, 0, locks)
	tm.RegisterTable("orders", orders.ModifyHandle())

	seedRows(t, tm, orders, []Tuple{
		{intV(1), intV(1), plan.Value{Type: catalog.TypeFloat64, Float: 10}},
		{intV(2), intV(1), plan.Value{Type: catalog.TypeFloat64, Float: 5}},
		{intV(3), intV(2), plan.Value{Type: catalog.TypeFloat64, Float: 99}},
	})

	readTxn := tm.Begin()
	groupBy := []*plan.Expr{plan.Col(1, catalog.TypeInt64)}
	aggs := []plan.AggExpr{
		{Kind: plan.AggCount},
		{Kind: plan.AggSum, Input: plan.Col(2, catalog.TypeFloat64)},
	}
	schema := plan.OutputSchema{Columns: []catalog.Column{
		{ID: 0, Name: "user_id", Type: catalog.TypeInt64},
		{ID: 1, Name: "n", Type: catalog.TypeInt64},
		{ID: 2, Name: "total", Type: catalog.TypeFloat64},
	}}
	agg := NewAggregate(NewSeqScan(orders, readTxn), groupBy, aggs, nil, schema)
	rows := drainExec(t, agg)
	tm.Commit(readTxn)

	if len(rows) != 2 {
		t.Fatalf("got %d groups, want 2: %+v", len(rows), rows)
	}
	byUser := map[int64][2]float64{}
	for _, row := range rows {
		byUser[row[0].Int] = [2]float64{float64(row[1].Int), row[2].Float}
	}
	if byUser[1][0] != 2 || byUser[1][1] != 15 {
		t.Fatalf("user 1 group = %v, want count=2 sum=15", byUser[1])
	}
	if byUser[2][0] != 1 || byUser[2][1] != 99 {
		t.Fatalf("user 2 group = %v, want count=1 sum=99", byUser[2])
	}
}

func TestAggregateHavingFilters(t *testing.T) {
	locks, tm := newTxnEnv(t)
	orders := newTestTable(t, "orders", []catalog.Column{
		{ID: 0, Name: "id", Type: catalog.TypeInt64},
		{ID: 1, Name: "user_id", Type: catalog.TypeInt64},
	}, 0, locks)
	tm.RegisterTable("orders", orders.ModifyHandle())
	seedRows(t, tm, orders, []Tuple{
		{intV(1), intV(1)}, {intV(2), intV(1)}, {intV(3), intV(2)},
	})

	readTxn := tm.Begin()
	groupBy := []*plan.Expr{plan.Col(1, catalog.TypeInt64)}
	aggs := []plan.AggExpr{{Kind: plan.AggCount}}
	schema := plan.OutputSchema{Columns: []catalog.Column{
		{ID: 0, Name: "user_id", Type: catalog.TypeInt64},
		{ID: 1, Name: "n", Type: catalog.TypeInt64},
	}}
	having := plan.Bin(plan.OpGe, plan.Col(1, catalog.TypeInt64), plan.Lit(plan.Value{Type: catalog.TypeInt64, Int: 2}))
	agg := NewAggregate(NewSeqScan(orders, readTxn), groupBy, aggs, having, schema)
	rows := drainExec(t, agg)
	tm.Commit(readTxn)

	if len(rows) != 1 || rows[0][0].Int != 1 || rows[0][1].Int != 2 {
		t.Fatalf("HAVING n>=2 = %+v, want single row (1,2)", rows)
	}
}

func TestOrderStableSortDescending(t *testing.T) {
	locks, tm := newTxnEnv(t)
	users := newTestTable(t, "users", usersSchema(), 0, locks)
	tm.RegisterTable("users", users.ModifyHandle())
	seedRows(t, tm, users, []Tuple{
		{intV(1), strV("a")}, {intV(2), strV("b")}, {intV(3), strV("c")},
	})

	readTxn := tm.Begin()
	order := NewOrder(NewSeqScan(users, readTxn), []plan.OrderKey{{ColumnID: 0, Descending: true}})
	rows := drainExec(t, order)
	tm.Commit(readTxn)

	if len(rows) != 3 || rows[0][0].Int != 3 || rows[1][0].Int != 2 || rows[2][0].Int != 1 {
		t.Fatalf("descending order = %+v", rows)
	}
}

func TestLimitOffset(t *testing.T) {
	locks, tm := newTxnEnv(t)
	users := newTestTable(t, "users", usersSchema(), 0, locks)
	tm.RegisterTable("users", users.ModifyHandle())
	seedRows(t, tm, users, []Tuple{
		{intV(1), strV("a")}, {intV(2), strV("b")}, {intV(3), strV("c")}, {intV(4), strV("d")},
	})

	readTxn := tm.Begin()
	lim := NewLimit(NewSeqScan(users, readTxn), 2, 1)
	rows := drainExec(t, lim)
	tm.Commit(readTxn)

	if len(rows) != 2 || rows[0][0].Int != 2 || rows[1][0].Int != 3 {
		t.Fatalf("limit 2 offset 1 = %+v, want ids [2 3]", rows)
	}
}

func TestDistinctSuppressesDuplicates(t *testing.T) {
	locks, tm := newTxnEnv(t)
	orders := newTestTable(t, "orders", []catalog.Column{
		{ID: 0, Name: "id", Type: catalog.TypeInt64},
		{ID: 1, Name: "user_id", Type: catalog.TypeInt64},
	}, 0, locks)
	tm.RegisterTable("orders", orders.ModifyHandle())
	seedRows(t, tm, orders, []Tuple{
		{intV(1), intV(1)}, {intV(2), intV(1)}, {intV(3), intV(2)},
	})

	readTxn := tm.Begin()
	proj := NewProject(NewSeqScan(orders, readTxn), []*plan.Expr{plan.Col(1, catalog.TypeInt64)},
		plan.OutputSchema{Columns: []catalog.Column{{ID: 0, Name: "user_id", Type: catalog.TypeInt64}}})
	distinct := NewDistinct(proj)
	rows := drainExec(t, distinct)
	tm.Commit(readTxn)

	if len(rows) != 2 {
		t.Fatalf("distinct user_id = %+v, want 2 rows", rows)
	}
}

// TestRollbackScenario exercises spec.md §8 scenario #6: begin txn, insert
// ("x","1"), update ("x","2"), delete ("x"), abort — final state: key "x"
// absent, no other change.
func TestRollbackScenario(t *testing.T) {
	locks, tm := newTxnEnv(t)
	table := newTestTable(t, "kv", usersSchema(), 0, locks)
	tm.RegisterTable("kv", table.ModifyHandle())

	seedRows(t, tm, table, []Tuple{{intV(100), strV("untouched")}})

	txn := tm.Begin()
	if err := table.InsertRow(txn, Tuple{intV(1), strV("x1")}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	key := table.PrimaryKeyBytes(Tuple{intV(1), strV("")})
	if ok, err := table.UpdateRow(txn, key, Tuple{intV(1), strV("x2")}); err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	if ok, err := table.DeleteRow(txn, key); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if err := tm.Abort(txn); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	readTxn := tm.Begin()
	scan := NewSeqScan(table, readTxn)
	rows := drainExec(t, scan)
	tm.Commit(readTxn)

	if len(rows) != 1 || rows[0][0].Int != 100 {
		t.Fatalf("after abort, want only the untouched row, got %+v", rows)
	}
}

// TestBuildInsertRejectsOrphanForeignKey exercises Build's NodeInsert wiring:
// the FK checker it constructs from catalog.Table.ForeignKeys must refuse an
// orders row referencing a user that does not exist, and leave no trace.
func TestBuildInsertRejectsOrphanForeignKey(t *testing.T) {
	locks, tm := newTxnEnv(t)
	users := newTestTable(t, "users", usersSchema(), 0, locks)
	orders := newTestTableWithFKs(t, "orders", []catalog.Column{
		{ID: 0, Name: "id", Type: catalog.TypeInt64},
		{ID: 1, Name: "user_id", Type: catalog.TypeInt64},
	}, 0, locks, []catalog.ForeignKey{{Column: 1, RefTable: "users", RefColumn: 0}})
	tm.RegisterTable("users", users.ModifyHandle())
	tm.RegisterTable("orders", orders.ModifyHandle())
	reg := TableRegistry{"users": users, "orders": orders}

	seedRows(t, tm, users, []Tuple{{intV(1), strV("Ada")}})

	txn := tm.Begin()
	insertPlan := &plan.PlanNode{
		Kind: plan.NodeInsert, Table: "orders",
		InsertRows: [][]plan.Value{{intV(1), intV(404)}},
	}
	ex, err := Build(insertPlan, txn, reg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := ex.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := ex.Next(); err == nil {
		t.Fatal("expected foreign key violation, got none")
	}
	tm.Abort(txn)

	readTxn := tm.Begin()
	rows := drainExec(t, NewSeqScan(orders, readTxn))
	tm.Commit(readTxn)
	if len(rows) != 0 {
		t.Fatalf("orphan insert left rows behind: %+v", rows)
	}
}

// TestBuildInsertAcceptsValidForeignKey mirrors the rejection case with a
// user that does exist, confirming Build's FK checker isn't just vacuously
// failing closed.
func TestBuildInsertAcceptsValidForeignKey(t *testing.T) {
	locks, tm := newTxnEnv(t)
	users := newTestTable(t, "users", usersSchema(), 0, locks)
	orders := newTestTableWithFKs(t, "orders", []catalog.Column{
		{ID: 0, Name: "id", Type: catalog.TypeInt64},
		{ID: 1, Name: "user_id", Type: catalog.TypeInt64},
	}, 0, locks, []catalog.ForeignKey{{Column: 1, RefTable: "users", RefColumn: 0}})
	tm.RegisterTable("users", users.ModifyHandle())
	tm.RegisterTable("orders", orders.ModifyHandle())
	reg := TableRegistry{"users": users, "orders": orders}

	seedRows(t, tm, users, []Tuple{{intV(1), strV("Ada")}})

	txn := tm.Begin()
	insertPlan := &plan.PlanNode{
		Kind: plan.NodeInsert, Table: "orders",
		InsertRows: [][]plan.Value{{intV(1), intV(1)}},
	}
	ex, err := Build(insertPlan, txn, reg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rows := drainExec(t, ex)
	if err := tm.Commit(txn); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected the valid order to insert, got %+v", rows)
	}
}

// TestBuildDeleteRestrictsReferencedRow exercises the restrict-on-delete
// closure Build wires for NodeDelete: a user still referenced by an order
// cannot be deleted.
func TestBuildDeleteRestrictsReferencedRow(t *testing.T) {
	locks, tm := newTxnEnv(t)
	users := newTestTable(t, "users", usersSchema(), 0, locks)
	orders := newTestTableWithFKs(t, "orders", []catalog.Column{
		{ID: 0, Name: "id", Type: catalog.TypeInt64},
		{ID: 1, Name: "user_id", Type: catalog.TypeInt64},
	}, 0, locks, []catalog.ForeignKey{{Column: 1, RefTable: "users", RefColumn: 0}})
	tm.RegisterTable("users", users.ModifyHandle())
	tm.RegisterTable("orders", orders.ModifyHandle())
	reg := TableRegistry{"users": users, "orders": orders}

	seedRows(t, tm, users, []Tuple{{intV(1), strV("Ada")}})
	seedRows(t, tm, orders, []Tuple{{intV(1), intV(1)}})

	txn := tm.Begin()
	deletePlan := &plan.PlanNode{
		Kind: plan.NodeDelete, Table: "users",
		Children: []*plan.PlanNode{{Kind: plan.NodeSeqScan, Table: "users", Schema: users.OutputSchema()}},
	}
	ex, err := Build(deletePlan, txn, reg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := ex.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := ex.Next(); err == nil {
		t.Fatal("expected restrict-on-delete violation, got none")
	}
	tm.Abort(txn)
}

func newTestTableWithFKs(t *testing.T, name string, cols []catalog.Column, pk catalog.ColumnID, locks *txnmgr.LockManager, fks []catalog.ForeignKey) *Table {
	t.Helper()
	table := newTestTable(t, name, cols, pk, locks)
	table.schema.ForeignKeys = fks
	return table
}
