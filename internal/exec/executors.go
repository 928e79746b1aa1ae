package exec

import (
	"sort"

	"github.com/kvrel/dbcore/internal/catalog"
	"github.com/kvrel/dbcore/internal/dberrors"
	"github.com/kvrel/dbcore/internal/plan"
	"github.com/kvrel/dbcore/internal/txnmgr"
)

// SeqScan walks an entire table in key order, the leaf operator every
// other operator ultimately pulls from absent a usable range predicate
// (spec.md §4.4).
type SeqScan struct {
	table  *Table
	txn    *txnmgr.Txn
	schema plan.OutputSchema
	it     *rowIterator
}

func NewSeqScan(table *Table, txn *txnmgr.Txn) *SeqScan {
	return &SeqScan{table: table, txn: txn, schema: table.OutputSchema()}
}

func (s *SeqScan) Schema() plan.OutputSchema { return s.schema }

func (s *SeqScan) Init() error {
	it, err := s.table.newIterator(s.txn, plan.RangeBound{}, plan.RangeBound{})
	if err != nil {
		return err
	}
	s.it = it
	return nil
}

func (s *SeqScan) Next() (*Tuple, error) {
	row, err := s.it.next()
	if err != nil || row == nil {
		return nil, err
	}
	return &row, nil
}

// RangeScan walks only the [Low, High] slice of key order the optimizer's
// ConvertToRangeScan rule carves out of a SeqScan + Filter pair.
type RangeScan struct {
	table      *Table
	txn        *txnmgr.Txn
	low, high  plan.RangeBound
	schema     plan.OutputSchema
	it         *rowIterator
}

func NewRangeScan(table *Table, txn *txnmgr.Txn, low, high plan.RangeBound) *RangeScan {
	return &RangeScan{table: table, txn: txn, low: low, high: high, schema: table.OutputSchema()}
}

func (s *RangeScan) Schema() plan.OutputSchema { return s.schema }

func (s *RangeScan) Init() error {
	it, err := s.table.newIterator(s.txn, s.low, s.high)
	if err != nil {
		return err
	}
	s.it = it
	return nil
}

func (s *RangeScan) Next() (*Tuple, error) {
	row, err := s.it.next()
	if err != nil || row == nil {
		return nil, err
	}
	return &row, nil
}

// Filter drops child rows whose predicate doesn't evaluate truthy.
type Filter struct {
	child     Executor
	predicate *plan.Expr
}

func NewFilter(child Executor, predicate *plan.Expr) *Filter {
	return &Filter{child: child, predicate: predicate}
}

func (f *Filter) Schema() plan.OutputSchema { return f.child.Schema() }

func (f *Filter) Init() error { return f.child.Init() }

func (f *Filter) Next() (*Tuple, error) {
	for {
		row, err := f.child.Next()
		if err != nil || row == nil {
			return nil, err
		}
		v, err := Evaluate(f.predicate, *row)
		if err != nil {
			return nil, err
		}
		if v.IsTruthy() {
			return row, nil
		}
	}
}

// Project evaluates exprs against each child row, reshaping it.
type Project struct {
	child  Executor
	exprs  []*plan.Expr
	schema plan.OutputSchema
}

func NewProject(child Executor, exprs []*plan.Expr, schema plan.OutputSchema) *Project {
	return &Project{child: child, exprs: exprs, schema: schema}
}

func (p *Project) Schema() plan.OutputSchema { return p.schema }

func (p *Project) Init() error { return p.child.Init() }

func (p *Project) Next() (*Tuple, error) {
	row, err := p.child.Next()
	if err != nil || row == nil {
		return nil, err
	}
	out := make(Tuple, len(p.exprs))
	for i, e := range p.exprs {
		v, err := Evaluate(e, *row)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return &out, nil
}

// NestedLoopJoin materializes its left child once, then for each left row
// rescans the right child from the start, concatenating and filtering
// through an optional residual predicate. Used when neither side offers
// an equality predicate the optimizer can turn into a HashJoin.
type NestedLoopJoin struct {
	left, right  Executor
	predicate    *plan.Expr
	schema       plan.OutputSchema
	leftRows     []*Tuple
	leftIdx      int
	rightOpen    bool
}

func NewNestedLoopJoin(left, right Executor, predicate *plan.Expr) *NestedLoopJoin {
	return &NestedLoopJoin{
		left: left, right: right, predicate: predicate,
		schema: plan.Concat(left.Schema(), right.Schema()),
	}
}

func (j *NestedLoopJoin) Schema() plan.OutputSchema { return j.schema }

func (j *NestedLoopJoin) Init() error {
	if err := j.left.Init(); err != nil {
		return err
	}
	for {
		row, err := j.left.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		j.leftRows = append(j.leftRows, row)
	}
	return j.right.Init()
}

func (j *NestedLoopJoin) Next() (*Tuple, error) {
	for j.leftIdx < len(j.leftRows) {
		for {
			rightRow, err := j.right.Next()
			if err != nil {
				return nil, err
			}
			if rightRow == nil {
				break
			}
			out := Concat(*j.leftRows[j.leftIdx], *rightRow)
			if j.predicate != nil {
				v, err := Evaluate(j.predicate, out)
				if err != nil {
					return nil, err
				}
				if !v.IsTruthy() {
					continue
				}
			}
			return &out, nil
		}
		j.leftIdx++
		if j.leftIdx < len(j.leftRows) {
			if err := j.right.Init(); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

// HashJoin probes a hash index over the build (left) side's key
// expressions against the probe (right) side's, per spec.md §4.4's
// equi-join operator. SPEC_FULL §5 resolves the open question of when
// the index is built in favor of lazily building it on the first Next()
// call rather than eagerly in Init(), so a HashJoin whose build side
// turns out empty never pays for a hash table it won't use.
type HashJoin struct {
	left, right      Executor
	leftKeys         []*plan.Expr
	rightKeys        []*plan.Expr
	predicate        *plan.Expr
	schema           plan.OutputSchema
	build            TupleStore
	index            map[string][]*Tuple
	built            bool
	currentMatches   []*Tuple
	matchIdx         int
	currentRightRow  *Tuple
}

func NewHashJoin(left, right Executor, leftKeys, rightKeys []*plan.Expr, predicate *plan.Expr) *HashJoin {
	return &HashJoin{
		left: left, right: right, leftKeys: leftKeys, rightKeys: rightKeys, predicate: predicate,
		schema: plan.Concat(left.Schema(), right.Schema()),
	}
}

func (j *HashJoin) Schema() plan.OutputSchema { return j.schema }

// Init materializes the build (left) side into a TupleStore, per
// original_source/src/execution/hashjoin_executor.hpp; the hash index
// itself is only built lazily, on the first Next() call.
func (j *HashJoin) Init() error {
	if err := j.left.Init(); err != nil {
		return err
	}
	for {
		row, err := j.left.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		j.build.Append(*row)
	}
	return j.right.Init()
}

func (j *HashJoin) buildIndex() error {
	j.index = make(map[string][]*Tuple)
	for _, row := range j.build.All() {
		key, err := hashKey(j.leftKeys, *row)
		if err != nil {
			return err
		}
		j.index[key] = append(j.index[key], row)
	}
	j.built = true
	return nil
}

func hashKey(exprs []*plan.Expr, row Tuple) (string, error) {
	var key []byte
	for _, e := range exprs {
		v, err := Evaluate(e, row)
		if err != nil {
			return "", err
		}
		key = append(key, byte(v.Type))
		key = append(key, ValueKey(v)...)
		key = append(key, 0)
	}
	return string(key), nil
}

func (j *HashJoin) Next() (*Tuple, error) {
	if !j.built {
		if err := j.buildIndex(); err != nil {
			return nil, err
		}
	}
	for {
		for j.matchIdx < len(j.currentMatches) {
			leftRow := j.currentMatches[j.matchIdx]
			j.matchIdx++
			out := Concat(*leftRow, *j.currentRightRow)
			if j.predicate != nil {
				v, err := Evaluate(j.predicate, out)
				if err != nil {
					return nil, err
				}
				if !v.IsTruthy() {
					continue
				}
			}
			return &out, nil
		}
		rightRow, err := j.right.Next()
		if err != nil {
			return nil, err
		}
		if rightRow == nil {
			return nil, nil
		}
		key, err := hashKey(j.rightKeys, *rightRow)
		if err != nil {
			return nil, err
		}
		j.currentMatches = j.index[key]
		j.matchIdx = 0
		j.currentRightRow = rightRow
	}
}

// Aggregate groups child rows by GroupBy expressions and evaluates Aggs
// over each group, emitting one output row per group that passes Having
// (if present). Materializes fully in Init() since grouping requires
// seeing every row before any group is final.
type Aggregate struct {
	child   Executor
	groupBy []*plan.Expr
	aggs    []plan.AggExpr
	having  *plan.Expr
	schema  plan.OutputSchema

	rows []Tuple
	pos  int
}

func NewAggregate(child Executor, groupBy []*plan.Expr, aggs []plan.AggExpr, having *plan.Expr, schema plan.OutputSchema) *Aggregate {
	return &Aggregate{child: child, groupBy: groupBy, aggs: aggs, having: having, schema: schema}
}

func (a *Aggregate) Schema() plan.OutputSchema { return a.schema }

type aggState struct {
	keyRow Tuple
	count  int64
	sums   []float64
	mins   []plan.Value
	maxs   []plan.Value
	seen   []bool
}

func (a *Aggregate) Init() error {
	if err := a.child.Init(); err != nil {
		return err
	}
	groups := make(map[string]*aggState)
	var order []string
	for {
		row, err := a.child.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		keyRow := make(Tuple, len(a.groupBy))
		for i, e := range a.groupBy {
			v, err := Evaluate(e, *row)
			if err != nil {
				return err
			}
			keyRow[i] = v
		}
		key, err := hashKey(a.groupBy, *row)
		if err != nil {
			return err
		}
		st, ok := groups[key]
		if !ok {
			st = &aggState{
				keyRow: keyRow,
				sums:   make([]float64, len(a.aggs)),
				mins:   make([]plan.Value, len(a.aggs)),
				maxs:   make([]plan.Value, len(a.aggs)),
				seen:   make([]bool, len(a.aggs)),
			}
			groups[key] = st
			order = append(order, key)
		}
		st.count++
		for i, ag := range a.aggs {
			if ag.Input == nil {
				continue // COUNT(*), no per-row value needed
			}
			v, err := Evaluate(ag.Input, *row)
			if err != nil {
				return err
			}
			if v.Null {
				continue
			}
			f := asFloat(v)
			st.sums[i] += f
			if !st.seen[i] || compareValues(v, st.mins[i]) < 0 {
				st.mins[i] = v
			}
			if !st.seen[i] || compareValues(v, st.maxs[i]) > 0 {
				st.maxs[i] = v
			}
			st.seen[i] = true
		}
	}

	for _, key := range order {
		st := groups[key]
		out := make(Tuple, 0, len(a.groupBy)+len(a.aggs))
		out = append(out, st.keyRow...)
		for i, ag := range a.aggs {
			switch ag.Kind {
			case plan.AggCount:
				out = append(out, plan.Value{Type: catalog.TypeInt64, Int: st.count})
			case plan.AggSum:
				out = append(out, plan.Value{Type: catalog.TypeFloat64, Float: st.sums[i]})
			case plan.AggAvg:
				avg := 0.0
				if st.count > 0 {
					avg = st.sums[i] / float64(st.count)
				}
				out = append(out, plan.Value{Type: catalog.TypeFloat64, Float: avg})
			case plan.AggMin:
				out = append(out, st.mins[i])
			case plan.AggMax:
				out = append(out, st.maxs[i])
			}
		}
		if a.having != nil {
			v, err := Evaluate(a.having, out)
			if err != nil {
				return err
			}
			if !v.IsTruthy() {
				continue
			}
		}
		a.rows = append(a.rows, out)
	}
	return nil
}

func (a *Aggregate) Next() (*Tuple, error) {
	if a.pos >= len(a.rows) {
		return nil, nil
	}
	row := a.rows[a.pos]
	a.pos++
	return &row, nil
}

// Order materializes its child and sorts by OrderKeys, a stable sort so
// ties preserve the child's emission order (spec.md §9's ORDER BY tiebreak
// open question, resolved toward determinism).
type Order struct {
	child  Executor
	keys   []plan.OrderKey
	rows   []Tuple
	pos    int
}

func NewOrder(child Executor, keys []plan.OrderKey) *Order {
	return &Order{child: child, keys: keys}
}

func (o *Order) Schema() plan.OutputSchema { return o.child.Schema() }

func (o *Order) Init() error {
	if err := o.child.Init(); err != nil {
		return err
	}
	for {
		row, err := o.child.Next()
		if err != nil {
			return err
		}
		if row == nil {
			break
		}
		o.rows = append(o.rows, *row)
	}
	sort.SliceStable(o.rows, func(i, j int) bool {
		for _, k := range o.keys {
			cmp := compareValues(o.rows[i][k.ColumnID], o.rows[j][k.ColumnID])
			if cmp == 0 {
				continue
			}
			if k.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

func (o *Order) Next() (*Tuple, error) {
	if o.pos >= len(o.rows) {
		return nil, nil
	}
	row := o.rows[o.pos]
	o.pos++
	return &row, nil
}

// Limit skips Offset child rows and then emits at most Limit (Limit < 0
// means unbounded).
type Limit struct {
	child        Executor
	limit        int64
	offset       int64
	skipped      int64
	emitted      int64
}

func NewLimit(child Executor, limit, offset int64) *Limit {
	return &Limit{child: child, limit: limit, offset: offset}
}

func (l *Limit) Schema() plan.OutputSchema { return l.child.Schema() }

func (l *Limit) Init() error { return l.child.Init() }

func (l *Limit) Next() (*Tuple, error) {
	if l.limit >= 0 && l.emitted >= l.limit {
		return nil, nil
	}
	for l.skipped < l.offset {
		row, err := l.child.Next()
		if err != nil || row == nil {
			return nil, err
		}
		l.skipped++
	}
	row, err := l.child.Next()
	if err != nil || row == nil {
		return nil, err
	}
	l.emitted++
	return row, nil
}

// Distinct suppresses duplicate rows (by full-row value equality), using
// a set of encoded row keys the way the spec's hash/CMS machinery already
// encodes values elsewhere.
type Distinct struct {
	child Executor
	seen  map[string]bool
}

func NewDistinct(child Executor) *Distinct {
	return &Distinct{child: child, seen: make(map[string]bool)}
}

func (d *Distinct) Schema() plan.OutputSchema { return d.child.Schema() }

func (d *Distinct) Init() error { return d.child.Init() }

func (d *Distinct) Next() (*Tuple, error) {
	for {
		row, err := d.child.Next()
		if err != nil || row == nil {
			return nil, err
		}
		key := rowKey(*row)
		if d.seen[key] {
			continue
		}
		d.seen[key] = true
		return row, nil
	}
}

func rowKey(row Tuple) string {
	var key []byte
	for _, v := range row {
		if v.Null {
			key = append(key, 0xff)
			continue
		}
		key = append(key, byte(v.Type))
		key = append(key, ValueKey(v)...)
		key = append(key, 0)
	}
	return string(key)
}

// Values emits a fixed list of literal rows — the source Insert's child
// uses when the plan carries literal rows directly rather than a SeqScan
// subplan, i.e. a bare INSERT with no SELECT feeding it.
type Values struct {
	rows   []Tuple
	schema plan.OutputSchema
	pos    int
}

func NewValues(rows []Tuple, schema plan.OutputSchema) *Values {
	return &Values{rows: rows, schema: schema}
}

func (v *Values) Schema() plan.OutputSchema { return v.schema }

func (v *Values) Init() error { v.pos = 0; return nil }

func (v *Values) Next() (*Tuple, error) {
	if v.pos >= len(v.rows) {
		return nil, nil
	}
	row := v.rows[v.pos]
	v.pos++
	return &row, nil
}

// Insert applies an FK checker and optional auto-increment PK assignment
// to each child row before routing it through the table's lock-aware
// modify path, per spec.md §4.4. Emits each inserted row as it goes.
type Insert struct {
	child     Executor
	table     *Table
	txn       *txnmgr.Txn
	fkCheck   func(Tuple) error
	nextPK    int64
	autoIncPK bool
}

func NewInsert(child Executor, table *Table, txn *txnmgr.Txn, fkCheck func(Tuple) error) *Insert {
	return &Insert{child: child, table: table, txn: txn, fkCheck: fkCheck, autoIncPK: table.schema.AutoIncPK}
}

func (ins *Insert) Schema() plan.OutputSchema { return ins.table.OutputSchema() }

func (ins *Insert) Init() error { return ins.child.Init() }

func (ins *Insert) Next() (*Tuple, error) {
	row, err := ins.child.Next()
	if err != nil || row == nil {
		return nil, err
	}
	out := row.Clone()
	if ins.autoIncPK {
		ins.nextPK++
		out[ins.table.schema.PrimaryKey] = plan.Value{Type: catalog.TypeInt64, Int: ins.nextPK}
	}
	if ins.fkCheck != nil {
		if err := ins.fkCheck(out); err != nil {
			return nil, err
		}
	}
	if err := ins.table.InsertRow(ins.txn, out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes every row its child yields from table, by primary key,
// after an optional restrict-on-delete check (the PKChecker half of
// original_source/src/execution/executor.cpp's symmetric
// FKChecker/PKChecker wiring for DeletePlanNode: a row cannot be removed
// while some other table still holds a child row referencing it).
type Delete struct {
	child   Executor
	table   *Table
	txn     *txnmgr.Txn
	fkCheck func(Tuple) error
}

func NewDelete(child Executor, table *Table, txn *txnmgr.Txn, fkCheck func(Tuple) error) *Delete {
	return &Delete{child: child, table: table, txn: txn, fkCheck: fkCheck}
}

func (d *Delete) Schema() plan.OutputSchema { return d.table.OutputSchema() }

func (d *Delete) Init() error { return d.child.Init() }

func (d *Delete) Next() (*Tuple, error) {
	row, err := d.child.Next()
	if err != nil || row == nil {
		return nil, err
	}
	if d.fkCheck != nil {
		if err := d.fkCheck(*row); err != nil {
			return nil, err
		}
	}
	key := d.table.PrimaryKeyBytes(*row)
	ok, err := d.table.DeleteRow(d.txn, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dberrors.Wrap(dberrors.IntegrityError, "exec: delete target vanished for table %q", d.table.Name())
	}
	return row, nil
}
