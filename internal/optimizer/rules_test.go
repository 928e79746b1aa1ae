package optimizer

import (
	"testing"

	"github.com/kvrel/dbcore/internal/catalog"
	"github.com/kvrel/dbcore/internal/plan"
)

func twoColSchema() plan.OutputSchema {
	return plan.OutputSchema{Columns: []catalog.Column{
		{ID: 0, Name: "id", Type: catalog.TypeInt64},
		{ID: 1, Name: "val", Type: catalog.TypeInt64},
	}}
}

func TestConvertToRangeScanExtractsBounds(t *testing.T) {
	scan := &plan.PlanNode{Kind: plan.NodeSeqScan, Table: "t", Schema: twoColSchema()}
	pred := plan.Bin(plan.OpGe, plan.Col(0, catalog.TypeInt64), plan.Lit(plan.Value{Type: catalog.TypeInt64, Int: 10}))
	filter := &plan.PlanNode{Kind: plan.NodeFilter, Children: []*plan.PlanNode{scan}, Schema: scan.Schema, Predicate: pred}

	out := ApplyRules(filter)
	if out.Kind != plan.NodeRangeScan {
		t.Fatalf("expected RangeScan, got %v", out.Kind)
	}
	if !out.Low.Present || !out.Low.Inclusive {
		t.Fatalf("expected inclusive low bound, got %+v", out.Low)
	}
	if out.High.Present {
		t.Fatalf("expected no high bound, got %+v", out.High)
	}
}

func TestConvertToRangeScanKeepsResidualFilter(t *testing.T) {
	scan := &plan.PlanNode{Kind: plan.NodeSeqScan, Table: "t", Schema: twoColSchema()}
	lowPred := plan.Bin(plan.OpGe, plan.Col(0, catalog.TypeInt64), plan.Lit(plan.Value{Type: catalog.TypeInt64, Int: 10}))
	otherPred := plan.Bin(plan.OpEq, plan.Col(1, catalog.TypeInt64), plan.Lit(plan.Value{Type: catalog.TypeInt64, Int: 5}))
	and := plan.Bin(plan.OpAnd, lowPred, otherPred)
	filter := &plan.PlanNode{Kind: plan.NodeFilter, Children: []*plan.PlanNode{scan}, Schema: scan.Schema, Predicate: and}

	out := ApplyRules(filter)
	if out.Kind != plan.NodeFilter {
		t.Fatalf("expected residual Filter over the RangeScan, got %v", out.Kind)
	}
	if out.Children[0].Kind != plan.NodeRangeScan {
		t.Fatalf("expected RangeScan child, got %v", out.Children[0].Kind)
	}
}

func TestConvertToHashJoinRecognizesEquiJoin(t *testing.T) {
	left := &plan.PlanNode{Kind: plan.NodeSeqScan, Table: "l", Schema: plan.OutputSchema{Columns: []catalog.Column{{ID: 0, Type: catalog.TypeInt64}}}}
	right := &plan.PlanNode{Kind: plan.NodeSeqScan, Table: "r", Schema: plan.OutputSchema{Columns: []catalog.Column{{ID: 0, Type: catalog.TypeInt64}}}}
	pred := plan.Bin(plan.OpEq, plan.Col(0, catalog.TypeInt64), plan.Col(1, catalog.TypeInt64))
	join := &plan.PlanNode{
		Kind: plan.NodeJoin, Children: []*plan.PlanNode{left, right},
		Schema: plan.Concat(left.Schema, right.Schema), JoinPredicate: pred,
	}

	out := ApplyRules(join)
	if out.Kind != plan.NodeHashJoin {
		t.Fatalf("expected HashJoin, got %v", out.Kind)
	}
	if len(out.LeftKeyExprs) != 1 || len(out.RightKeyExprs) != 1 {
		t.Fatalf("expected one key expr per side, got %d/%d", len(out.LeftKeyExprs), len(out.RightKeyExprs))
	}
	if out.LeftKeyExprs[0].ColumnID != 0 || out.RightKeyExprs[0].ColumnID != 0 {
		t.Fatalf("expected both key exprs rebased to column 0, got %d/%d", out.LeftKeyExprs[0].ColumnID, out.RightKeyExprs[0].ColumnID)
	}
}

func TestPushDownFilterSplitsAcrossJoinSides(t *testing.T) {
	left := &plan.PlanNode{Kind: plan.NodeSeqScan, Table: "l", Schema: plan.OutputSchema{Columns: []catalog.Column{{ID: 0, Type: catalog.TypeInt64}}}}
	right := &plan.PlanNode{Kind: plan.NodeSeqScan, Table: "r", Schema: plan.OutputSchema{Columns: []catalog.Column{{ID: 0, Type: catalog.TypeInt64}}}}
	joinPred := plan.Bin(plan.OpEq, plan.Col(0, catalog.TypeInt64), plan.Col(1, catalog.TypeInt64))
	join := &plan.PlanNode{
		Kind: plan.NodeJoin, Children: []*plan.PlanNode{left, right},
		Schema: plan.Concat(left.Schema, right.Schema), JoinPredicate: joinPred,
	}
	leftOnly := plan.Bin(plan.OpGt, plan.Col(0, catalog.TypeInt64), plan.Lit(plan.Value{Type: catalog.TypeInt64, Int: 3}))
	filter := &plan.PlanNode{Kind: plan.NodeFilter, Children: []*plan.PlanNode{join}, Schema: join.Schema, Predicate: leftOnly}

	out := ApplyRules(filter)
	// The left-only predicate should have migrated onto the left scan,
	// converting it into a RangeScan, leaving a bare HashJoin (or Join) on
	// top with no surviving Filter node.
	if out.Kind == plan.NodeFilter {
		t.Fatalf("expected the single-side predicate to be fully pushed down, got leftover Filter")
	}
}
