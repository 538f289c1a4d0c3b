// Package evaluator implements post-order match-tree evaluation: the core
// algorithm of §4.6. At each leaf it compiles and runs a store query; at
// each junction it combines child result sets and evidence via set algebra.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/dfci/matchengine/internal/criterion"
	"github.com/dfci/matchengine/internal/evidence"
	"github.com/dfci/matchengine/internal/matchtree"
	"github.com/dfci/matchengine/internal/model"
	"github.com/dfci/matchengine/internal/oncotree"
	"github.com/dfci/matchengine/internal/store"
	"github.com/dfci/matchengine/internal/vocab"
)

// Result is the outcome of evaluating one match tree: the surviving sample
// ids and the evidence explaining each.
type Result struct {
	Samples  map[string]bool
	Evidence []model.Evidence
	// DiagnosisLevel is the most specific model.DiagnosisLevel contributed
	// by any clinical diagnosis leaf under this node, zero value if none.
	DiagnosisLevel model.DiagnosisLevel
}

// Evaluator holds the read-only shared state (vocabulary, oncotree) used to
// compile and run leaf criteria, plus the store facade leaves query
// against.
type Evaluator struct {
	Store    store.Store
	Vocab    *vocab.Map
	Oncotree *oncotree.Tree
	Now      func() time.Time
}

// New builds an Evaluator. now defaults to time.Now if nil.
func New(s store.Store, v *vocab.Map, tree *oncotree.Tree, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{Store: s, Vocab: v, Oncotree: tree, Now: now}
}

// Evaluate runs the post-order traversal of a match tree against the given
// universe of known sample ids.
func (e *Evaluator) Evaluate(ctx context.Context, root *matchtree.Node, all map[string]bool) (*Result, error) {
	return e.evalNode(ctx, root, all)
}

func (e *Evaluator) evalNode(ctx context.Context, n *matchtree.Node, all map[string]bool) (*Result, error) {
	switch n.Kind {
	case matchtree.KindClinical:
		return e.evalClinicalLeaf(ctx, n, all)
	case matchtree.KindGenomic:
		return e.evalGenomicLeaf(ctx, n, all)
	case matchtree.KindAnd, matchtree.KindOr:
		return e.evalJunction(ctx, n, all)
	default:
		return nil, fmt.Errorf("unrecognized match-tree node kind %d", n.Kind)
	}
}

func (e *Evaluator) evalClinicalLeaf(ctx context.Context, n *matchtree.Node, all map[string]bool) (*Result, error) {
	compiled, err := criterion.CompileClinical(n.Fields, e.Vocab, e.Oncotree, e.Now())
	if err != nil {
		return nil, err
	}

	if compiled.Query.Unsatisfiable {
		return &Result{Samples: map[string]bool{}}, nil
	}

	ids, err := e.Store.FindClinicalSampleIDs(ctx, compiled.Query)
	if err != nil {
		return nil, fmt.Errorf("clinical leaf query: %w", err)
	}

	samples := make(map[string]bool, len(ids))
	for _, id := range ids {
		samples[id] = true
	}

	// Clinical leaves never contribute genomic evidence.
	return &Result{Samples: samples, DiagnosisLevel: compiled.DiagnosisLevel}, nil
}

func (e *Evaluator) evalGenomicLeaf(ctx context.Context, n *matchtree.Node, all map[string]bool) (*Result, error) {
	compiled, err := criterion.CompileGenomic(n.Fields, e.Vocab)
	if err != nil {
		return nil, err
	}

	if compiled.Query.Unsatisfiable {
		return &Result{Samples: map[string]bool{}}, nil
	}

	rows, err := e.Store.FindGenomicRows(ctx, compiled.Query, compiled.Projection)
	if err != nil {
		return nil, fmt.Errorf("genomic leaf query: %w", err)
	}

	matched := make(map[string]bool, len(rows))
	for _, r := range rows {
		matched[r.SampleID] = true
	}

	if compiled.Inclusion {
		ev := make([]model.Evidence, 0, len(rows))
		for _, r := range rows {
			ev = append(ev, evidence.Format(r, compiled.Reason))
		}
		return &Result{Samples: matched, Evidence: ev}, nil
	}

	// Exclusion leaf: result = ALL \ matched, with synthesized negative
	// evidence for every surviving sample.
	description := evidence.DescribeCriterion(n.Fields)
	remaining := make(map[string]bool, len(all))
	ev := make([]model.Evidence, 0, len(all))
	for id := range all {
		if !matched[id] {
			remaining[id] = true
			ev = append(ev, evidence.FormatExclusion(id, compiled.Reason, description))
		}
	}
	return &Result{Samples: remaining, Evidence: ev}, nil
}

func (e *Evaluator) evalJunction(ctx context.Context, n *matchtree.Node, all map[string]bool) (*Result, error) {
	if len(n.Children) == 0 {
		return nil, fmt.Errorf("junction node has zero children")
	}

	childResults := make([]*Result, len(n.Children))
	for i, child := range n.Children {
		r, err := e.evalNode(ctx, child, all)
		if err != nil {
			return nil, err
		}
		childResults[i] = r
	}

	switch n.Kind {
	case matchtree.KindAnd:
		return combineAnd(childResults), nil
	case matchtree.KindOr:
		return combineOr(childResults), nil
	default:
		return nil, fmt.Errorf("unrecognized junction kind %d", n.Kind)
	}
}

func combineAnd(children []*Result) *Result {
	result := make(map[string]bool, len(children[0].Samples))
	for id := range children[0].Samples {
		result[id] = true
	}
	for _, c := range children[1:] {
		for id := range result {
			if !c.Samples[id] {
				delete(result, id)
			}
		}
	}

	seen := make(map[string]bool)
	var ev []model.Evidence
	for _, c := range children {
		for _, rec := range c.Evidence {
			if !result[rec.SampleID] {
				continue
			}
			key := rec.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			ev = append(ev, rec)
		}
	}

	return &Result{Samples: result, Evidence: ev, DiagnosisLevel: mostSpecificDiagnosisLevel(children)}
}

func combineOr(children []*Result) *Result {
	result := make(map[string]bool)
	for _, c := range children {
		for id := range c.Samples {
			result[id] = true
		}
	}

	seen := make(map[string]bool)
	var ev []model.Evidence
	for _, c := range children {
		for _, rec := range c.Evidence {
			if !result[rec.SampleID] {
				continue
			}
			key := rec.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			ev = append(ev, rec)
		}
	}

	return &Result{Samples: result, Evidence: ev, DiagnosisLevel: mostSpecificDiagnosisLevel(children)}
}

// diagnosisLevelRank orders model.DiagnosisLevel by specificity, matching
// the ranker's own bucket order: specific tightest, then _solid_/_liquid_,
// then no diagnosis criterion at all.
func diagnosisLevelRank(level model.DiagnosisLevel) int {
	switch level {
	case model.DiagnosisSpecific:
		return 0
	case model.DiagnosisSolid, model.DiagnosisLiquid:
		return 1
	default:
		return 2
	}
}

// mostSpecificDiagnosisLevel picks the tightest DiagnosisLevel contributed
// by any child, so a diagnosis criterion anywhere under an AND/OR junction
// still reaches the trial match it produces evidence for.
func mostSpecificDiagnosisLevel(children []*Result) model.DiagnosisLevel {
	best := model.DiagnosisLevel("")
	bestRank := diagnosisLevelRank(best)
	for _, c := range children {
		if r := diagnosisLevelRank(c.DiagnosisLevel); r < bestRank {
			bestRank = r
			best = c.DiagnosisLevel
		}
	}
	return best
}
