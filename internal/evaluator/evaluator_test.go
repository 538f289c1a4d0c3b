package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfci/matchengine/internal/criterion"
	"github.com/dfci/matchengine/internal/matchtree"
	"github.com/dfci/matchengine/internal/model"
	"github.com/dfci/matchengine/internal/oncotree"
	"github.com/dfci/matchengine/internal/store"
	"github.com/dfci/matchengine/internal/vocab"
)

type fakeStore struct {
	clinicalSampleIDs []string
	genomicRows       []model.GenomicRecord
}

func (f *fakeStore) AllSampleIDs(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeStore) FindClinicalSampleIDs(ctx context.Context, q criterion.Query) ([]string, error) {
	return f.clinicalSampleIDs, nil
}

func (f *fakeStore) FindGenomicRows(ctx context.Context, q criterion.Query, projection []string) ([]model.GenomicRecord, error) {
	return f.genomicRows, nil
}

func (f *fakeStore) ClinicalBySampleID(ctx context.Context, sampleIDs []string) (map[string]model.ClinicalRecord, error) {
	return nil, nil
}
func (f *fakeStore) Trials(ctx context.Context) ([]model.Trial, error) { return nil, nil }
func (f *fakeStore) ReplaceTrialMatches(ctx context.Context, protocolNo string, matches []model.TrialMatch) error {
	return nil
}
func (f *fakeStore) AllTrialMatches(ctx context.Context) ([]model.TrialMatch, error) { return nil, nil }
func (f *fakeStore) WriteRankedTrialMatches(ctx context.Context, ranked []model.TrialMatch) error {
	return nil
}
func (f *fakeStore) Oncotree(ctx context.Context) ([]store.OncotreeRow, error) { return nil, nil }

func fixedNow() time.Time { return time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC) }

func TestEvaluateVariantMatchAND(t *testing.T) {
	s := &fakeStore{
		genomicRows: []model.GenomicRecord{
			{SampleID: "S1", HugoSymbol: "BRAF", ProteinChange: "p.V600E", VariantCategory: model.CategoryMutation, Tier: 1},
		},
		clinicalSampleIDs: []string{"S1"},
	}
	tr, err := oncotree.New([]oncotree.Node{{ID: 0, Text: "Lung Adenocarcinoma"}}, 4)
	require.NoError(t, err)
	ev := New(s, vocab.Bootstrap(), tr, fixedNow)

	root, err := matchtree.Build([]model.MatchPayload{
		{
			"and": []any{
				map[string]any{"genomic": map[string]any{
					"hugo_symbol": "BRAF", "variant_category": "Mutation", "protein_change": "p.V600E",
				}},
				map[string]any{"clinical": map[string]any{
					"age_numerical": ">=18", "oncotree_primary_diagnosis": "Lung Adenocarcinoma",
				}},
			},
		},
	})
	require.NoError(t, err)

	all := map[string]bool{"S1": true}
	result, err := ev.Evaluate(context.Background(), root, all)
	require.NoError(t, err)

	assert.True(t, result.Samples["S1"])
	require.Len(t, result.Evidence, 1)
	assert.Equal(t, model.MatchVariant, result.Evidence[0].MatchType)
	assert.Equal(t, "BRAF p.V600E", result.Evidence[0].GenomicAlteration)
	assert.Equal(t, model.DiagnosisSpecific, result.DiagnosisLevel)
}

func TestEvaluateExclusionLeaf(t *testing.T) {
	s := &fakeStore{
		genomicRows: []model.GenomicRecord{
			{SampleID: "S1", HugoSymbol: "BRAF", ProteinChange: "p.V600E", VariantCategory: model.CategoryMutation},
		},
	}
	tr, err := oncotree.New(nil, 4)
	require.NoError(t, err)
	ev := New(s, vocab.Bootstrap(), tr, fixedNow)

	root, err := matchtree.Build([]model.MatchPayload{
		{"genomic": map[string]any{
			"hugo_symbol": "BRAF", "variant_category": "!Mutation", "protein_change": "p.V600E",
		}},
	})
	require.NoError(t, err)

	all := map[string]bool{"S1": true, "S2": true}
	result, err := ev.Evaluate(context.Background(), root, all)
	require.NoError(t, err)

	assert.False(t, result.Samples["S1"])
	assert.True(t, result.Samples["S2"])
}

func TestCombineORUnionsAndDedups(t *testing.T) {
	a := &Result{Samples: map[string]bool{"S1": true}, Evidence: []model.Evidence{{SampleID: "S1", GenomicAlteration: "X"}}}
	b := &Result{Samples: map[string]bool{"S2": true}, Evidence: []model.Evidence{{SampleID: "S2", GenomicAlteration: "Y"}}}

	r := combineOr([]*Result{a, b})
	assert.True(t, r.Samples["S1"])
	assert.True(t, r.Samples["S2"])
	assert.Len(t, r.Evidence, 2)
}

func TestCombineANDDedupsEqualEvidenceKeepingFirstChild(t *testing.T) {
	a := &Result{
		Samples:  map[string]bool{"S1": true},
		Evidence: []model.Evidence{{SampleID: "S1", GenomicAlteration: "BRAF p.V600E", MatchType: model.MatchVariant}},
	}
	b := &Result{
		Samples:  map[string]bool{"S1": true},
		Evidence: []model.Evidence{{SampleID: "S1", GenomicAlteration: "BRAF p.V600E", MatchType: model.MatchVariant}},
	}

	r := combineAnd([]*Result{a, b})
	require.Len(t, r.Evidence, 1)
	assert.Equal(t, "BRAF p.V600E", r.Evidence[0].GenomicAlteration)
}

func TestCombineANDPropagatesMostSpecificDiagnosisLevel(t *testing.T) {
	genomic := &Result{Samples: map[string]bool{"S1": true}}
	clinical := &Result{Samples: map[string]bool{"S1": true}, DiagnosisLevel: model.DiagnosisSpecific}

	r := combineAnd([]*Result{genomic, clinical})
	assert.Equal(t, model.DiagnosisSpecific, r.DiagnosisLevel)
}

func TestCombineORPrefersSpecificOverSolidLiquid(t *testing.T) {
	a := &Result{Samples: map[string]bool{"S1": true}, DiagnosisLevel: model.DiagnosisSolid}
	b := &Result{Samples: map[string]bool{"S2": true}, DiagnosisLevel: model.DiagnosisSpecific}

	r := combineOr([]*Result{a, b})
	assert.Equal(t, model.DiagnosisSpecific, r.DiagnosisLevel)
}

func TestCombineANDWithNoDiagnosisLeafLeavesLevelEmpty(t *testing.T) {
	a := &Result{Samples: map[string]bool{"S1": true}}
	b := &Result{Samples: map[string]bool{"S1": true}}

	r := combineAnd([]*Result{a, b})
	assert.Equal(t, model.DiagnosisLevel(""), r.DiagnosisLevel)
}

func TestCombineANDKeepsDistinctEvidencePerSample(t *testing.T) {
	a := &Result{
		Samples:  map[string]bool{"S1": true},
		Evidence: []model.Evidence{{SampleID: "S1", GenomicAlteration: "first"}},
	}
	b := &Result{
		Samples:  map[string]bool{"S1": true},
		Evidence: []model.Evidence{{SampleID: "S1", GenomicAlteration: "second"}},
	}

	r := combineAnd([]*Result{a, b})
	require.Len(t, r.Evidence, 2)
}
