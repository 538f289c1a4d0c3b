package trialdriver

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfci/matchengine/internal/criterion"
	"github.com/dfci/matchengine/internal/evaluator"
	"github.com/dfci/matchengine/internal/model"
	"github.com/dfci/matchengine/internal/oncotree"
	"github.com/dfci/matchengine/internal/store"
	"github.com/dfci/matchengine/internal/vocab"
)

type fakeStore struct {
	trials       []model.Trial
	genomicRows  []model.GenomicRecord
	clinical     map[string]model.ClinicalRecord
	allSampleIDs []string

	replaced map[string][]model.TrialMatch
	written  []model.TrialMatch
}

func (f *fakeStore) AllSampleIDs(ctx context.Context) ([]string, error) { return f.allSampleIDs, nil }

func (f *fakeStore) FindClinicalSampleIDs(ctx context.Context, q criterion.Query) ([]string, error) {
	return f.allSampleIDs, nil
}

func (f *fakeStore) FindGenomicRows(ctx context.Context, q criterion.Query, projection []string) ([]model.GenomicRecord, error) {
	return f.genomicRows, nil
}

func (f *fakeStore) ClinicalBySampleID(ctx context.Context, sampleIDs []string) (map[string]model.ClinicalRecord, error) {
	return f.clinical, nil
}

func (f *fakeStore) Trials(ctx context.Context) ([]model.Trial, error) { return f.trials, nil }

func (f *fakeStore) ReplaceTrialMatches(ctx context.Context, protocolNo string, matches []model.TrialMatch) error {
	if f.replaced == nil {
		f.replaced = map[string][]model.TrialMatch{}
	}
	f.replaced[protocolNo] = matches
	return nil
}

func (f *fakeStore) AllTrialMatches(ctx context.Context) ([]model.TrialMatch, error) {
	var all []model.TrialMatch
	for _, ms := range f.replaced {
		all = append(all, ms...)
	}
	return all, nil
}

func (f *fakeStore) WriteRankedTrialMatches(ctx context.Context, ranked []model.TrialMatch) error {
	f.written = ranked
	return nil
}

func (f *fakeStore) Oncotree(ctx context.Context) ([]store.OncotreeRow, error) { return nil, nil }

func fixedNow() time.Time { return time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC) }

func TestDriverRunEvaluatesTrialAndRanks(t *testing.T) {
	s := &fakeStore{
		allSampleIDs: []string{"S1"},
		genomicRows: []model.GenomicRecord{
			{SampleID: "S1", HugoSymbol: "BRAF", ProteinChange: "p.V600E", VariantCategory: model.CategoryMutation, Tier: 1},
		},
		clinical: map[string]model.ClinicalRecord{
			"S1": {SampleID: "S1", MRN: "MRN1", VitalStatus: "alive"},
		},
		trials: []model.Trial{
			{
				ProtocolNo:         "19-001",
				CoordinatingCenter: "DFCI",
				SummaryStatus:      []model.StatusEntry{{Value: "open to accrual"}},
				Step: []model.Step{
					{
						StepInternalID: "step1",
						Match: []model.MatchPayload{
							{"genomic": map[string]any{
								"hugo_symbol": "BRAF", "variant_category": "Mutation", "protein_change": "p.V600E",
							}},
						},
					},
				},
			},
		},
	}

	tree, err := oncotree.New(nil, 4)
	require.NoError(t, err)
	ev := evaluator.New(s, vocab.Bootstrap(), tree, fixedNow)

	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	d := New(s, ev, logger, 2)

	err = d.Run(context.Background())
	require.NoError(t, err)

	require.Contains(t, s.replaced, "19-001")
	matches := s.replaced["19-001"]
	require.Len(t, matches, 1)
	assert.Equal(t, "S1", matches[0].SampleID)
	assert.Equal(t, "MRN1", matches[0].MRN)
	assert.Equal(t, "open", matches[0].TrialAccrualStatus)

	require.Len(t, s.written, 1)
	assert.Equal(t, 0, s.written[0].SortOrder)
}

func TestDriverArmSuspensionOverridesStatus(t *testing.T) {
	s := &fakeStore{
		allSampleIDs: []string{"S1"},
		genomicRows: []model.GenomicRecord{
			{SampleID: "S1", HugoSymbol: "TP53"},
		},
		clinical: map[string]model.ClinicalRecord{"S1": {SampleID: "S1", VitalStatus: "alive"}},
		trials: []model.Trial{
			{
				ProtocolNo:    "19-002",
				SummaryStatus: []model.StatusEntry{{Value: "open to accrual"}},
				Step: []model.Step{
					{
						StepInternalID: "step1",
						Arm: []model.Arm{
							{
								ArmInternalID: "arm1",
								ArmSuspended:  "Y",
								Match: []model.MatchPayload{
									{"genomic": map[string]any{"hugo_symbol": "TP53"}},
								},
							},
						},
					},
				},
			},
		},
	}

	tree, err := oncotree.New(nil, 4)
	require.NoError(t, err)
	ev := evaluator.New(s, vocab.Bootstrap(), tree, fixedNow)
	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	d := New(s, ev, logger, 1)

	require.NoError(t, d.Run(context.Background()))

	matches := s.replaced["19-002"]
	require.Len(t, matches, 1)
	assert.Equal(t, "closed", matches[0].TrialAccrualStatus)
}

func TestDriverThreadsDiagnosisLevelIntoTrialMatch(t *testing.T) {
	s := &fakeStore{
		allSampleIDs: []string{"S1"},
		genomicRows: []model.GenomicRecord{
			{SampleID: "S1", HugoSymbol: "BRAF", ProteinChange: "p.V600E", VariantCategory: model.CategoryMutation, Tier: 1},
		},
		clinical: map[string]model.ClinicalRecord{
			"S1": {SampleID: "S1", MRN: "MRN1", VitalStatus: "alive", OncotreePrimaryDiagnosis: "Lung Adenocarcinoma"},
		},
		trials: []model.Trial{
			{
				ProtocolNo:         "19-003",
				CoordinatingCenter: "DFCI",
				SummaryStatus:      []model.StatusEntry{{Value: "open to accrual"}},
				Step: []model.Step{
					{
						StepInternalID: "step1",
						Match: []model.MatchPayload{
							{
								"and": []any{
									map[string]any{"genomic": map[string]any{
										"hugo_symbol": "BRAF", "variant_category": "Mutation", "protein_change": "p.V600E",
									}},
									map[string]any{"clinical": map[string]any{
										"oncotree_primary_diagnosis": "Lung Adenocarcinoma",
									}},
								},
							},
						},
					},
				},
			},
		},
	}

	tree, err := oncotree.New([]oncotree.Node{{ID: 0, Text: "Lung Adenocarcinoma"}}, 4)
	require.NoError(t, err)
	ev := evaluator.New(s, vocab.Bootstrap(), tree, fixedNow)

	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	d := New(s, ev, logger, 1)

	require.NoError(t, d.Run(context.Background()))

	matches := s.replaced["19-003"]
	require.Len(t, matches, 1)
	assert.Equal(t, model.DiagnosisSpecific, matches[0].DiagnosisLevel)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
