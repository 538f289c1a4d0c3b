package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dfci/matchengine/internal/model"
)

func TestRankTierOneBeatsGeneLevel(t *testing.T) {
	a := &model.TrialMatch{
		SampleID: "S", ProtocolNo: "19-001", VitalStatus: "alive", TrialAccrualStatus: "open",
		CoordinatingCenter: "DFCI", DiagnosisLevel: model.DiagnosisSpecific,
		Evidence: model.Evidence{MatchType: model.MatchVariant, Tier: 1},
	}
	b := &model.TrialMatch{
		SampleID: "S", ProtocolNo: "18-050", VitalStatus: "alive", TrialAccrualStatus: "open",
		CoordinatingCenter: "MGH", DiagnosisLevel: model.DiagnosisSpecific,
		Evidence: model.Evidence{MatchType: model.MatchGene},
	}

	recs := []*model.TrialMatch{a, b}
	Rank(recs)

	assert.Equal(t, 0, a.SortOrder)
	assert.Equal(t, 1, b.SortOrder)
}

func TestRankFiltersDeadSamples(t *testing.T) {
	a := &model.TrialMatch{SampleID: "S", ProtocolNo: "19-001", VitalStatus: "deceased", TrialAccrualStatus: "open"}
	recs := []*model.TrialMatch{a}
	Rank(recs)
	assert.Equal(t, FilteredRank, a.SortOrder)
}

func TestRankFiltersStructuralVariation(t *testing.T) {
	a := &model.TrialMatch{
		SampleID: "S", ProtocolNo: "19-001", VitalStatus: "alive", TrialAccrualStatus: "open",
		Evidence: model.Evidence{VariantCategory: model.CategorySV},
	}
	recs := []*model.TrialMatch{a}
	Rank(recs)
	assert.Equal(t, FilteredRank, a.SortOrder)
}

func TestRankReverseProtocolNumberDenseWithinSample(t *testing.T) {
	a := &model.TrialMatch{SampleID: "S", ProtocolNo: "19-001", VitalStatus: "alive", TrialAccrualStatus: "open"}
	b := &model.TrialMatch{SampleID: "S", ProtocolNo: "18-002", VitalStatus: "alive", TrialAccrualStatus: "open"}
	c := &model.TrialMatch{SampleID: "S", ProtocolNo: "20-003", VitalStatus: "alive", TrialAccrualStatus: "open"}

	recs := []*model.TrialMatch{a, b, c}
	Rank(recs)

	// all tied on the first four keys, so descending protocol-number
	// prefix breaks the tie: 20 < 19 < 18.
	assert.Equal(t, 0, c.SortOrder)
	assert.Equal(t, 1, a.SortOrder)
	assert.Equal(t, 2, b.SortOrder)
}

func TestRankNoDuplicateRanksPerSample(t *testing.T) {
	recs := []*model.TrialMatch{
		{SampleID: "S", ProtocolNo: "19-001", VitalStatus: "alive", TrialAccrualStatus: "open"},
		{SampleID: "S", ProtocolNo: "19-002", VitalStatus: "alive", TrialAccrualStatus: "open"},
		{SampleID: "S", ProtocolNo: "19-003", VitalStatus: "alive", TrialAccrualStatus: "open"},
	}
	Rank(recs)

	seen := map[int]bool{}
	for _, r := range recs {
		assert.False(t, seen[r.SortOrder])
		seen[r.SortOrder] = true
	}
}
