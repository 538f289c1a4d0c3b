// Package rank computes the five-key lexicographic sort order described in
// §4.9: for each (sample_id, protocol_no) pair surviving the alive/open/
// no-structural-variation filter, a vector is built and compared
// lexicographically ascending; the position in that ordering is the rank
// written back to every trial-match record for the pair.
package rank

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dfci/matchengine/internal/model"
)

// FilteredRank is the sentinel rank for records that do not meet the
// ranking filter.
const FilteredRank = -1

type vector struct {
	tierBucket     int
	matchTypeLevel int
	diagnosisLevel int
	center         int
	protocolNo     string
}

func tierBucket(m *model.TrialMatch) int {
	if m.Evidence.Signature != nil && m.Evidence.Signature.HasAnySignature() {
		return 0
	}
	if m.Evidence.VariantCategory == model.CategoryCNV {
		return 3
	}
	if m.Evidence.Wildtype {
		return 6
	}
	switch m.Evidence.Tier {
	case 1:
		return 1
	case 2:
		return 2
	case 3:
		return 4
	case 4:
		return 5
	default:
		return 7
	}
}

func matchTypeLevel(mt model.MatchType) int {
	switch mt {
	case model.MatchVariant:
		return 0
	case model.MatchWildcard:
		return 1
	case model.MatchExon:
		return 2
	case model.MatchGene:
		return 3
	default:
		return 4
	}
}

func diagnosisLevel(level model.DiagnosisLevel) int {
	switch level {
	case model.DiagnosisSpecific:
		return 0
	case model.DiagnosisSolid, model.DiagnosisLiquid:
		return 1
	default:
		return 2
	}
}

func coordinatingCenterBucket(center string) int {
	if strings.EqualFold(center, "DFCI") {
		return 0
	}
	return 1
}

// protocolPrefix extracts the integer prefix of protocol_no before its
// first "-", for the reverse-protocol-number sort key.
func protocolPrefix(protocolNo string) int {
	idx := strings.IndexByte(protocolNo, '-')
	head := protocolNo
	if idx >= 0 {
		head = protocolNo[:idx]
	}
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return n
}

func passesFilter(m *model.TrialMatch) bool {
	return m.VitalStatus == "alive" &&
		m.TrialAccrualStatus == "open" &&
		m.Evidence.VariantCategory != model.CategorySV
}

// Rank assigns a SortOrder to every record in recs, mutating in place.
// Records are grouped by SampleID; within a sample, distinct protocol_no
// pairs are ranked by the five-key vector, best (lowest) first, densely
// numbered from 0. Records failing the filter get FilteredRank.
func Rank(recs []*model.TrialMatch) {
	bySample := make(map[string][]*model.TrialMatch)
	for _, m := range recs {
		if !passesFilter(m) {
			m.SortOrder = FilteredRank
			continue
		}
		bySample[m.SampleID] = append(bySample[m.SampleID], m)
	}

	for _, group := range bySample {
		rankSample(group)
	}
}

func rankSample(recs []*model.TrialMatch) {
	// Group by protocol_no: a (sample, trial) pair may have several
	// evidence-bearing records; the pair's vector takes the best
	// (lowest) value in each slot across its records.
	byProtocol := make(map[string][]*model.TrialMatch)
	for _, r := range recs {
		byProtocol[r.ProtocolNo] = append(byProtocol[r.ProtocolNo], r)
	}

	type pair struct {
		protocolNo string
		vec        vector
		records    []*model.TrialMatch
	}

	pairs := make([]pair, 0, len(byProtocol))
	for protocolNo, group := range byProtocol {
		vec := vector{
			tierBucket:     7,
			matchTypeLevel: 4,
			diagnosisLevel: 2,
			center:         1,
			protocolNo:     protocolNo,
		}
		for _, r := range group {
			if tb := tierBucket(r); tb < vec.tierBucket {
				vec.tierBucket = tb
			}
			if ml := matchTypeLevel(r.Evidence.MatchType); ml < vec.matchTypeLevel {
				vec.matchTypeLevel = ml
			}
			if dl := diagnosisLevel(r.DiagnosisLevel); dl < vec.diagnosisLevel {
				vec.diagnosisLevel = dl
			}
			if cc := coordinatingCenterBucket(r.CoordinatingCenter); cc < vec.center {
				vec.center = cc
			}
		}
		pairs = append(pairs, pair{protocolNo: protocolNo, vec: vec, records: group})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		a, b := pairs[i].vec, pairs[j].vec
		if a.tierBucket != b.tierBucket {
			return a.tierBucket < b.tierBucket
		}
		if a.matchTypeLevel != b.matchTypeLevel {
			return a.matchTypeLevel < b.matchTypeLevel
		}
		if a.diagnosisLevel != b.diagnosisLevel {
			return a.diagnosisLevel < b.diagnosisLevel
		}
		if a.center != b.center {
			return a.center < b.center
		}
		// Reverse protocol number: higher integer prefix ranks first.
		return protocolPrefix(a.protocolNo) > protocolPrefix(b.protocolNo)
	})

	for i, p := range pairs {
		for _, r := range p.records {
			r.SortOrder = i
		}
	}
}
