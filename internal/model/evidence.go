package model

// MatchType is the granularity at which a genomic leaf matched.
type MatchType string

const (
	MatchVariant      MatchType = "variant"
	MatchWildcard     MatchType = "wildcard"
	MatchExon         MatchType = "exon"
	MatchVariantClass MatchType = "variant_class"
	MatchGene         MatchType = "gene"
)

// Evidence explains "sample S matched leaf L because of row R". CLINICAL
// leaves produce no Evidence records; they only narrow the sample set.
type Evidence struct {
	SampleID           string
	MatchType          MatchType
	GenomicAlteration  string
	HugoSymbol         string
	ProteinChange      string
	VariantClass       string
	VariantCategory    VariantCategory
	CNVCall            string
	Wildtype           bool
	Chromosome         string
	Position           int64
	CDNAChange         string
	ReferenceAllele    string
	TranscriptExon     string
	CanonicalStrand    string
	AlleleFraction     float64
	Tier               int
	ClinicalID         string
	GenomicID          string
	Signature          *SignaturePanel
	// Negated is true when this evidence came from an exclusion leaf; the
	// genomic fields above are then empty and GenomicAlteration describes
	// the negated trial criterion instead of a matched row.
	Negated bool
}

// Key returns a value suitable for deduplicating evidence records: two
// records with the same key are considered the same tuple.
func (e Evidence) Key() string {
	return e.SampleID + "|" + string(e.MatchType) + "|" + e.GenomicAlteration + "|" +
		e.HugoSymbol + "|" + e.ProteinChange + "|" + e.CNVCall
}

// DiagnosisLevel classifies how specific the clinical diagnosis match was,
// used by the C9 ranker.
type DiagnosisLevel string

const (
	DiagnosisSpecific DiagnosisLevel = "specific"
	DiagnosisSolid    DiagnosisLevel = "_solid_"
	DiagnosisLiquid   DiagnosisLevel = "_liquid_"
)

// TrialMatch is one emitted output record: a (sample, trial-node) pairing
// with its evidence and ranking inputs.
type TrialMatch struct {
	ID                 string
	SampleID           string
	MRN                string
	ProtocolNo         string
	NCTID              string
	MatchLevel         string // step, arm, dose
	InternalID         string
	Code               string
	TrialAccrualStatus string
	DiagnosisLevel     DiagnosisLevel
	CoordinatingCenter string

	// Clinical snapshot, joined via sample_id at write time so a reviewer
	// can read a trial match without a second lookup.
	OrdPhysicianName  string
	OrdPhysicianEmail string
	DiagnosisName     string
	ReportDate        string
	VitalStatus       string

	Evidence Evidence

	SortOrder int
}
