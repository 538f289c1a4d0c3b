// Package criterion compiles a single match-tree leaf criterion (clinical or
// genomic) into a store-query fragment, a projection spec, an
// inclusion/exclusion polarity, and a reason-level for evidence formatting.
package criterion

import (
	"strings"
	"time"

	"github.com/dfci/matchengine/internal/ageq"
	"github.com/dfci/matchengine/internal/model"
	"github.com/dfci/matchengine/internal/oncotree"
	"github.com/dfci/matchengine/internal/vocab"
)

// ClauseOp is the comparison operator of one compiled query clause.
type ClauseOp string

const (
	OpEq             ClauseOp = "eq"
	OpIn             ClauseOp = "in"
	OpNotIn          ClauseOp = "nin"
	OpBirthDateBound ClauseOp = "birth_date_bound"
	// OpWildtypeDefault is the synthesized "WILDTYPE = false OR WILDTYPE
	// absent" conjunct added when a genomic leaf never mentions wildtype.
	OpWildtypeDefault ClauseOp = "wildtype_default"
	// OpEqBool is equality against a boolean-typed column; Value carries a
	// Go string for every other OpEq target, but a genuinely BOOLEAN column
	// (wildtype) needs a real bool bound at the store boundary.
	OpEqBool ClauseOp = "eq_bool"
)

// Clause is one conjunct of a compiled store query.
type Clause struct {
	Field     string
	Op        ClauseOp
	Value     string
	BoolValue bool
	Values    []string
	Bound     ageq.Bound
}

// Query is a flat conjunction of clauses. An empty, non-nil Query with
// Unsatisfiable set compiles to "never matches", used for
// variant-granularity structural-variation leaves that cannot be
// expressed as a store predicate.
type Query struct {
	Clauses       []Clause
	Unsatisfiable bool
}

// ReasonLevel is the granularity at which a genomic leaf matched, used by
// the evidence formatter and the ranker.
type ReasonLevel string

const (
	ReasonVariant      ReasonLevel = "variant"
	ReasonWildcard     ReasonLevel = "wildcard"
	ReasonExon         ReasonLevel = "exon"
	ReasonVariantClass ReasonLevel = "variant_class"
	ReasonGene         ReasonLevel = "gene"
	ReasonSignature    ReasonLevel = "signature"
)

// Compiled is the full output of compiling one leaf criterion.
type Compiled struct {
	Query
	Projection []string
	Inclusion  bool
	Reason     ReasonLevel
	// DiagnosisLevel records how specific a clinical diagnosis criterion
	// was, for the ranker's cancer-type specificity key. Zero value for
	// genomic leaves.
	DiagnosisLevel model.DiagnosisLevel
}

var mutationProjection = []string{
	"SAMPLE_ID", "TRUE_HUGO_SYMBOL", "TRUE_PROTEIN_CHANGE", "TRUE_VARIANT_CLASSIFICATION",
	"VARIANT_CATEGORY", "CNV_CALL", "WILDTYPE", "CHROMOSOME", "POSITION",
	"TRUE_CDNA_CHANGE", "REFERENCE_ALLELE", "TRUE_TRANSCRIPT_EXON", "CANONICAL_STRAND",
	"ALLELE_FRACTION", "TIER", "CLINICAL_ID", "_id",
}

var exclusionProjection = []string{"SAMPLE_ID"}

func trimBang(v string) (value string, negated bool) {
	if strings.HasPrefix(v, "!") {
		return strings.TrimPrefix(v, "!"), true
	}
	return v, false
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asStringSlice(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// CompileClinical compiles a clinical leaf's field map. Only
// oncotree_primary_diagnosis, age_numerical, and gender are recognized;
// every other field is silently dropped per spec.
func CompileClinical(fields map[string]any, vocabulary *vocab.Map, tree *oncotree.Tree, today time.Time) (*Compiled, error) {
	c := &Compiled{Inclusion: true, Projection: []string{"SAMPLE_ID"}}

	for key, raw := range fields {
		norm := vocabulary.NormalizeKey(key)
		switch strings.ToUpper(key) {
		case "ONCOTREE_PRIMARY_DIAGNOSIS":
			diagnoses := asStringSlice(raw)
			negated := false
			labels := make([]string, 0, len(diagnoses))
			level := model.DiagnosisSpecific
			for _, d := range diagnoses {
				value, neg := trimBang(d)
				if neg {
					negated = true
				}
				if value == oncotree.TokenSolid {
					level = model.DiagnosisSolid
				} else if value == oncotree.TokenLiquid {
					level = model.DiagnosisLiquid
				}
				labels = append(labels, value)
			}
			expanded := tree.ExpandMany(labels)
			c.DiagnosisLevel = level
			if negated {
				c.Clauses = append(c.Clauses, Clause{Field: "ONCOTREE_PRIMARY_DIAGNOSIS_NAME", Op: OpNotIn, Values: expanded})
			} else {
				c.Clauses = append(c.Clauses, Clause{Field: "ONCOTREE_PRIMARY_DIAGNOSIS_NAME", Op: OpIn, Values: expanded})
			}

		case "AGE_NUMERICAL":
			s, ok := asString(raw)
			if !ok {
				continue
			}
			bound, err := ageq.Parse(s, today)
			if err != nil {
				return nil, err
			}
			c.Clauses = append(c.Clauses, Clause{Field: "BIRTH_DATE", Op: OpBirthDateBound, Bound: bound})

		case "GENDER":
			s, ok := asString(raw)
			if !ok {
				continue
			}
			value, neg := trimBang(s)
			value = vocabulary.NormalizeValue("GENDER", value)
			if neg {
				c.Clauses = append(c.Clauses, Clause{Field: "GENDER", Op: OpNotIn, Values: []string{value}})
			} else {
				c.Clauses = append(c.Clauses, Clause{Field: "GENDER", Op: OpEq, Value: value})
			}

		default:
			_ = norm // unrecognized clinical field, dropped
		}
	}

	return c, nil
}

var genomicKeys = map[string]bool{
	"HUGO_SYMBOL": true, "VARIANT_CATEGORY": true, "PROTEIN_CHANGE": true,
	"WILDCARD_PROTEIN_CHANGE": true, "VARIANT_CLASSIFICATION": true,
	"EXON": true, "CNV_CALL": true, "WILDTYPE": true,
}

var signatureKeys = map[string]bool{
	"MMR_STATUS": true, "MS_STATUS": true, "TOBACCO_STATUS": true, "TMZ_STATUS": true,
	"POLE_STATUS": true, "APOBEC_STATUS": true, "UVA_STATUS": true,
}

// CompileGenomic compiles a genomic leaf's field map.
func CompileGenomic(fields map[string]any, vocabulary *vocab.Map) (*Compiled, error) {
	c := &Compiled{Inclusion: true, Projection: mutationProjection}

	wildtypeSpecified := false
	anyNegated := false

	var hasProteinChange, hasWildcard, hasVariantClass, hasExon, hasCNVCall bool
	var category string

	for key := range fields {
		upper := strings.ToUpper(key)
		if signatureKeys[upper] {
			raw := fields[key]
			s, _ := asString(raw)
			value, neg := trimBang(s)
			if neg {
				anyNegated = true
				c.Clauses = append(c.Clauses, Clause{Field: upper, Op: OpNotIn, Values: []string{value}})
			} else {
				c.Clauses = append(c.Clauses, Clause{Field: upper, Op: OpEq, Value: value})
			}
			c.Reason = ReasonSignature
			continue
		}

		if !genomicKeys[upper] {
			continue
		}

		raw := fields[key]
		normField := vocabulary.NormalizeKey(key)

		if upper == "WILDTYPE" {
			wildtypeSpecified = true
			s, _ := asString(raw)
			normalized := vocabulary.NormalizeValue("WILDTYPE", s)
			c.Clauses = append(c.Clauses, Clause{Field: "WILDTYPE", Op: OpEqBool, BoolValue: strings.EqualFold(normalized, "true")})
			continue
		}

		s, ok := asString(raw)
		if !ok {
			continue
		}
		value, neg := trimBang(s)
		if neg {
			anyNegated = true
		}

		switch upper {
		case "VARIANT_CATEGORY":
			value = vocabulary.NormalizeValue("VARIANT_CATEGORY", value)
			category = value
		case "CNV_CALL":
			value = vocabulary.NormalizeValue("CNV_CALL", value)
			hasCNVCall = true
		case "PROTEIN_CHANGE":
			hasProteinChange = true
		case "WILDCARD_PROTEIN_CHANGE":
			hasWildcard = true
		case "VARIANT_CLASSIFICATION":
			hasVariantClass = true
		case "EXON":
			hasExon = true
		}

		if neg {
			c.Clauses = append(c.Clauses, Clause{Field: normField, Op: OpNotIn, Values: []string{value}})
		} else {
			c.Clauses = append(c.Clauses, Clause{Field: normField, Op: OpEq, Value: value})
		}
	}

	// Reason-level selection, per spec §4.4.
	switch {
	case category == string(model.CategorySV):
		if !hasProteinChange && !hasWildcard && !hasVariantClass && !hasExon {
			c.Reason = ReasonGene
		} else {
			// variant-granularity SV is never meaningful; compiles to
			// the empty, never-matching query.
			c.Query.Unsatisfiable = true
			return c, nil
		}
	case category == string(model.CategoryCNV):
		if hasCNVCall {
			c.Reason = ReasonVariant
		} else {
			c.Reason = ReasonGene
		}
	default:
		switch {
		case hasProteinChange:
			c.Reason = ReasonVariant
		case hasWildcard:
			c.Reason = ReasonWildcard
		case hasVariantClass:
			c.Reason = ReasonVariantClass
		case hasExon:
			c.Reason = ReasonExon
		default:
			if c.Reason == "" {
				c.Reason = ReasonGene
			}
		}
	}

	if !wildtypeSpecified {
		c.Clauses = append(c.Clauses, Clause{Op: OpWildtypeDefault})
	}

	c.Inclusion = !anyNegated
	if !c.Inclusion {
		c.Projection = exclusionProjection
	}

	return c, nil
}
