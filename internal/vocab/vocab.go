// Package vocab maps trial-vocabulary field and value tokens onto
// store-vocabulary tokens. The map is built once at engine startup from a
// fixed constant table.
package vocab

import "strings"

// Field name translations, trial-side key (upper-cased) to store-side key.
var keyTable = map[string]string{
	"AGE_NUMERICAL":           "BIRTH_DATE",
	"EXON":                    "TRUE_TRANSCRIPT_EXON",
	"HUGO_SYMBOL":             "TRUE_HUGO_SYMBOL",
	"PROTEIN_CHANGE":          "TRUE_PROTEIN_CHANGE",
	// Wildcard criteria match on the precomputed residue-level prefix
	// (e.g. "p.V600" covers p.V600E and p.V600D), not the exact change.
	"WILDCARD_PROTEIN_CHANGE": "REF_RESIDUE",
	"ONCOTREE_PRIMARY_DIAGNOSIS": "ONCOTREE_PRIMARY_DIAGNOSIS_NAME",
	"VARIANT_CLASSIFICATION":    "TRUE_VARIANT_CLASSIFICATION",
	"VARIANT_CATEGORY":          "VARIANT_CATEGORY",
	"CNV_CALL":                  "CNV_CALL",
	"WILDTYPE":                  "WILDTYPE",
	"GENDER":                    "GENDER",
}

// Value translations, keyed by the store-side field name they apply to.
var valueTable = map[string]map[string]string{
	"VARIANT_CATEGORY": {
		"Mutation":                 "MUTATION",
		"Copy Number Variation":    "CNV",
		"Structural Variation":     "SV",
	},
	"CNV_CALL": {
		"High Amplification":   "High level amplification",
		"Homozygous Deletion":  "Homozygous deletion",
		"Heterozygous Deletion": "Heterozygous deletion",
	},
	"WILDTYPE": {
		"true":  "true",
		"false": "false",
	},
}

// Map is the bootstrapped, read-only vocabulary in effect for one engine
// instance. Safe for concurrent reads; never mutated after Bootstrap.
type Map struct {
	keys   map[string]string
	values map[string]map[string]string
}

// Bootstrap builds the process-wide vocabulary map from the fixed constant
// tables. Called once at engine instantiation.
func Bootstrap() *Map {
	return &Map{keys: keyTable, values: valueTable}
}

// NormalizeKey translates a trial-side field name to its store-side
// equivalent. Matching is case-insensitive on the trial side. Unknown keys
// pass through unchanged, upper-cased.
func (m *Map) NormalizeKey(key string) string {
	upper := strings.ToUpper(key)
	if stored, ok := m.keys[upper]; ok {
		return stored
	}
	return upper
}

// NormalizeValue translates a value for the given store-side field name.
// Value matching is exact (case-sensitive); unknown values pass through
// unchanged.
func (m *Map) NormalizeValue(storeKey, value string) string {
	table, ok := m.values[storeKey]
	if !ok {
		return value
	}
	if translated, ok := table[value]; ok {
		return translated
	}
	return value
}
