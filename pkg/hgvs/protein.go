// Package hgvs provides light-weight parsing of single-letter protein
// change notation (e.g. "p.V600E"), used by the evidence formatter to
// extract the reference-residue prefix a wildcard criterion matches on.
package hgvs

import "regexp"

// proteinChangePattern matches the common single-letter protein change
// format: "p." + reference residue letter + position + (optional)
// alternate residue/terminator.
var proteinChangePattern = regexp.MustCompile(`^p\.([A-Z])(\d+)([A-Z*]*)$`)

// ProteinChange is a parsed "p.V600E"-style notation.
type ProteinChange struct {
	RefResidue string // "p.V600"
	Position   string // "600"
	Ref        string // "V"
	Alt        string // "E", may be empty
}

// ParseProteinChange parses a protein change string. Returns false if the
// string does not match the recognized single-letter format.
func ParseProteinChange(s string) (ProteinChange, bool) {
	m := proteinChangePattern.FindStringSubmatch(s)
	if m == nil {
		return ProteinChange{}, false
	}
	return ProteinChange{
		RefResidue: "p." + m[1] + m[2],
		Position:   m[2],
		Ref:        m[1],
		Alt:        m[3],
	}, true
}
