// Package evidence builds the human-readable "genomic_alteration" string
// and match_type tag for a matched (or excluded) genomic row.
package evidence

import (
	"fmt"

	"github.com/dfci/matchengine/internal/criterion"
	"github.com/dfci/matchengine/internal/model"
	"github.com/dfci/matchengine/pkg/hgvs"
)

// Format builds the evidence record for one matched genomic row under the
// given reason level.
func Format(row model.GenomicRecord, reason criterion.ReasonLevel) model.Evidence {
	e := model.Evidence{
		SampleID:        row.SampleID,
		HugoSymbol:      row.HugoSymbol,
		ProteinChange:   row.ProteinChange,
		VariantClass:    row.VariantClassification,
		VariantCategory: row.VariantCategory,
		CNVCall:         row.CNVCall,
		Wildtype:        row.Wildtype,
		Chromosome:      row.Chromosome,
		Position:        row.Position,
		CDNAChange:      row.CDNAChange,
		ReferenceAllele: row.ReferenceAllele,
		TranscriptExon:  row.TranscriptExon,
		CanonicalStrand: row.CanonicalStrand,
		AlleleFraction:  row.AlleleFraction,
		Tier:            row.Tier,
		ClinicalID:      row.ClinicalID,
		GenomicID:       row.ID,
		Signature:       row.Signature,
	}

	switch reason {
	case criterion.ReasonVariant:
		e.MatchType = model.MatchVariant
		switch row.VariantCategory {
		case model.CategoryCNV:
			e.GenomicAlteration = fmt.Sprintf("%s %s", row.HugoSymbol, row.CNVCall)
		default:
			e.GenomicAlteration = fmt.Sprintf("%s %s", row.HugoSymbol, row.ProteinChange)
		}

	case criterion.ReasonWildcard:
		e.MatchType = model.MatchWildcard
		ref := row.RefResidue
		if ref == "" {
			if pc, ok := hgvs.ParseProteinChange(row.ProteinChange); ok {
				ref = pc.RefResidue
			}
		}
		e.GenomicAlteration = fmt.Sprintf("%s %s...", row.HugoSymbol, ref)

	case criterion.ReasonExon:
		e.MatchType = model.MatchExon
		if row.VariantClassification != "" {
			e.GenomicAlteration = fmt.Sprintf("%s exon %s [%s]", row.HugoSymbol, row.TranscriptExon, row.VariantClassification)
		} else {
			e.GenomicAlteration = fmt.Sprintf("%s exon %s", row.HugoSymbol, row.TranscriptExon)
		}

	case criterion.ReasonVariantClass:
		e.MatchType = model.MatchVariantClass
		e.GenomicAlteration = fmt.Sprintf("%s [%s]", row.HugoSymbol, row.VariantClassification)

	case criterion.ReasonSignature:
		e.MatchType = ""
		e.GenomicAlteration = "signature"

	default: // gene, and the SV free-text case
		e.MatchType = model.MatchGene
		if row.VariantCategory == model.CategorySV && row.SVComment != "" {
			e.GenomicAlteration = row.SVComment
		} else {
			e.GenomicAlteration = row.HugoSymbol
		}
	}

	return e
}

// FormatExclusion synthesizes the evidence record for a sample that matched
// an exclusion (negated) leaf: it carries no genomic row, only a
// description of the negated trial criterion.
func FormatExclusion(sampleID string, reason criterion.ReasonLevel, criterionDescription string) model.Evidence {
	return model.Evidence{
		SampleID:          sampleID,
		MatchType:         matchTypeForReason(reason),
		GenomicAlteration: "!" + criterionDescription,
		Negated:           true,
	}
}

func matchTypeForReason(reason criterion.ReasonLevel) model.MatchType {
	switch reason {
	case criterion.ReasonVariant:
		return model.MatchVariant
	case criterion.ReasonWildcard:
		return model.MatchWildcard
	case criterion.ReasonExon:
		return model.MatchExon
	case criterion.ReasonVariantClass:
		return model.MatchVariantClass
	default:
		return model.MatchGene
	}
}

// DescribeCriterion reconstructs a display string for a genomic criterion
// map, used by FormatExclusion to explain what was excluded.
func DescribeCriterion(fields map[string]any) string {
	hugo, _ := fields["hugo_symbol"].(string)
	if pc, ok := fields["protein_change"].(string); ok {
		return fmt.Sprintf("%s %s", hugo, pc)
	}
	if wc, ok := fields["wildcard_protein_change"].(string); ok {
		return fmt.Sprintf("%s %s...", hugo, wc)
	}
	if cnv, ok := fields["cnv_call"].(string); ok {
		return fmt.Sprintf("%s %s", hugo, cnv)
	}
	return hugo
}
