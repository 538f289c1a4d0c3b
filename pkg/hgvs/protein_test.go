package hgvs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProteinChangeVariant(t *testing.T) {
	pc, ok := ParseProteinChange("p.V600E")
	assert.True(t, ok)
	assert.Equal(t, "p.V600", pc.RefResidue)
	assert.Equal(t, "600", pc.Position)
	assert.Equal(t, "V", pc.Ref)
	assert.Equal(t, "E", pc.Alt)
}

func TestParseProteinChangeUnrecognized(t *testing.T) {
	_, ok := ParseProteinChange("NP_004324.2:p.Val600Glu")
	assert.False(t, ok)
}
