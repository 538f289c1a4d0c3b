package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfci/matchengine/internal/ageq"
	"github.com/dfci/matchengine/internal/criterion"
)

func TestBuildWhereEmptyClausesMatchesAll(t *testing.T) {
	where, args, err := buildWhere(nil, clinicalColumns)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", where)
	assert.Empty(t, args)
}

func TestBuildWhereEqClause(t *testing.T) {
	clauses := []criterion.Clause{
		{Field: "GENDER", Op: criterion.OpEq, Value: "Female"},
	}
	where, args, err := buildWhere(clauses, clinicalColumns)
	require.NoError(t, err)
	assert.Equal(t, "gender = $1", where)
	assert.Equal(t, []any{"Female"}, args)
}

func TestBuildWhereInAndNotInClauses(t *testing.T) {
	clauses := []criterion.Clause{
		{Field: "ONCOTREE_PRIMARY_DIAGNOSIS_NAME", Op: criterion.OpIn, Values: []string{"Lung", "Breast"}},
		{Field: "GENDER", Op: criterion.OpNotIn, Values: []string{"Male"}},
	}
	where, args, err := buildWhere(clauses, clinicalColumns)
	require.NoError(t, err)
	assert.Equal(t, "oncotree_primary_diagnosis IN ($1, $2) AND gender NOT IN ($3)", where)
	assert.Equal(t, []any{"Lung", "Breast", "Male"}, args)
}

func TestBuildWhereEmptyInValuesNeverMatches(t *testing.T) {
	clauses := []criterion.Clause{
		{Field: "GENDER", Op: criterion.OpIn, Values: nil},
	}
	where, args, err := buildWhere(clauses, clinicalColumns)
	require.NoError(t, err)
	assert.Equal(t, "FALSE", where)
	assert.Empty(t, args)
}

func TestBuildWhereEmptyNotInValuesAlwaysMatches(t *testing.T) {
	clauses := []criterion.Clause{
		{Field: "GENDER", Op: criterion.OpNotIn, Values: nil},
	}
	where, args, err := buildWhere(clauses, clinicalColumns)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", where)
	assert.Empty(t, args)
}

func TestBuildWhereWildtypeDefaultClause(t *testing.T) {
	clauses := []criterion.Clause{
		{Field: "TRUE_HUGO_SYMBOL", Op: criterion.OpEq, Value: "BRAF"},
		{Op: criterion.OpWildtypeDefault},
	}
	where, args, err := buildWhere(clauses, genomicColumns)
	require.NoError(t, err)
	assert.Equal(t, "hugo_symbol = $1 AND (wildtype = FALSE OR wildtype IS NULL)", where)
	assert.Equal(t, []any{"BRAF"}, args)
}

func TestBuildWhereEqBoolClauseBindsRealBool(t *testing.T) {
	clauses := []criterion.Clause{
		{Field: "WILDTYPE", Op: criterion.OpEqBool, BoolValue: true},
	}
	where, args, err := buildWhere(clauses, genomicColumns)
	require.NoError(t, err)
	assert.Equal(t, "wildtype = $1", where)
	require.Len(t, args, 1)
	assert.IsType(t, true, args[0])
	assert.Equal(t, true, args[0])
}

func TestBuildWhereBirthDateBoundClause(t *testing.T) {
	bound := ageq.Bound{Op: ">=", Date: time.Date(2006, 1, 1, 0, 0, 0, 0, time.UTC)}
	clauses := []criterion.Clause{
		{Field: "BIRTH_DATE", Op: criterion.OpBirthDateBound, Bound: bound},
	}
	where, args, err := buildWhere(clauses, clinicalColumns)
	require.NoError(t, err)
	assert.Equal(t, "birth_date >= $1", where)
	require.Len(t, args, 1)
	assert.Equal(t, bound.Date, args[0])
}

func TestBuildWhereRefResidueClause(t *testing.T) {
	clauses := []criterion.Clause{
		{Field: "REF_RESIDUE", Op: criterion.OpEq, Value: "p.V600"},
	}
	where, args, err := buildWhere(clauses, genomicColumns)
	require.NoError(t, err)
	assert.Equal(t, "ref_residue = $1", where)
	assert.Equal(t, []any{"p.V600"}, args)
}

func TestBuildWhereUnrecognizedFieldErrors(t *testing.T) {
	clauses := []criterion.Clause{
		{Field: "NOT_A_REAL_FIELD", Op: criterion.OpEq, Value: "x"},
	}
	_, _, err := buildWhere(clauses, clinicalColumns)
	assert.Error(t, err)
}

func TestBirthDateSQLOp(t *testing.T) {
	cases := map[ageq.Op]string{
		ageq.OpLTE: "<=",
		ageq.OpLT:  "<",
		ageq.OpGTE: ">=",
		ageq.OpGT:  ">",
		ageq.OpEQ:  "=",
	}
	for in, want := range cases {
		got, err := birthDateSQLOp(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := birthDateSQLOp(ageq.Op("?"))
	assert.Error(t, err)
}
