// Package store defines the capability interface the rest of the engine
// uses to reach the clinical, genomic, trial, and trial-match collections,
// and provides a Postgres-backed implementation of it.
package store

import (
	"context"

	"github.com/dfci/matchengine/internal/criterion"
	"github.com/dfci/matchengine/internal/model"
)

// Store is the facade the evaluator, driver, and ranker are built against.
// Every method that round-trips to the backing database is expected to be
// wrapped in resilience (circuit breaker) by the implementation, not by
// callers.
type Store interface {
	// AllSampleIDs returns ALL_SAMPLES: every sample_id with a clinical
	// record. Used as the universe for exclusion leaves; result-set ids
	// are not checked against it.
	AllSampleIDs(ctx context.Context) ([]string, error)

	// FindClinicalSampleIDs runs a compiled clinical query and returns the
	// distinct matching sample ids (mirrors the source's
	// `db.clinical.find(c).distinct('SAMPLE_ID')`).
	FindClinicalSampleIDs(ctx context.Context, q criterion.Query) ([]string, error)

	// FindGenomicRows runs a compiled genomic query, returning full rows.
	// projection names the fields the caller needs; PostgresStore ignores
	// it and always reads every column.
	FindGenomicRows(ctx context.Context, q criterion.Query, projection []string) ([]model.GenomicRecord, error)

	// ClinicalBySampleID loads clinical records for a batch of sample ids,
	// keyed by sample_id, for the driver's projection join.
	ClinicalBySampleID(ctx context.Context, sampleIDs []string) (map[string]model.ClinicalRecord, error)

	// Trials returns every trial document to drive a batch run.
	Trials(ctx context.Context) ([]model.Trial, error)

	// ReplaceTrialMatches atomically deletes and reinserts every
	// trial-match record for one protocol_no.
	ReplaceTrialMatches(ctx context.Context, protocolNo string, matches []model.TrialMatch) error

	// AllTrialMatches returns the entire trial-match sink, for the global
	// ranking pass that runs once per batch.
	AllTrialMatches(ctx context.Context) ([]model.TrialMatch, error)

	// WriteRankedTrialMatches persists sort_order values back onto the
	// sink, keyed by trial-match id.
	WriteRankedTrialMatches(ctx context.Context, ranked []model.TrialMatch) error

	// Oncotree returns the flat oncotree node list backing the engine's
	// in-memory tree.
	Oncotree(ctx context.Context) ([]OncotreeRow, error)
}

// OncotreeRow is one flat oncotree node as read from the store, before
// being assembled into the in-memory tree by internal/oncotree.
type OncotreeRow struct {
	ID       int
	Text     string
	Children []int
}
