package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/dfci/matchengine/internal/ageq"
	"github.com/dfci/matchengine/internal/criterion"
	"github.com/dfci/matchengine/internal/model"
)

// clinicalColumns maps a compiled clinical clause's normalized field name
// to its column in the clinical table.
var clinicalColumns = map[string]string{
	"ONCOTREE_PRIMARY_DIAGNOSIS_NAME": "oncotree_primary_diagnosis",
	"BIRTH_DATE":                      "birth_date",
	"GENDER":                          "gender",
}

// genomicColumns maps a compiled genomic clause's normalized field name to
// its column in the genomic table.
var genomicColumns = map[string]string{
	"TRUE_HUGO_SYMBOL":            "hugo_symbol",
	"VARIANT_CATEGORY":            "variant_category",
	"TRUE_PROTEIN_CHANGE":         "protein_change",
	"REF_RESIDUE":                 "ref_residue",
	"TRUE_VARIANT_CLASSIFICATION": "variant_classification",
	"TRUE_TRANSCRIPT_EXON":        "transcript_exon",
	"CNV_CALL":                    "cnv_call",
	"WILDTYPE":                    "wildtype",
	"MMR_STATUS":                  "mmr_status",
	"MS_STATUS":                   "ms_status",
	"TOBACCO_STATUS":              "tobacco_status",
	"TMZ_STATUS":                  "tmz_status",
	"POLE_STATUS":                 "pole_status",
	"APOBEC_STATUS":               "apobec_status",
	"UVA_STATUS":                  "uva_status",
}

// PostgresStore is the Postgres-backed implementation of Store. Every
// round trip is wrapped in a single circuit breaker, adapted from the
// teacher's pkg/external resilience pattern — here there is one breaker
// per store instance rather than one per external vendor, since there is
// exactly one backing vendor (the database).
type PostgresStore struct {
	pool    *pgxpool.Pool
	log     *logrus.Logger
	breaker *gobreaker.CircuitBreaker
}

// NewPostgresStore wraps an already-connected pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *logrus.Logger) *PostgresStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "postgres-store",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name, "from": from.String(), "to": to.String(),
			}).Warn("store circuit breaker state change")
		},
	})

	return &PostgresStore{pool: pool, log: logger, breaker: breaker}
}

func (s *PostgresStore) execute(ctx context.Context, fn func() (any, error)) (any, error) {
	result, err := s.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("store circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result, nil
}

// buildWhere compiles a flat clause list into a SQL WHERE fragment
// (without the leading "WHERE") and its positional arguments, using the
// given field→column mapping.
func buildWhere(clauses []criterion.Clause, columns map[string]string) (string, []any, error) {
	if len(clauses) == 0 {
		return "TRUE", nil, nil
	}

	var parts []string
	var args []any
	idx := 1

	for _, c := range clauses {
		if c.Op == criterion.OpWildtypeDefault {
			parts = append(parts, "(wildtype = FALSE OR wildtype IS NULL)")
			continue
		}

		col, ok := columns[c.Field]
		if !ok {
			return "", nil, fmt.Errorf("unrecognized compiled field %q", c.Field)
		}

		switch c.Op {
		case criterion.OpEq:
			parts = append(parts, fmt.Sprintf("%s = $%d", col, idx))
			args = append(args, c.Value)
			idx++
		case criterion.OpEqBool:
			parts = append(parts, fmt.Sprintf("%s = $%d", col, idx))
			args = append(args, c.BoolValue)
			idx++
		case criterion.OpIn:
			if len(c.Values) == 0 {
				parts = append(parts, "FALSE")
				continue
			}
			placeholders := make([]string, len(c.Values))
			for i, v := range c.Values {
				placeholders[i] = fmt.Sprintf("$%d", idx)
				args = append(args, v)
				idx++
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")))
		case criterion.OpNotIn:
			if len(c.Values) == 0 {
				parts = append(parts, "TRUE")
				continue
			}
			placeholders := make([]string, len(c.Values))
			for i, v := range c.Values {
				placeholders[i] = fmt.Sprintf("$%d", idx)
				args = append(args, v)
				idx++
			}
			parts = append(parts, fmt.Sprintf("%s NOT IN (%s)", col, strings.Join(placeholders, ", ")))
		case criterion.OpBirthDateBound:
			sqlOp, err := birthDateSQLOp(c.Bound.Op)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, fmt.Sprintf("%s %s $%d", col, sqlOp, idx))
			args = append(args, c.Bound.Date)
			idx++
		default:
			return "", nil, fmt.Errorf("unrecognized clause op %q", c.Op)
		}
	}

	return strings.Join(parts, " AND "), args, nil
}

func birthDateSQLOp(op ageq.Op) (string, error) {
	switch op {
	case ageq.OpLTE:
		return "<=", nil
	case ageq.OpLT:
		return "<", nil
	case ageq.OpGTE:
		return ">=", nil
	case ageq.OpGT:
		return ">", nil
	case ageq.OpEQ:
		return "=", nil
	default:
		return "", fmt.Errorf("unrecognized age bound op %q", op)
	}
}

// AllSampleIDs implements Store.
func (s *PostgresStore) AllSampleIDs(ctx context.Context) ([]string, error) {
	result, err := s.execute(ctx, func() (any, error) {
		rows, err := s.pool.Query(ctx, "SELECT sample_id FROM clinical")
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("loading sample universe: %w", err)
	}
	return result.([]string), nil
}

// FindClinicalSampleIDs implements Store.
func (s *PostgresStore) FindClinicalSampleIDs(ctx context.Context, q criterion.Query) ([]string, error) {
	if q.Unsatisfiable {
		return nil, nil
	}

	where, args, err := buildWhere(q.Clauses, clinicalColumns)
	if err != nil {
		return nil, err
	}

	result, err := s.execute(ctx, func() (any, error) {
		query := fmt.Sprintf("SELECT DISTINCT sample_id FROM clinical WHERE %s", where)
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("querying clinical collection: %w", err)
	}
	return result.([]string), nil
}

var genomicSelectColumns = []string{
	"id", "sample_id", "variant_key", "hugo_symbol", "variant_category", "wildtype", "tier",
	"allele_fraction", "protein_change", "ref_residue", "variant_classification",
	"transcript_exon", "cdna_change", "chromosome", "position", "reference_allele",
	"canonical_strand", "cnv_call", "sv_comment", "clinical_id",
	"mmr_status", "ms_status", "tobacco_status", "tmz_status", "pole_status", "apobec_status", "uva_status",
}

// FindGenomicRows implements Store.
func (s *PostgresStore) FindGenomicRows(ctx context.Context, q criterion.Query, projection []string) ([]model.GenomicRecord, error) {
	if q.Unsatisfiable {
		return nil, nil
	}

	where, args, err := buildWhere(q.Clauses, genomicColumns)
	if err != nil {
		return nil, err
	}

	result, err := s.execute(ctx, func() (any, error) {
		query := fmt.Sprintf("SELECT %s FROM genomic WHERE %s", strings.Join(genomicSelectColumns, ", "), where)
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.GenomicRecord
		for rows.Next() {
			var r model.GenomicRecord
			var sig model.SignaturePanel
			if err := rows.Scan(
				&r.ID, &r.SampleID, &r.VariantKey, &r.HugoSymbol, &r.VariantCategory, &r.Wildtype, &r.Tier,
				&r.AlleleFraction, &r.ProteinChange, &r.RefResidue, &r.VariantClassification,
				&r.TranscriptExon, &r.CDNAChange, &r.Chromosome, &r.Position, &r.ReferenceAllele,
				&r.CanonicalStrand, &r.CNVCall, &r.SVComment, &r.ClinicalID,
				&sig.MMRStatus, &sig.MSStatus, &sig.TobaccoStatus, &sig.TMZStatus, &sig.POLEStatus, &sig.APOBECStatus, &sig.UVAStatus,
			); err != nil {
				return nil, err
			}
			if sig.HasAnySignature() {
				r.Signature = &sig
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("querying genomic collection: %w", err)
	}
	return result.([]model.GenomicRecord), nil
}

// ClinicalBySampleID implements Store.
func (s *PostgresStore) ClinicalBySampleID(ctx context.Context, sampleIDs []string) (map[string]model.ClinicalRecord, error) {
	if len(sampleIDs) == 0 {
		return map[string]model.ClinicalRecord{}, nil
	}

	result, err := s.execute(ctx, func() (any, error) {
		query := `SELECT sample_id, mrn, birth_date, gender, oncotree_primary_diagnosis, vital_status,
				ord_physician_name, ord_physician_email, report_date
			FROM clinical WHERE sample_id = ANY($1)`
		rows, err := s.pool.Query(ctx, query, sampleIDs)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		out := make(map[string]model.ClinicalRecord, len(sampleIDs))
		for rows.Next() {
			var c model.ClinicalRecord
			if err := rows.Scan(&c.SampleID, &c.MRN, &c.BirthDate, &c.Gender, &c.OncotreePrimaryDiagnosis,
				&c.VitalStatus, &c.OrdPhysicianName, &c.OrdPhysicianEmail, &c.ReportDate); err != nil {
				return nil, err
			}
			out[c.SampleID] = c
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("loading clinical snapshot: %w", err)
	}
	return result.(map[string]model.ClinicalRecord), nil
}

// Trials implements Store. Treatment structure is stored as JSONB and
// deserialized here; the trial document's nested step/arm/dose tree is
// read wholesale, matching §6's "projection {protocol_no, treatment_list,
// _summary}".
func (s *PostgresStore) Trials(ctx context.Context) ([]model.Trial, error) {
	result, err := s.execute(ctx, func() (any, error) {
		rows, err := s.pool.Query(ctx, `SELECT protocol_no, nct_id, coordinating_center, treatment_list, summary_status FROM trial`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.Trial
		for rows.Next() {
			var t model.Trial
			var treatmentList []model.Step
			var summaryStatus []model.StatusEntry
			var nctID, center *string
			if err := rows.Scan(&t.ProtocolNo, &nctID, &center, &treatmentList, &summaryStatus); err != nil {
				return nil, err
			}
			if nctID != nil {
				t.NCTID = *nctID
			}
			if center != nil {
				t.CoordinatingCenter = *center
			}
			t.Step = treatmentList
			t.SummaryStatus = summaryStatus
			out = append(out, t)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("loading trials: %w", err)
	}
	return result.([]model.Trial), nil
}

// ReplaceTrialMatches implements Store: delete-then-insert within a single
// transaction, for per-protocol atomicity.
func (s *PostgresStore) ReplaceTrialMatches(ctx context.Context, protocolNo string, matches []model.TrialMatch) error {
	_, err := s.execute(ctx, func() (any, error) {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, "DELETE FROM trial_match WHERE protocol_no = $1", protocolNo); err != nil {
			return nil, err
		}

		for _, m := range matches {
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			evidenceJSON, err := marshalEvidence(m.Evidence)
			if err != nil {
				return nil, err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO trial_match (
					id, sample_id, mrn, protocol_no, nct_id, match_level, internal_id, code,
					trial_accrual_status, diagnosis_level, coordinating_center,
					ord_physician_name, ord_physician_email, diagnosis_name, report_date, vital_status,
					evidence, sort_order
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
				m.ID, m.SampleID, m.MRN, m.ProtocolNo, m.NCTID, m.MatchLevel, m.InternalID, m.Code,
				m.TrialAccrualStatus, string(m.DiagnosisLevel), m.CoordinatingCenter,
				m.OrdPhysicianName, m.OrdPhysicianEmail, m.DiagnosisName, m.ReportDate, m.VitalStatus,
				evidenceJSON, m.SortOrder,
			)
			if err != nil {
				return nil, err
			}
		}

		return nil, tx.Commit(ctx)
	})
	if err != nil {
		return fmt.Errorf("replacing trial-match partition for %s: %w", protocolNo, err)
	}
	return nil
}

// AllTrialMatches implements Store.
func (s *PostgresStore) AllTrialMatches(ctx context.Context) ([]model.TrialMatch, error) {
	result, err := s.execute(ctx, func() (any, error) {
		rows, err := s.pool.Query(ctx, `SELECT id, sample_id, mrn, protocol_no, nct_id, match_level, internal_id, code,
				trial_accrual_status, diagnosis_level, coordinating_center,
				ord_physician_name, ord_physician_email, diagnosis_name, report_date, vital_status, evidence, sort_order
			FROM trial_match`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.TrialMatch
		for rows.Next() {
			var m model.TrialMatch
			var diagnosisLevel string
			var evidenceJSON []byte
			if err := rows.Scan(&m.ID, &m.SampleID, &m.MRN, &m.ProtocolNo, &m.NCTID, &m.MatchLevel, &m.InternalID, &m.Code,
				&m.TrialAccrualStatus, &diagnosisLevel, &m.CoordinatingCenter,
				&m.OrdPhysicianName, &m.OrdPhysicianEmail, &m.DiagnosisName, &m.ReportDate, &m.VitalStatus,
				&evidenceJSON, &m.SortOrder); err != nil {
				return nil, err
			}
			m.DiagnosisLevel = model.DiagnosisLevel(diagnosisLevel)
			ev, err := unmarshalEvidence(evidenceJSON)
			if err != nil {
				return nil, err
			}
			m.Evidence = ev
			out = append(out, m)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("loading trial-match sink: %w", err)
	}
	return result.([]model.TrialMatch), nil
}

// WriteRankedTrialMatches implements Store: updates sort_order in place for
// every record, keyed by id.
func (s *PostgresStore) WriteRankedTrialMatches(ctx context.Context, ranked []model.TrialMatch) error {
	_, err := s.execute(ctx, func() (any, error) {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback(ctx)

		batch := &pgx.Batch{}
		for _, m := range ranked {
			batch.Queue("UPDATE trial_match SET sort_order = $1 WHERE id = $2", m.SortOrder, m.ID)
		}
		br := tx.SendBatch(ctx, batch)
		for range ranked {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return nil, err
			}
		}
		if err := br.Close(); err != nil {
			return nil, err
		}

		return nil, tx.Commit(ctx)
	})
	if err != nil {
		return fmt.Errorf("writing ranked sink: %w", err)
	}
	return nil
}

// Oncotree implements Store: reads a flat node table into the row
// representation internal/oncotree assembles into its in-memory tree.
func (s *PostgresStore) Oncotree(ctx context.Context) ([]OncotreeRow, error) {
	result, err := s.execute(ctx, func() (any, error) {
		rows, err := s.pool.Query(ctx, "SELECT id, text, children FROM oncotree_node")
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []OncotreeRow
		for rows.Next() {
			var r OncotreeRow
			var children []int64
			if err := rows.Scan(&r.ID, &r.Text, &children); err != nil {
				return nil, err
			}
			for _, c := range children {
				r.Children = append(r.Children, int(c))
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("loading oncotree: %w", err)
	}
	return result.([]OncotreeRow), nil
}

