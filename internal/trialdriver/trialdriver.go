// Package trialdriver walks each trial's step→arm→dose tree, invokes the
// evaluator once per match tree, attaches trial-node identifiers and
// accrual status, and writes trial-match documents to the sink. It bounds
// concurrency across independent trials with a worker pool, consistent
// with §5's "driver may evaluate independently in parallel".
package trialdriver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dfci/matchengine/internal/evaluator"
	"github.com/dfci/matchengine/internal/matcherr"
	"github.com/dfci/matchengine/internal/matchtree"
	"github.com/dfci/matchengine/internal/model"
	"github.com/dfci/matchengine/internal/rank"
	"github.com/dfci/matchengine/internal/store"
)

// Driver runs one batch: evaluate every trial, rewrite its sink partition,
// then rank the entire sink once, globally, after all trials are
// processed (see DESIGN.md for why the ranker runs once globally rather
// than per-trial).
type Driver struct {
	Store               store.Store
	Evaluator           *evaluator.Evaluator
	Logger              *logrus.Logger
	MaxConcurrentTrials int
	// TrialTimeout bounds one trial's walk+evaluate+write; zero means no
	// per-trial deadline beyond the run's own context.
	TrialTimeout time.Duration
}

// New builds a Driver. maxConcurrentTrials <= 0 falls back to 1.
func New(s store.Store, ev *evaluator.Evaluator, logger *logrus.Logger, maxConcurrentTrials int) *Driver {
	if maxConcurrentTrials <= 0 {
		maxConcurrentTrials = 1
	}
	return &Driver{Store: s, Evaluator: ev, Logger: logger, MaxConcurrentTrials: maxConcurrentTrials}
}

// WithTrialTimeout sets the per-trial deadline.
func (d *Driver) WithTrialTimeout(timeout time.Duration) *Driver {
	d.TrialTimeout = timeout
	return d
}

// Run evaluates every trial in the store, atomically rewriting each one's
// sink partition, then ranks the full sink once. Per-trial errors that are
// not fatal are logged and skip that trial; the batch continues. A fatal
// *matcherr.MatchError aborts the whole run.
func (d *Driver) Run(ctx context.Context) error {
	trials, err := d.Store.Trials(ctx)
	if err != nil {
		return matcherr.StoreTransient("", "failed to list trials", err)
	}

	all, err := d.Store.AllSampleIDs(ctx)
	if err != nil {
		return matcherr.StoreTransient("", "failed to load sample universe", err)
	}
	allSet := make(map[string]bool, len(all))
	for _, id := range all {
		allSet[id] = true
	}

	sem := make(chan struct{}, d.MaxConcurrentTrials)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var fatalErr error

	for _, trial := range trials {
		trial := trial
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			mu.Lock()
			if fatalErr != nil {
				mu.Unlock()
				return
			}
			mu.Unlock()

			trialCtx := ctx
			if d.TrialTimeout > 0 {
				var trialCancel context.CancelFunc
				trialCtx, trialCancel = context.WithTimeout(ctx, d.TrialTimeout)
				defer trialCancel()
			}

			if err := d.processTrial(trialCtx, trial, allSet); err != nil {
				if me, ok := matcherr.As(err); ok && me.Fatal() {
					mu.Lock()
					if fatalErr == nil {
						fatalErr = err
					}
					mu.Unlock()
					return
				}
				d.Logger.WithFields(logrus.Fields{
					"protocol_no": trial.ProtocolNo,
					"error":       err,
				}).Warn("skipping trial due to evaluation error")
			}
		}()
	}
	wg.Wait()

	if fatalErr != nil {
		return fatalErr
	}

	return d.rankSink(ctx)
}

func (d *Driver) processTrial(ctx context.Context, trial model.Trial, all map[string]bool) error {
	trialTree, err := matchtree.BuildTrialTree(trial.Step)
	if err != nil {
		return matcherr.InvalidSchema(trial.ProtocolNo, "failed to build trial tree", err)
	}

	overallStatus := trial.AccrualStatus()

	var matches []model.TrialMatch
	for _, step := range trialTree {
		stepMatches, err := d.walkNode(ctx, trial, step, "step", overallStatus, all)
		if err != nil {
			return err
		}
		matches = append(matches, stepMatches...)
	}

	clinical, err := d.joinClinical(ctx, matches)
	if err != nil {
		return matcherr.StoreTransient(trial.ProtocolNo, "failed to join clinical snapshot", err)
	}
	matches = clinical

	if err := d.Store.ReplaceTrialMatches(ctx, trial.ProtocolNo, matches); err != nil {
		return matcherr.StoreTransient(trial.ProtocolNo, "failed to replace trial-match partition", err)
	}

	return nil
}

// walkNode recurses step→arm→dose, evaluating each node's embedded match
// tree (if any) and emitting trial-match records for its evidence.
func (d *Driver) walkNode(ctx context.Context, trial model.Trial, node *matchtree.TrialNode, level, overallStatus string, all map[string]bool) ([]model.TrialMatch, error) {
	var out []model.TrialMatch

	if node.MatchTree != nil {
		result, err := d.Evaluator.Evaluate(ctx, node.MatchTree, all)
		if err != nil {
			return nil, matcherr.InvalidSchema(trial.ProtocolNo, fmt.Sprintf("evaluation failed at %s %s", level, node.InternalID), err)
		}

		status := overallStatus
		if level != "step" && strings.ToLower(node.Suspended) == "y" {
			status = "closed"
		}

		for _, e := range result.Evidence {
			out = append(out, model.TrialMatch{
				ID:                 uuid.NewString(),
				SampleID:           e.SampleID,
				ProtocolNo:         trial.ProtocolNo,
				NCTID:              trial.NCTID,
				MatchLevel:         level,
				InternalID:         node.InternalID,
				Code:               node.Code,
				TrialAccrualStatus: status,
				DiagnosisLevel:     result.DiagnosisLevel,
				CoordinatingCenter: coordinatingCenter(trial.CoordinatingCenter),
				Evidence:           e,
			})
		}
	}

	for _, child := range node.Children {
		childLevel := "arm"
		if level == "arm" {
			childLevel = "dose"
		}
		childMatches, err := d.walkNode(ctx, trial, child, childLevel, overallStatus, all)
		if err != nil {
			return nil, err
		}
		out = append(out, childMatches...)
	}

	return out, nil
}

func coordinatingCenter(center string) string {
	if center == "" {
		return "DFCI"
	}
	return center
}

// joinClinical copies the clinical snapshot fields (§5 supplement) onto
// each trial-match record via its sample_id.
func (d *Driver) joinClinical(ctx context.Context, matches []model.TrialMatch) ([]model.TrialMatch, error) {
	ids := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, m := range matches {
		if !seen[m.SampleID] {
			seen[m.SampleID] = true
			ids = append(ids, m.SampleID)
		}
	}

	byID, err := d.Store.ClinicalBySampleID(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i := range matches {
		c, ok := byID[matches[i].SampleID]
		if !ok {
			continue
		}
		matches[i].MRN = c.MRN
		matches[i].VitalStatus = c.VitalStatus
		matches[i].OrdPhysicianName = c.OrdPhysicianName
		matches[i].OrdPhysicianEmail = c.OrdPhysicianEmail
		matches[i].DiagnosisName = c.OncotreePrimaryDiagnosis
		matches[i].ReportDate = c.ReportDate.Format("2006-01-02")
	}

	return matches, nil
}

// rankSink runs the C9 ranker exactly once over the entire trial-match
// sink, after every trial in the batch has had its partition rewritten.
func (d *Driver) rankSink(ctx context.Context) error {
	all, err := d.Store.AllTrialMatches(ctx)
	if err != nil {
		return matcherr.StoreTransient("", "failed to load sink for ranking", err)
	}

	ptrs := make([]*model.TrialMatch, len(all))
	for i := range all {
		ptrs[i] = &all[i]
	}
	rank.Rank(ptrs)

	if err := d.Store.WriteRankedTrialMatches(ctx, all); err != nil {
		return matcherr.StorePermanent("", "failed to write ranked sink", err)
	}
	return nil
}
