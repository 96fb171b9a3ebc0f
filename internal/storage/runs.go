package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rift-hq/gateway/internal/model"
)

// GetRun retrieves one run row by its identifier.
func (db *DB) GetRun(ctx context.Context, runID string) (model.RunRow, error) {
	var r model.RunRow
	err := db.pool.QueryRow(ctx,
		`SELECT run_id, repo_url, team_name, leader_name, branch_name, status,
		        start_time, end_time, total_time_secs,
		        base_score, speed_bonus, efficiency_penalty, final_score,
		        total_failures, total_fixes, total_iterations, quarantine_reason
		 FROM runs WHERE run_id = $1`, runID,
	).Scan(
		&r.RunID, &r.RepoURL, &r.TeamName, &r.LeaderName, &r.BranchName, &r.Status,
		&r.StartTime, &r.EndTime, &r.TotalTimeSecs,
		&r.BaseScore, &r.SpeedBonus, &r.EfficiencyPenalty, &r.FinalScore,
		&r.TotalFailures, &r.TotalFixes, &r.TotalIterations, &r.QuarantineReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunRow{}, ErrNotFound
		}
		return model.RunRow{}, fmt.Errorf("storage: get run: %w", err)
	}
	return r, nil
}

// GetFixesForRun returns the fixes recorded for a run, in application order.
func (db *DB) GetFixesForRun(ctx context.Context, runID string) ([]model.FixRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT file_path, bug_type, line_number, commit_message, status
		 FROM fixes WHERE run_id = $1 ORDER BY applied_at`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list fixes: %w", err)
	}
	defer rows.Close()

	var fixes []model.FixRow
	for rows.Next() {
		var (
			f         model.FixRow
			commitMsg *string
		)
		if err := rows.Scan(&f.File, &f.BugType, &f.LineNumber, &commitMsg, &f.Status); err != nil {
			return nil, fmt.Errorf("storage: scan fix: %w", err)
		}
		// Null commit_message happens when a fix never reached the push
		// stage. Carried through as empty; the resolver decides whether the
		// assembled view still satisfies the current contract.
		if commitMsg != nil {
			f.CommitMessage = *commitMsg
		}
		fixes = append(fixes, f)
	}
	return fixes, rows.Err()
}

// GetCIEventsForRun returns the CI iterations recorded for a run, ordered by
// iteration.
func (db *DB) GetCIEventsForRun(ctx context.Context, runID string) ([]model.CIRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT iteration, status, triggered_at, regression_detected
		 FROM ci_events WHERE run_id = $1 ORDER BY iteration`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list ci events: %w", err)
	}
	defer rows.Close()

	var events []model.CIRow
	for rows.Next() {
		var (
			e           model.CIRow
			triggeredAt time.Time
		)
		if err := rows.Scan(&e.Iteration, &e.Status, &triggeredAt, &e.Regression); err != nil {
			return nil, fmt.Errorf("storage: scan ci event: %w", err)
		}
		e.Timestamp = triggeredAt.UTC().Format(time.RFC3339)
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetReportPDF returns the report bytes stored in the run row, used as the
// fallback when the filesystem side channel has no report for the run.
func (db *DB) GetReportPDF(ctx context.Context, runID string) ([]byte, error) {
	var pdf []byte
	err := db.pool.QueryRow(ctx,
		`SELECT report_pdf FROM runs WHERE run_id = $1`, runID,
	).Scan(&pdf)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get report pdf: %w", err)
	}
	if len(pdf) == 0 {
		return nil, ErrNotFound
	}
	return pdf, nil
}

// ReconstructResult assembles a full result view for a terminal run from its
// relational rows. A missing run or one still in flight is ErrNotFound: the
// store only answers for runs that have actually finished.
func (db *DB) ReconstructResult(ctx context.Context, runID string) (model.RunResult, error) {
	row, err := db.GetRun(ctx, runID)
	if err != nil {
		return model.RunResult{}, err
	}
	if !row.Status.Terminal() {
		return model.RunResult{}, ErrNotFound
	}

	fixes, err := db.GetFixesForRun(ctx, runID)
	if err != nil {
		return model.RunResult{}, err
	}
	ci, err := db.GetCIEventsForRun(ctx, runID)
	if err != nil {
		return model.RunResult{}, err
	}

	return assembleResult(row, fixes, ci), nil
}

// assembleResult builds the result view from already-loaded rows. Split out
// so the mapping is testable without a database.
func assembleResult(row model.RunRow, fixes []model.FixRow, ci []model.CIRow) model.RunResult {
	result := model.RunResult{
		RunID:       row.RunID,
		RepoURL:     row.RepoURL,
		TeamName:    row.TeamName,
		LeaderName:  row.LeaderName,
		BranchName:  row.BranchName,
		FinalStatus: finalStatusFor(row.Status),
		Fixes:       fixes,
		CILog:       ci,
	}
	if result.Fixes == nil {
		result.Fixes = []model.FixRow{}
	}
	if result.CILog == nil {
		result.CILog = []model.CIRow{}
	}

	if row.TotalFailures != nil {
		result.TotalFailures = *row.TotalFailures
	}
	if row.TotalFixes != nil {
		result.TotalFixes = *row.TotalFixes
	}
	if row.TotalTimeSecs != nil {
		result.TotalTimeSecs = *row.TotalTimeSecs
	}
	if row.BaseScore != nil {
		result.Score.Base = float64(*row.BaseScore)
	}
	if row.SpeedBonus != nil {
		result.Score.SpeedBonus = float64(*row.SpeedBonus)
	}
	if row.EfficiencyPenalty != nil {
		result.Score.EfficiencyPenalty = float64(*row.EfficiencyPenalty)
	}
	if row.FinalScore != nil {
		result.Score.Total = float64(*row.FinalScore)
	} else {
		result.Score.Total = result.Score.Base + result.Score.SpeedBonus - result.Score.EfficiencyPenalty
	}
	return result
}

// finalStatusFor maps a lifecycle status from the runs table to the terminal
// verdict spelling used in result payloads.
func finalStatusFor(s model.RunStatus) model.FinalStatus {
	switch s {
	case model.RunStatusPassed:
		return model.FinalStatusPassed
	case model.RunStatusFailed:
		return model.FinalStatusFailed
	default:
		return model.FinalStatusQuarantined
	}
}

// StatusView derives the tier-independent status answer from a run row.
func StatusView(row model.RunRow) model.RunStatusView {
	view := model.RunStatusView{
		RunID:  row.RunID,
		Status: row.Status,
		Source: "database",
	}
	if row.TotalIterations != nil {
		view.Iteration = *row.TotalIterations
		view.MaxIterations = *row.TotalIterations
	}
	if row.Status.Terminal() {
		view.CurrentNode = "finished"
		view.ProgressPct = 100
	}
	return view
}
