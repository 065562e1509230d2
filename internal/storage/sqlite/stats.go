package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stableagents/sentinel/internal/recovery"
	"github.com/stableagents/sentinel/internal/types"
)

// SaveRecoveryOutcomes upserts the planner's per-(component, action)
// tallies and plan counters so learned ordering survives restarts.
func (s *Store) SaveRecoveryOutcomes(ctx context.Context, outcomes []recovery.ActionOutcome, totalPlans, successfulPlans int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin stats transaction: %w", err)
	}
	defer tx.Rollback()

	for _, o := range outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO action_outcomes (component, action, attempts, successes, consecutive_failures)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(component, action) DO UPDATE SET
				attempts = excluded.attempts,
				successes = excluded.successes,
				consecutive_failures = excluded.consecutive_failures
		`, o.Component, string(o.Action), o.Attempts, o.Successes, o.ConsecutiveFailures)
		if err != nil {
			return fmt.Errorf("failed to save outcome for %s/%s: %w", o.Component, o.Action, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plan_counters (id, total_plans, successful_plans)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_plans = excluded.total_plans,
			successful_plans = excluded.successful_plans
	`, totalPlans, successfulPlans)
	if err != nil {
		return fmt.Errorf("failed to save plan counters: %w", err)
	}

	return tx.Commit()
}

// LoadRecoveryOutcomes reads persisted tallies and plan counters. A
// fresh database yields empty outcomes and zero counters.
func (s *Store) LoadRecoveryOutcomes(ctx context.Context) ([]recovery.ActionOutcome, int, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT component, action, attempts, successes, consecutive_failures
		FROM action_outcomes
		ORDER BY component, action
	`)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to query action outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []recovery.ActionOutcome
	for rows.Next() {
		var o recovery.ActionOutcome
		var action string
		if err := rows.Scan(&o.Component, &action, &o.Attempts, &o.Successes, &o.ConsecutiveFailures); err != nil {
			return nil, 0, 0, fmt.Errorf("failed to scan action outcome: %w", err)
		}
		o.Action = types.ActionKind(action)
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to iterate action outcomes: %w", err)
	}

	var totalPlans, successfulPlans int
	err = s.db.QueryRowContext(ctx,
		`SELECT total_plans, successful_plans FROM plan_counters WHERE id = 1`).
		Scan(&totalPlans, &successfulPlans)
	if err != nil && err != sql.ErrNoRows {
		return nil, 0, 0, fmt.Errorf("failed to read plan counters: %w", err)
	}
	return outcomes, totalPlans, successfulPlans, nil
}
