package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"envgrid/logger"
	"envgrid/trader"
	"envgrid/trader/types"
)

// RunRecord is a journaled run header.
type RunRecord struct {
	ID         string    `json:"id"`
	Exchange   string    `json:"exchange"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Balance    float64   `json:"balance"`
	Pairs      int       `json:"pairs"`
	Skipped    int       `json:"skipped"`
	Canceled   int       `json:"canceled"`
	Closes     int       `json:"closes"`
	Opens      int       `json:"opens"`
	Phase      string    `json:"phase,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// JournalStore appends run reports to the runs and run_orders tables.
type JournalStore struct {
	driver *DBDriver
}

// InitTables creates the journal tables
func (s *JournalStore) InitTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			exchange TEXT NOT NULL,
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			balance DOUBLE PRECISION DEFAULT 0,
			pairs INTEGER DEFAULT 0,
			skipped INTEGER DEFAULT 0,
			canceled INTEGER DEFAULT 0,
			closes INTEGER DEFAULT 0,
			opens INTEGER DEFAULT 0,
			phase TEXT DEFAULT '',
			error TEXT DEFAULT '',
			summary TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS run_orders (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			wave TEXT NOT NULL,
			pair TEXT NOT NULL,
			kind TEXT NOT NULL,
			side TEXT DEFAULT '',
			level INTEGER DEFAULT 0,
			price DOUBLE PRECISION DEFAULT 0,
			trigger_price DOUBLE PRECISION DEFAULT 0,
			size DOUBLE PRECISION DEFAULT 0,
			reduce_only BOOLEAN NOT NULL DEFAULT FALSE,
			order_id TEXT DEFAULT '',
			count INTEGER DEFAULT 0,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_run_orders_pair ON run_orders(pair)`,
	}
	for _, stmt := range stmts {
		if _, err := s.driver.DB().Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record writes a run and its orders in one transaction.
func (s *JournalStore) Record(ctx context.Context, r *trader.RunReport) error {
	tx, err := s.driver.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin journal transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.driver.Rebind(`
		INSERT INTO runs (
			id, exchange, dry_run, started_at, finished_at, balance,
			pairs, skipped, canceled, closes, opens, phase, error, summary
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.Exchange, r.DryRun,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.Balance, len(r.Pairs), len(r.Skipped), r.Canceled, r.Closes, r.Opens,
		r.Phase, r.Error, r.Summary(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", r.ID, err)
	}

	if len(r.Orders) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.driver.Rebind(`
			INSERT INTO run_orders (
				run_id, seq, wave, pair, kind, side, level, price,
				trigger_price, size, reduce_only, order_id, count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare run_orders insert: %w", err)
		}
		defer stmt.Close()

		for i, o := range r.Orders {
			if _, err := stmt.ExecContext(ctx,
				r.ID, i, o.Wave, o.Pair, o.Kind, string(o.Side), o.Level, o.Price,
				o.TriggerPrice, o.Size, o.ReduceOnly, o.OrderID, o.Count,
			); err != nil {
				return fmt.Errorf("failed to insert order %d of run %s: %w", i, r.ID, err)
			}
		}
	}

	return tx.Commit()
}

// OnRunFinished journals the report. Failures are logged, never propagated.
func (s *JournalStore) OnRunFinished(ctx context.Context, r *trader.RunReport) {
	if err := s.Record(ctx, r); err != nil {
		logger.WithField("run_id", r.ID).Warnf("⚠️ Failed to journal run: %v", err)
		return
	}
	logger.Debugf("📝 Run %s journaled (%d orders)", r.ID, len(r.Orders))
}

// RecentRuns returns the latest runs, newest first.
func (s *JournalStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.driver.DB().QueryContext(ctx, s.driver.Rebind(`
		SELECT id, exchange, dry_run, started_at, finished_at, balance,
			pairs, skipped, canceled, closes, opens, phase, error
		FROM runs ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started, finished string
		var phase, errText sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.Exchange, &rec.DryRun, &started, &finished, &rec.Balance,
			&rec.Pairs, &rec.Skipped, &rec.Canceled, &rec.Closes, &rec.Opens, &phase, &errText,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		rec.Phase = phase.String
		rec.Error = errText.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RunOrders returns the orders journaled for a run, in issue order.
func (s *JournalStore) RunOrders(ctx context.Context, runID string) ([]trader.OrderRecord, error) {
	rows, err := s.driver.DB().QueryContext(ctx, s.driver.Rebind(`
		SELECT wave, pair, kind, side, level, price, trigger_price, size, reduce_only, order_id, count
		FROM run_orders WHERE run_id = ? ORDER BY seq`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run orders: %w", err)
	}
	defer rows.Close()

	var out []trader.OrderRecord
	for rows.Next() {
		var o trader.OrderRecord
		var side string
		if err := rows.Scan(&o.Wave, &o.Pair, &o.Kind, &side, &o.Level, &o.Price,
			&o.TriggerPrice, &o.Size, &o.ReduceOnly, &o.OrderID, &o.Count); err != nil {
			return nil, fmt.Errorf("failed to scan run order: %w", err)
		}
		o.Side = types.OrderSide(side)
		out = append(out, o)
	}
	return out, rows.Err()
}
