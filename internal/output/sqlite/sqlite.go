// Package sqlite keeps a queryable history of assessments in a local
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crimson-sun/plantpulse/internal/model"
	"github.com/crimson-sun/plantpulse/internal/output"
)

const schema = `
CREATE TABLE IF NOT EXISTS assessments (
	id            TEXT PRIMARY KEY,
	plant_id      TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	ts            INTEGER NOT NULL,
	label         TEXT NOT NULL,
	class_index   INTEGER NOT NULL,
	confidence    REAL,
	probabilities TEXT,
	features      TEXT,
	count         INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_assessments_plant_ts ON assessments(plant_id, ts);
`

// Output inserts each assessment as a row of the assessments table.
type Output struct {
	db        *sql.DB
	insert    *sql.Stmt
	verbosity output.Verbosity
}

// Open creates (or reuses) the database at path and prepares the table.
func Open(ctx context.Context, path string, verbosity output.Verbosity) (*Output, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite output: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite output: create schema: %w", err)
	}
	insert, err := db.PrepareContext(ctx, `INSERT OR REPLACE INTO assessments
		(id, plant_id, source, ts, label, class_index, confidence, probabilities, features, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite output: prepare insert: %w", err)
	}
	return &Output{db: db, insert: insert, verbosity: verbosity}, nil
}

func (o *Output) Write(ctx context.Context, a model.Assessment) error {
	a = output.Format(a, o.verbosity)

	probs, err := nullableJSON(a.Probabilities, len(a.Probabilities) > 0)
	if err != nil {
		return err
	}
	feats, err := nullableJSON(a.Features, len(a.Features) > 0)
	if err != nil {
		return err
	}
	count := a.Count
	if count < 1 {
		count = 1
	}
	_, err = o.insert.ExecContext(ctx,
		a.ID, a.PlantID, a.Source, a.Timestamp.UnixMilli(), a.Label, a.ClassIndex,
		a.Confidence, probs, feats, count)
	if err != nil {
		return fmt.Errorf("sqlite output: insert %s: %w", a.ID, err)
	}
	return nil
}

// Recent returns up to limit assessments for a plant, newest first. An
// empty plantID matches every plant.
func (o *Output) Recent(ctx context.Context, plantID string, limit int) ([]model.Assessment, error) {
	rows, err := o.db.QueryContext(ctx, `SELECT id, plant_id, source, ts, label, class_index,
		confidence, probabilities, features, count
		FROM assessments
		WHERE ? = '' OR plant_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?`, plantID, plantID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite output: query: %w", err)
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		var (
			a            model.Assessment
			ts           int64
			confidence   sql.NullFloat64
			probs, feats sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.PlantID, &a.Source, &ts, &a.Label, &a.ClassIndex,
			&confidence, &probs, &feats, &a.Count); err != nil {
			return nil, fmt.Errorf("sqlite output: scan: %w", err)
		}
		a.Timestamp = time.UnixMilli(ts).UTC()
		a.Confidence = confidence.Float64
		if probs.Valid {
			if err := json.Unmarshal([]byte(probs.String), &a.Probabilities); err != nil {
				return nil, fmt.Errorf("sqlite output: decode probabilities: %w", err)
			}
		}
		if feats.Valid {
			if err := json.Unmarshal([]byte(feats.String), &a.Features); err != nil {
				return nil, fmt.Errorf("sqlite output: decode features: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (o *Output) Close() error {
	o.insert.Close()
	return o.db.Close()
}

func nullableJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("sqlite output: marshal: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
