package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlend/lenderd/internal/domain"
)

// HistoryStore implements domain.HistoryStore using PostgreSQL. Records are
// inserted once, when they reach a terminal status; a re-insert with the same
// ID updates the stored row so retried persistence stays idempotent.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

const recordColumns = `id, flow, steps, current_step, status, symbol, amount, market_id, title, description, tx_hash, error, created_at, updated_at`

// Insert persists a terminal record.
func (s *HistoryStore) Insert(ctx context.Context, rec domain.TxRecord) error {
	const query = `
		INSERT INTO tx_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			current_step = EXCLUDED.current_step,
			status       = EXCLUDED.status,
			tx_hash      = EXCLUDED.tx_hash,
			error        = EXCLUDED.error,
			updated_at   = EXCLUDED.updated_at`

	steps := make([]string, len(rec.Steps))
	for i, st := range rec.Steps {
		steps[i] = string(st)
	}

	_, err := s.pool.Exec(ctx, query,
		rec.ID, string(rec.Flow), steps, string(rec.Current), string(rec.Status),
		rec.Meta.Symbol, rec.Meta.Amount, rec.Meta.MarketID, rec.Meta.Title, rec.Meta.Description,
		rec.TxHash, rec.Error, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert record %s: %w", rec.ID, err)
	}
	return nil
}

// GetByID fetches a single record. It returns domain.ErrNotFound when no row
// exists for the given ID.
func (s *HistoryStore) GetByID(ctx context.Context, id string) (domain.TxRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM tx_records WHERE id = $1`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TxRecord{}, domain.ErrNotFound
		}
		return domain.TxRecord{}, fmt.Errorf("postgres: get record %s: %w", id, err)
	}
	return rec, nil
}

// ListRecent returns records in reverse chronological order with pagination
// and optional time filtering.
func (s *HistoryStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TxRecord, error) {
	return s.list(ctx, "", opts)
}

// ListByFlow returns records for a single flow type in reverse chronological
// order.
func (s *HistoryStore) ListByFlow(ctx context.Context, flow domain.FlowType, opts domain.ListOpts) ([]domain.TxRecord, error) {
	return s.list(ctx, flow, opts)
}

func (s *HistoryStore) list(ctx context.Context, flow domain.FlowType, opts domain.ListOpts) ([]domain.TxRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM tx_records WHERE 1=1`
	args := []any{}
	argIdx := 1

	if flow != "" {
		query += fmt.Sprintf(" AND flow = $%d", argIdx)
		args = append(args, string(flow))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list records: %w", err)
	}
	defer rows.Close()

	var records []domain.TxRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list records rows: %w", err)
	}
	return records, nil
}

// scanRecord maps one tx_records row onto a domain.TxRecord.
func scanRecord(row pgx.Row) (domain.TxRecord, error) {
	var (
		rec     domain.TxRecord
		flow    string
		steps   []string
		current string
		status  string
	)

	err := row.Scan(
		&rec.ID, &flow, &steps, &current, &status,
		&rec.Meta.Symbol, &rec.Meta.Amount, &rec.Meta.MarketID, &rec.Meta.Title, &rec.Meta.Description,
		&rec.TxHash, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.TxRecord{}, err
	}

	rec.Flow = domain.FlowType(flow)
	rec.Current = domain.StepID(current)
	rec.Status = domain.RecordStatus(status)
	rec.Steps = make([]domain.StepID, len(steps))
	for i, st := range steps {
		rec.Steps[i] = domain.StepID(st)
	}
	return rec, nil
}

// Compile-time interface check.
var _ domain.HistoryStore = (*HistoryStore)(nil)
