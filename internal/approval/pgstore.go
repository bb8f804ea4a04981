package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists definitions and instance aggregates in Postgres. Each
// aggregate is one row with a jsonb payload next to the columns the store
// filters on, so a single SELECT ... FOR UPDATE inside InTx locks the whole
// instance including its node instances.
type PGStore struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
create table if not exists approval_definitions (
  id text primary key,
  name text not null,
  active boolean not null,
  payload jsonb not null,
  created_at timestamptz not null
);
create table if not exists approval_instances (
  id text primary key,
  definition_id text not null,
  record_id text not null,
  status text not null,
  payload jsonb not null,
  created_at timestamptz not null,
  updated_at timestamptz not null
);
create unique index if not exists approval_instances_one_active_per_record
  on approval_instances (record_id) where status = 'active';
`)
	return err
}

func (s *PGStore) db() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.pool
}

func (s *PGStore) CreateDefinition(ctx context.Context, def WorkflowDefinition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return err
	}
	_, err = s.db().Exec(ctx, `insert into approval_definitions (id, name, active, payload, created_at)
values ($1, $2, $3, $4, $5)`, def.ID, def.Name, def.Active, payload, def.CreatedAt)
	return mapPGError(err)
}

func (s *PGStore) GetDefinition(ctx context.Context, id string) (WorkflowDefinition, error) {
	var raw []byte
	err := s.db().QueryRow(ctx, `select payload from approval_definitions where id=$1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkflowDefinition{}, fmt.Errorf("definition %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return WorkflowDefinition{}, err
	}
	var def WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return WorkflowDefinition{}, err
	}
	return def, nil
}

func (s *PGStore) ListDefinitions(ctx context.Context) ([]WorkflowDefinition, error) {
	rows, err := s.db().Query(ctx, `select payload from approval_definitions order by created_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorkflowDefinition
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var def WorkflowDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateInstance(ctx context.Context, inst WorkflowInstance) error {
	payload, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	_, err = s.db().Exec(ctx, `insert into approval_instances
(id, definition_id, record_id, status, payload, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7)`,
		inst.ID, inst.DefinitionID, inst.RecordID, inst.Status, payload, inst.CreatedAt, inst.UpdatedAt)
	return mapPGError(err)
}

func (s *PGStore) GetInstance(ctx context.Context, id string) (WorkflowInstance, error) {
	query := `select payload from approval_instances where id=$1`
	if s.tx != nil {
		query += ` for update`
	}
	var raw []byte
	err := s.db().QueryRow(ctx, query, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkflowInstance{}, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return WorkflowInstance{}, err
	}
	var inst WorkflowInstance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return WorkflowInstance{}, err
	}
	return inst, nil
}

func (s *PGStore) GetActiveInstanceByRecord(ctx context.Context, recordID string) (WorkflowInstance, error) {
	query := `select payload from approval_instances where record_id=$1 and status='active'`
	if s.tx != nil {
		query += ` for update`
	}
	var raw []byte
	err := s.db().QueryRow(ctx, query, recordID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkflowInstance{}, fmt.Errorf("no active instance for record %s: %w", recordID, ErrNotFound)
	}
	if err != nil {
		return WorkflowInstance{}, err
	}
	var inst WorkflowInstance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return WorkflowInstance{}, err
	}
	return inst, nil
}

func (s *PGStore) UpdateInstance(ctx context.Context, inst WorkflowInstance) error {
	inst.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	tag, err := s.db().Exec(ctx, `update approval_instances
set status=$2, payload=$3, updated_at=$4 where id=$1`,
		inst.ID, inst.Status, payload, inst.UpdatedAt)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instance %s: %w", inst.ID, ErrNotFound)
	}
	return nil
}

// InTx runs fn inside a read-committed transaction. The store handed to fn
// routes all queries through the transaction, and aggregate reads lock
// their rows, so concurrent deciders against the same node serialize at the
// database.
func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	txStore := &PGStore{pool: s.pool, tx: tx}
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%v: %w", err, ErrConflict)
	}
	return err
}
