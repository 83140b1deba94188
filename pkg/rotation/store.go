package rotation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Registered for its side-effecting driver init; selected via
	// DatabaseConfig.Driver == "postgres".
	_ "github.com/lib/pq"
	// Registered for its side-effecting driver init; selected via
	// DatabaseConfig.Driver == "mysql".
	_ "github.com/go-sql-driver/mysql"
)

// ErrConflict is returned by Store.Save when the record's Version no
// longer matches what is persisted — another operation on the same
// rotationId won the race.
var ErrConflict = errors.New("rotation: optimistic concurrency conflict")

// ErrNotFound is returned when a rotationId or clientId has no record.
var ErrNotFound = errors.New("rotation: record not found")

// Store is the persistence contract RotationCoordinator drives every
// state transition through as a single atomic write.
type Store interface {
	// Insert persists a brand-new record, returning ErrConflict if a
	// non-terminal record already exists for ClientID.
	Insert(ctx context.Context, rec Record) error

	// Save writes rec back with optimistic concurrency: the write only
	// succeeds if the persisted row's version still equals rec.Version-1.
	Save(ctx context.Context, rec Record) error

	// Get fetches a record by rotationId.
	Get(ctx context.Context, rotationID string) (Record, error)

	// GetActiveForClient returns the clientId's single non-terminal
	// record, if any.
	GetActiveForClient(ctx context.Context, clientID string) (Record, bool, error)

	// ListByState returns every record currently in state, used by the
	// scheduler's checkProgress sweep.
	ListByState(ctx context.Context, state State) ([]Record, error)
}

// SQLStore is a database/sql-backed Store using either a postgres or mysql
// driver, selected at construction by dialect.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an already-open db, using the SQL dialect of
// driverName ("postgres" or "mysql"), as a Store. Schema creation is an operator/migration concern and is
// not performed here.
func NewSQLStore(db *sql.DB, driverName string) *SQLStore {
	return &SQLStore{db: db, dialect: driverName}
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) Insert(ctx context.Context, rec Record) error {
	existing, ok, err := s.GetActiveForClient(ctx, rec.ClientID)
	if err != nil {
		return err
	}
	if ok && !existing.Done() {
		return ErrConflict
	}

	query := fmt.Sprintf(`INSERT INTO rotation_records
		(rotation_id, client_id, state, old_version_id, new_version_id, started_at,
		 transition_period_seconds, reason, version)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
		s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9))

	_, err = s.db.ExecContext(ctx, query,
		rec.RotationID, rec.ClientID, string(rec.State), rec.OldVersionID, rec.NewVersionID,
		rec.StartedAt, rec.TransitionPeriodSeconds, rec.Reason, 1)
	if err != nil {
		return fmt.Errorf("insert rotation record: %w", err)
	}
	return nil
}

func (s *SQLStore) Save(ctx context.Context, rec Record) error {
	query := fmt.Sprintf(`UPDATE rotation_records SET
		state = %s, old_version_id = %s, new_version_id = %s, deprecated_at = %s, completed_at = %s,
		reason = %s, failure_reason = %s, version = %s
		WHERE rotation_id = %s AND version = %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
		s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9), s.placeholder(10))

	res, err := s.db.ExecContext(ctx, query,
		string(rec.State), rec.OldVersionID, rec.NewVersionID, rec.DeprecatedAt, rec.CompletedAt,
		rec.Reason, rec.FailureReason, rec.Version, rec.RotationID, rec.Version-1)
	if err != nil {
		return fmt.Errorf("save rotation record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save rotation record: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, rotationID string) (Record, error) {
	query := fmt.Sprintf(`SELECT rotation_id, client_id, state, old_version_id, new_version_id,
		started_at, deprecated_at, completed_at, transition_period_seconds, reason, failure_reason, version
		FROM rotation_records WHERE rotation_id = %s`, s.placeholder(1))
	row := s.db.QueryRowContext(ctx, query, rotationID)
	return scanRecord(row)
}

func (s *SQLStore) GetActiveForClient(ctx context.Context, clientID string) (Record, bool, error) {
	query := fmt.Sprintf(`SELECT rotation_id, client_id, state, old_version_id, new_version_id,
		started_at, deprecated_at, completed_at, transition_period_seconds, reason, failure_reason, version
		FROM rotation_records WHERE client_id = %s AND state NOT IN ('NEW_ACTIVE', 'FAILED')
		ORDER BY started_at DESC LIMIT 1`, s.placeholder(1))
	row := s.db.QueryRowContext(ctx, query, clientID)
	rec, err := scanRecord(row)
	if errors.Is(err, ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *SQLStore) ListByState(ctx context.Context, state State) ([]Record, error) {
	query := fmt.Sprintf(`SELECT rotation_id, client_id, state, old_version_id, new_version_id,
		started_at, deprecated_at, completed_at, transition_period_seconds, reason, failure_reason, version
		FROM rotation_records WHERE state = %s`, s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, string(state))
	if err != nil {
		return nil, fmt.Errorf("list rotation records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row *sql.Row) (Record, error) {
	rec, err := scanInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func scanRecordRows(rows *sql.Rows) (Record, error) {
	return scanInto(rows)
}

func scanInto(s scanner) (Record, error) {
	var rec Record
	var state string
	var deprecatedAt sql.NullTime
	var completedAt sql.NullTime
	var failureReason sql.NullString

	if err := s.Scan(&rec.RotationID, &rec.ClientID, &state, &rec.OldVersionID, &rec.NewVersionID,
		&rec.StartedAt, &deprecatedAt, &completedAt, &rec.TransitionPeriodSeconds, &rec.Reason, &failureReason, &rec.Version); err != nil {
		return Record{}, err
	}
	rec.State = State(state)
	if deprecatedAt.Valid {
		t := deprecatedAt.Time
		rec.DeprecatedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	rec.FailureReason = failureReason.String
	return rec, nil
}

var _ Store = (*SQLStore)(nil)
