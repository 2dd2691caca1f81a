package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/persona-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time.
// This ensures schema init works inside the Docker runtime image which
// does not copy internal/db/schema.sql into the final stage.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore persists what the core never does: finalized snapshots,
// the engine event log, serialized session records, and replay audits.
// Every method is safe to skip — the engine is fully functional without a
// database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Persona Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Persona Engine schema initialized")
	return nil
}

// SaveFinalSnapshot upserts a finalized result keyed by session id. The
// snapshot hash is stored alongside so replay audits can join on it.
func (s *PostgresStore) SaveFinalSnapshot(ctx context.Context, snap *models.FinalSnapshot, snapshotHash string) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %v", err)
	}

	sql := `
		INSERT INTO final_snapshots (session_id, bank_id, bank_hash, constants_profile, snapshot, snapshot_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			snapshot_hash = EXCLUDED.snapshot_hash,
			finalized_at = NOW();
	`
	_, err = s.pool.Exec(ctx, sql, snap.SessionID, snap.BankID, snap.BankHash,
		snap.ConstantsProfile, payload, snapshotHash)
	return err
}

// SaveEvent appends one engine event to the event log.
func (s *PostgresStore) SaveEvent(ctx context.Context, ev models.Event) error {
	fields, err := json.Marshal(ev.Fields)
	if err != nil {
		return fmt.Errorf("failed to serialize event fields: %v", err)
	}

	sql := `
		INSERT INTO engine_events (event_id, event_type, session_id, bank_hash, fields, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err = s.pool.Exec(ctx, sql, uuid.NewString(), string(ev.Type), ev.SessionID,
		ev.BankHash, fields, ev.At)
	return err
}

// SaveSessionRecord upserts a serialized session for later restore.
func (s *PostgresStore) SaveSessionRecord(ctx context.Context, sessionID string, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize session record: %v", err)
	}

	sql := `
		INSERT INTO session_records (session_id, record)
		VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET
			record = EXCLUDED.record,
			saved_at = NOW();
	`
	_, err = s.pool.Exec(ctx, sql, sessionID, payload)
	return err
}

// LoadSessionRecord fetches a serialized session record by id.
func (s *PostgresStore) LoadSessionRecord(ctx context.Context, sessionID string) ([]byte, error) {
	var record []byte
	sql := `SELECT record FROM session_records WHERE session_id = $1`
	if err := s.pool.QueryRow(ctx, sql, sessionID).Scan(&record); err != nil {
		return nil, err
	}
	return record, nil
}

// SaveReplayAudit records one replay execution and its verdict.
func (s *PostgresStore) SaveReplayAudit(ctx context.Context, desc models.ReplayDescriptor, computedHash string, match bool) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to serialize replay descriptor: %v", err)
	}

	sql := `
		INSERT INTO replay_audits (audit_id, session_seed, bank_hash, descriptor, computed_hash, expected_hash, matched)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err = s.pool.Exec(ctx, sql, uuid.NewString(), desc.SessionSeed, desc.BankHash,
		payload, computedHash, desc.ExpectedHash, match)
	return err
}

// RecentFinalSnapshots lists finalized sessions, newest first, for the
// operational dashboard.
type SnapshotInfo struct {
	SessionID        string `json:"sessionId"`
	BankID           string `json:"bankId"`
	BankHash         string `json:"bankHash"`
	ConstantsProfile string `json:"constantsProfile"`
	SnapshotHash     string `json:"snapshotHash"`
}

func (s *PostgresStore) RecentFinalSnapshots(ctx context.Context, page, limit int) ([]SnapshotInfo, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var totalCount int
	countSQL := `SELECT COUNT(*) FROM final_snapshots`
	if err := s.pool.QueryRow(ctx, countSQL).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT session_id, bank_id, bank_hash, constants_profile, snapshot_hash
		FROM final_snapshots
		ORDER BY finalized_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, dataSQL, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	snapshots := make([]SnapshotInfo, 0)
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.SessionID, &info.BankID, &info.BankHash,
			&info.ConstantsProfile, &info.SnapshotHash); err != nil {
			return nil, 0, err
		}
		snapshots = append(snapshots, info)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return snapshots, totalCount, nil
}
