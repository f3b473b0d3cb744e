package gift

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresStore persists gift requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed gift request store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, r *Request) error {
	envJSON, err := json.Marshal(r.Envelope)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO gift_requests (
			id, requester_id, payer_id, gift_id, amount,
			status, created_at, expires_at, security_envelope
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.RequesterID, r.PayerID, r.GiftID, r.Amount,
		string(r.Status), r.CreatedAt, r.ExpiresAt, envJSON,
	)
	return err
}

const requestColumns = `id, requester_id, payer_id, gift_id, amount,
		       status, created_at, expires_at, security_envelope`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM gift_requests WHERE id = $1`, id)

	var r Request
	var status string
	var envJSON []byte
	err := row.Scan(&r.ID, &r.RequesterID, &r.PayerID, &r.GiftID, &r.Amount,
		&status, &r.CreatedAt, &r.ExpiresAt, &envJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if len(envJSON) > 0 && string(envJSON) != "null" {
		if err := json.Unmarshal(envJSON, &r.Envelope); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE gift_requests SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing row from a lost race.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM gift_requests WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

func (p *PostgresStore) CountByTriple(ctx context.Context, requesterID, payerID, giftID string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM gift_requests
		WHERE requester_id = $1 AND payer_id = $2 AND gift_id = $3
		  AND created_at >= $4`,
		requesterID, payerID, giftID, since,
	).Scan(&count)
	return count, err
}

func (p *PostgresStore) CountDistinctGifts(ctx context.Context, requesterID, payerID string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT gift_id) FROM gift_requests
		WHERE requester_id = $1 AND payer_id = $2 AND created_at >= $3`,
		requesterID, payerID, since,
	).Scan(&count)
	return count, err
}

func (p *PostgresStore) ListRecent(ctx context.Context, payerID string, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM gift_requests
		WHERE payer_id = $1 AND status = 'pending'
		ORDER BY created_at DESC LIMIT $2`,
		payerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		var r Request
		var status string
		var envJSON []byte
		if err := rows.Scan(&r.ID, &r.RequesterID, &r.PayerID, &r.GiftID, &r.Amount,
			&status, &r.CreatedAt, &r.ExpiresAt, &envJSON); err != nil {
			return nil, err
		}
		r.Status = Status(status)
		if len(envJSON) > 0 && string(envJSON) != "null" {
			if err := json.Unmarshal(envJSON, &r.Envelope); err != nil {
				return nil, err
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE gift_requests SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1`, now,
	)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}
