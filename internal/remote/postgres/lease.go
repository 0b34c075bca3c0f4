package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mlevkov/tasksync/internal/common"
	"github.com/mlevkov/tasksync/internal/models"
)

// The lease invariant (at most one live lease per account) rests entirely
// on the primary key of master_leases and on expiry checks evaluated with
// the server's clock, never the client's.

const uniqueViolation = "23505"

func (c *Client) GetLease(ctx context.Context, accountID string) (*models.Lease, error) {
	var lease models.Lease
	err := c.pool.QueryRow(ctx,
		`SELECT account_id, device_id, expires_at FROM master_leases WHERE account_id = $1`,
		accountID).Scan(&lease.AccountID, &lease.DeviceID, &lease.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lease: %w", err)
	}
	lease.ExpiresAt = lease.ExpiresAt.UTC()
	return &lease, nil
}

func (c *Client) InsertLease(ctx context.Context, lease models.Lease) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO master_leases (account_id, device_id, expires_at) VALUES ($1, $2, $3)`,
		lease.AccountID, lease.DeviceID, lease.ExpiresAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return common.ErrLeaseHeld
		}
		return fmt.Errorf("insert lease: %w", err)
	}
	return nil
}

func (c *Client) ExtendLease(ctx context.Context, accountID, deviceID string, expiresAt time.Time) (bool, error) {
	ct, err := c.pool.Exec(ctx,
		`UPDATE master_leases SET expires_at = $3
		 WHERE account_id = $1 AND device_id = $2 AND expires_at > now()`,
		accountID, deviceID, expiresAt.UTC())
	if err != nil {
		return false, fmt.Errorf("extend lease: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (c *Client) ClaimExpiredLease(ctx context.Context, accountID, deviceID string, expiresAt time.Time) (bool, error) {
	ct, err := c.pool.Exec(ctx,
		`UPDATE master_leases SET device_id = $2, expires_at = $3
		 WHERE account_id = $1 AND expires_at <= now()`,
		accountID, deviceID, expiresAt.UTC())
	if err != nil {
		return false, fmt.Errorf("claim lease: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (c *Client) DeleteLease(ctx context.Context, accountID, deviceID string) error {
	_, err := c.pool.Exec(ctx,
		`DELETE FROM master_leases WHERE account_id = $1 AND device_id = $2`,
		accountID, deviceID)
	if err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	return nil
}
