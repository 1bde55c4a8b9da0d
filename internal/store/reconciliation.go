package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

// ReconciliationStore tracks carts that should have been emptied by a
// successful checkout but were not.
type ReconciliationStore struct {
	base
}

func (s *ReconciliationStore) Record(ctx context.Context, userID, orderID int64, reason string) (*models.CartReconciliation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	entry := &models.CartReconciliation{UserID: userID, OrderID: orderID, Reason: reason}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO cart_reconciliation (users_id, orders_id, reason, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id, created_at`,
		userID, orderID, reason).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, database.Persistence("record cart reconciliation", err)
	}

	return entry, nil
}

func (s *ReconciliationStore) ListOpen(ctx context.Context) ([]models.CartReconciliation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, users_id, orders_id, reason, created_at, resolved_at
		 FROM cart_reconciliation
		 WHERE resolved_at IS NULL
		 ORDER BY created_at, id`)
	if err != nil {
		return nil, database.Persistence("list cart reconciliation", err)
	}
	defer rows.Close()

	entries := []models.CartReconciliation{}
	for rows.Next() {
		var entry models.CartReconciliation
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.OrderID,
			&entry.Reason,
			&entry.CreatedAt,
			&entry.ResolvedAt,
		)
		if err != nil {
			return nil, database.Persistence("scan cart reconciliation", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Persistence("rows error", err)
	}

	return entries, nil
}

// Resolve empties the user's cart and closes the entry in one transaction.
// It returns the number of cart lines removed.
func (s *ReconciliationStore) Resolve(ctx context.Context, id int64) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var cleared int64

	err := database.WithTransaction(ctx, s.db, s.txOptions(), func(tx *sql.Tx) error {
		var userID int64
		err := tx.QueryRowContext(ctx,
			`SELECT users_id FROM cart_reconciliation
			 WHERE id = $1 AND resolved_at IS NULL
			 FOR UPDATE`,
			id).Scan(&userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrReconciliationNotFound
			}
			return fmt.Errorf("lock cart reconciliation: %w", err)
		}

		cleared, err = clearCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE cart_reconciliation SET resolved_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("resolve cart reconciliation: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, database.Persistence("resolve cart reconciliation", err)
	}

	return cleared, nil
}
