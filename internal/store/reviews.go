package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

type ReviewStore struct {
	base
}

// Exists reports whether the user already reviewed the order. Non-positive
// ids are answered with false rather than an error.
func (s *ReviewStore) Exists(ctx context.Context, orderID, userID int64) (bool, error) {
	if orderID <= 0 || userID <= 0 {
		return false, nil
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM reviews WHERE order_id = $1 AND users_id = $2)`,
		orderID, userID).Scan(&exists)
	if err != nil {
		return false, database.Persistence("check review exists", err)
	}

	return exists, nil
}

// Create stores the first review for (order, user). The conflict check and
// the insert are one statement; a second review fails with ErrReviewExists.
func (s *ReviewStore) Create(ctx context.Context, orderID, userID int64, rating int, comment string) (*models.Review, error) {
	if orderID <= 0 || userID <= 0 {
		return nil, database.ErrInvalidID
	}
	if rating < 1 || rating > 5 {
		return nil, database.ErrInvalidRating
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	review := &models.Review{
		OrderID: orderID,
		UserID:  userID,
		Rating:  rating,
		Comment: strings.TrimSpace(comment),
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO reviews (users_id, order_id, rating, comment, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (order_id, users_id) DO NOTHING
		 RETURNING id, created_at`,
		userID, orderID, rating, review.Comment).Scan(&review.ID, &review.CreatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, database.ErrReviewExists
		case database.IsForeignKeyViolation(err):
			if strings.Contains(database.ViolatedConstraint(err), "order_id") {
				return nil, database.ErrOrderNotFound
			}
			return nil, database.ErrUserNotFound
		}
		return nil, database.Persistence("create review", err)
	}

	return review, nil
}

func (s *ReviewStore) GetByOrder(ctx context.Context, orderID int64) (*models.Review, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	review := &models.Review{}

	err := s.db.QueryRowContext(ctx,
		`SELECT r.id, r.order_id, r.users_id, COALESCE(u.username, ''), r.rating, r.comment, r.created_at
		 FROM reviews r
		 LEFT JOIN users u ON r.users_id = u.id
		 WHERE r.order_id = $1
		 ORDER BY r.id
		 LIMIT 1`,
		orderID).Scan(
		&review.ID,
		&review.OrderID,
		&review.UserID,
		&review.Username,
		&review.Rating,
		&review.Comment,
		&review.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrReviewNotFound
		}
		return nil, database.Persistence("get review", err)
	}

	return review, nil
}

// ListAll returns every review, newest first, for moderation.
func (s *ReviewStore) ListAll(ctx context.Context) ([]models.Review, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.order_id, r.users_id, COALESCE(u.username, ''), r.rating, r.comment, r.created_at
		 FROM reviews r
		 LEFT JOIN users u ON r.users_id = u.id
		 ORDER BY r.created_at DESC, r.id DESC`)
	if err != nil {
		return nil, database.Persistence("list reviews", err)
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		var review models.Review
		err := rows.Scan(
			&review.ID,
			&review.OrderID,
			&review.UserID,
			&review.Username,
			&review.Rating,
			&review.Comment,
			&review.CreatedAt,
		)
		if err != nil {
			return nil, database.Persistence("scan review", err)
		}
		reviews = append(reviews, review)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Persistence("rows error", err)
	}

	return reviews, nil
}
