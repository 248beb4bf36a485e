package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Draminhon/ClickPet-sub001/internal/model"
)

// GetLoyaltyAccount возвращает бонусный счёт пользователя,
// при первом обращении создавая его с нулевым балансом.
func (r *PostgresRepository) GetLoyaltyAccount(ctx context.Context, userID int64) (*model.LoyaltyAccount, error) {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO loyalty_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return nil, fmt.Errorf("ensure loyalty account: %w", err)
	}

	var acc model.LoyaltyAccount
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, total_points, lifetime_points, updated_at FROM loyalty_accounts WHERE user_id = $1`,
		userID,
	).Scan(&acc.UserID, &acc.TotalPoints, &acc.LifetimePoints, &acc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get loyalty account: %w", err)
	}

	return &acc, nil
}

// AccruePoints начисляет баллы на счёт пользователя и записывает операцию
// в журнал. Строка счёта блокируется FOR UPDATE, чтобы параллельные операции
// не нарушали инвариант balance_after.
func (r *PostgresRepository) AccruePoints(ctx context.Context, userID, points int64, txType model.TransactionType, orderID, description string) (*model.LoyaltyAccount, error) {
	var acc model.LoyaltyAccount
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := lockLoyaltyAccount(ctx, tx, userID, &acc); err != nil {
			return err
		}

		acc.TotalPoints += points
		acc.LifetimePoints += points

		if _, err := tx.Exec(ctx,
			`UPDATE loyalty_accounts
			 SET total_points = $2, lifetime_points = $3, updated_at = now()
			 WHERE user_id = $1`,
			userID, acc.TotalPoints, acc.LifetimePoints,
		); err != nil {
			return fmt.Errorf("update loyalty account: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO points_transactions (user_id, points, type, order_id, description, balance_after)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			userID, points, string(txType), orderID, description, acc.TotalPoints,
		); err != nil {
			return fmt.Errorf("insert points transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// RedeemPoints списывает баллы со счёта пользователя. Строка счёта блокируется
// FOR UPDATE: параллельные списания сериализуются и не могут увести баланс в минус.
func (r *PostgresRepository) RedeemPoints(ctx context.Context, userID, points int64, description string) (*model.LoyaltyAccount, error) {
	var acc model.LoyaltyAccount
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := lockLoyaltyAccount(ctx, tx, userID, &acc); err != nil {
			return err
		}

		if points > acc.TotalPoints {
			return fmt.Errorf("%w: have %d, want %d", ErrInsufficientPoints, acc.TotalPoints, points)
		}

		acc.TotalPoints -= points

		if _, err := tx.Exec(ctx,
			`UPDATE loyalty_accounts SET total_points = $2, updated_at = now() WHERE user_id = $1`,
			userID, acc.TotalPoints,
		); err != nil {
			return fmt.Errorf("update loyalty account: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO points_transactions (user_id, points, type, description, balance_after)
			 VALUES ($1, $2, $3, $4, $5)`,
			userID, -points, string(model.TransactionRedeemed), description, acc.TotalPoints,
		); err != nil {
			return fmt.Errorf("insert points transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// lockLoyaltyAccount создаёт при необходимости строку счёта и блокирует её FOR UPDATE.
func lockLoyaltyAccount(ctx context.Context, tx pgx.Tx, userID int64, acc *model.LoyaltyAccount) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO loyalty_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return fmt.Errorf("ensure loyalty account: %w", err)
	}

	err := tx.QueryRow(ctx,
		`SELECT user_id, total_points, lifetime_points, updated_at
		 FROM loyalty_accounts WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&acc.UserID, &acc.TotalPoints, &acc.LifetimePoints, &acc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("lock loyalty account: %w", err)
	}
	return nil
}

// GetPointsTransactions возвращает журнал операций с баллами пользователя.
func (r *PostgresRepository) GetPointsTransactions(ctx context.Context, userID int64) ([]model.PointsTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, points, type, order_id, description, balance_after, created_at
		 FROM points_transactions
		 WHERE user_id = $1
		 ORDER BY id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select points transactions: %w", err)
	}
	defer rows.Close()

	var res []model.PointsTransaction
	for rows.Next() {
		var (
			t      model.PointsTransaction
			txType string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Points, &txType, &t.OrderID, &t.Description, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan points transaction: %w", err)
		}
		t.Type = model.TransactionType(txType)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const referralColumns = `id, referrer_id, referred_id, referred_email, code, status,
	 points_awarded, order_completed, completed_at, created_at`

// CreateReferral сохраняет новое реферальное приглашение.
// Коллизия уникального кода возвращается как ErrReferralCodeTaken.
func (r *PostgresRepository) CreateReferral(ctx context.Context, ref *model.Referral) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO referrals (referrer_id, referred_email, code, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		ref.ReferrerID, ref.ReferredEmail, ref.Code, string(model.ReferralStatusPending),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrReferralCodeTaken, ref.Code)
		}
		return 0, fmt.Errorf("insert referral: %w", err)
	}
	return id, nil
}

// GetPendingReferralByReferrer возвращает ожидающее приглашение без адресата —
// персональный код пользователя для семантики «получить или создать».
func (r *PostgresRepository) GetPendingReferralByReferrer(ctx context.Context, referrerID int64) (*model.Referral, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+referralColumns+`
		 FROM referrals
		 WHERE referrer_id = $1 AND status = 'pending' AND referred_email = ''
		 ORDER BY id
		 LIMIT 1`,
		referrerID,
	)
	return scanReferral(row)
}

// GetReferralByCode возвращает приглашение по коду.
func (r *PostgresRepository) GetReferralByCode(ctx context.Context, code string) (*model.Referral, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+referralColumns+` FROM referrals WHERE code = $1`, code)
	return scanReferral(row)
}

// GetReferralsByReferrer возвращает все приглашения пользователя.
func (r *PostgresRepository) GetReferralsByReferrer(ctx context.Context, referrerID int64) ([]model.Referral, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+referralColumns+` FROM referrals WHERE referrer_id = $1 ORDER BY id`,
		referrerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select referrals: %w", err)
	}
	defer rows.Close()

	var res []model.Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanReferral(row pgx.Row) (*model.Referral, error) {
	var (
		ref    model.Referral
		status string
	)
	err := row.Scan(&ref.ID, &ref.ReferrerID, &ref.ReferredID, &ref.ReferredEmail, &ref.Code,
		&status, &ref.PointsAwarded, &ref.OrderCompleted, &ref.CompletedAt, &ref.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("scan referral: %w", err)
	}
	ref.Status = model.ReferralStatus(status)
	return &ref, nil
}

// MarkReferralRegistered связывает приглашение с зарегистрировавшимся
// пользователем и переводит его в статус registered.
func (r *PostgresRepository) MarkReferralRegistered(ctx context.Context, code string, referredID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE referrals SET referred_id = $2, status = 'registered'
		 WHERE code = $1 AND status = 'pending'`,
		code, referredID,
	)
	if err != nil {
		return fmt.Errorf("mark referral registered: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrReferralNotFound, code)
	}
	return nil
}

// GetRegisteredReferralByReferred возвращает приглашение в статусе registered
// для указанного приглашённого пользователя.
func (r *PostgresRepository) GetRegisteredReferralByReferred(ctx context.Context, referredID int64) (*model.Referral, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+referralColumns+`
		 FROM referrals
		 WHERE referred_id = $1 AND status = 'registered'
		 ORDER BY id
		 LIMIT 1`,
		referredID,
	)
	return scanReferral(row)
}

// CompleteReferral завершает приглашение и начисляет вознаграждение
// пригласившему в одной транзакции.
func (r *PostgresRepository) CompleteReferral(ctx context.Context, referralID, rewardPoints int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var referrerID int64
		err = tx.QueryRow(ctx,
			`UPDATE referrals
			 SET status = 'completed', order_completed = TRUE, completed_at = now(), points_awarded = $2
			 WHERE id = $1 AND status = 'registered'
			 RETURNING referrer_id`,
			referralID, rewardPoints,
		).Scan(&referrerID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: id %d", ErrReferralNotFound, referralID)
			}
			return fmt.Errorf("complete referral: %w", err)
		}

		var acc model.LoyaltyAccount
		if err := lockLoyaltyAccount(ctx, tx, referrerID, &acc); err != nil {
			return err
		}

		acc.TotalPoints += rewardPoints
		acc.LifetimePoints += rewardPoints

		if _, err := tx.Exec(ctx,
			`UPDATE loyalty_accounts
			 SET total_points = $2, lifetime_points = $3, updated_at = now()
			 WHERE user_id = $1`,
			referrerID, acc.TotalPoints, acc.LifetimePoints,
		); err != nil {
			return fmt.Errorf("update loyalty account: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO points_transactions (user_id, points, type, description, balance_after)
			 VALUES ($1, $2, $3, $4, $5)`,
			referrerID, rewardPoints, string(model.TransactionReferral), "referral reward", acc.TotalPoints,
		); err != nil {
			return fmt.Errorf("insert points transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
