package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Draminhon/ClickPet-sub001/internal/model"
)

const subscriptionColumns = `id, partner_id, plan, status, start_date, end_date, auto_renew,
	 payment_method, amount_cents, max_products, max_services, max_images,
	 has_analytics, has_priority_support, has_advanced_reports, created_at, updated_at`

// CreateSubscription создаёт подписку партнёра, проставляет обратную ссылку
// в записи пользователя и добавляет событие created в историю. Все записи
// выполняются в одной транзакции; уникальный индекс на partner_id отклоняет
// повторное создание.
func (r *PostgresRepository) CreateSubscription(ctx context.Context, sub *model.Subscription) (int64, error) {
	var id int64
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx,
			`INSERT INTO subscriptions
			 (partner_id, plan, status, start_date, end_date, auto_renew, payment_method,
			  amount_cents, max_products, max_services, max_images,
			  has_analytics, has_priority_support, has_advanced_reports)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 RETURNING id`,
			sub.PartnerID, sub.Plan, string(sub.Status), sub.StartDate, sub.EndDate,
			sub.AutoRenew, sub.PaymentMethod, sub.AmountCents,
			sub.Features.MaxProducts, sub.Features.MaxServices, sub.Features.MaxImages,
			sub.Features.HasAnalytics, sub.Features.HasPrioritySupport, sub.Features.HasAdvancedReports,
		).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: partner %d", ErrSubscriptionExists, sub.PartnerID)
			}
			return fmt.Errorf("insert subscription: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE users SET subscription_id = $2 WHERE id = $1`,
			sub.PartnerID, id,
		); err != nil {
			return fmt.Errorf("link subscription to user: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO subscription_history (subscription_id, action, previous_plan, new_plan, notes)
			 VALUES ($1, $2, $3, $4, $5)`,
			id, string(model.HistoryActionCreated), "", sub.Plan, "",
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetSubscriptionByID возвращает подписку вместе с историей событий.
func (r *PostgresRepository) GetSubscriptionByID(ctx context.Context, id int64) (*model.Subscription, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		return nil, err
	}

	history, err := r.getHistory(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	sub.History = history

	return sub, nil
}

// GetSubscriptionByPartner возвращает подписку партнёра вместе с историей событий.
func (r *PostgresRepository) GetSubscriptionByPartner(ctx context.Context, partnerID int64) (*model.Subscription, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE partner_id = $1`, partnerID)

	sub, err := scanSubscription(row)
	if err != nil {
		return nil, err
	}

	history, err := r.getHistory(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	sub.History = history

	return sub, nil
}

func (r *PostgresRepository) getHistory(ctx context.Context, subscriptionID int64) ([]model.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, action, previous_plan, new_plan, notes, created_at
		 FROM subscription_history
		 WHERE subscription_id = $1
		 ORDER BY id`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var res []model.HistoryEntry
	for rows.Next() {
		var (
			e      model.HistoryEntry
			action string
		)
		if err := rows.Scan(&e.ID, &action, &e.PreviousPlan, &e.NewPlan, &e.Notes, &e.Date); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Action = model.HistoryAction(action)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var (
		sub    model.Subscription
		status string
	)
	err := row.Scan(
		&sub.ID, &sub.PartnerID, &sub.Plan, &status, &sub.StartDate, &sub.EndDate,
		&sub.AutoRenew, &sub.PaymentMethod, &sub.AmountCents,
		&sub.Features.MaxProducts, &sub.Features.MaxServices, &sub.Features.MaxImages,
		&sub.Features.HasAnalytics, &sub.Features.HasPrioritySupport, &sub.Features.HasAdvancedReports,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Status = model.SubscriptionStatus(status)
	sub.Features.PriceCents = sub.AmountCents
	return &sub, nil
}

// UpdateSubscriptionPlan переводит подписку на другой тариф, перезаписывает
// снимок возможностей и стоимость и добавляет событие в историю.
func (r *PostgresRepository) UpdateSubscriptionPlan(ctx context.Context, id int64, newPlan string, f model.PlanFeatures, action model.HistoryAction, previousPlan, notes string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE subscriptions
			 SET plan = $2, amount_cents = $3, max_products = $4, max_services = $5,
			     max_images = $6, has_analytics = $7, has_priority_support = $8,
			     has_advanced_reports = $9, updated_at = now()
			 WHERE id = $1`,
			id, newPlan, f.PriceCents, f.MaxProducts, f.MaxServices, f.MaxImages,
			f.HasAnalytics, f.HasPrioritySupport, f.HasAdvancedReports,
		)
		if err != nil {
			return fmt.Errorf("update subscription plan: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrSubscriptionNotFound
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO subscription_history (subscription_id, action, previous_plan, new_plan, notes)
			 VALUES ($1, $2, $3, $4, $5)`,
			id, string(action), previousPlan, newPlan, notes,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// UpdateSubscriptionStatus меняет статус подписки и добавляет событие в историю.
func (r *PostgresRepository) UpdateSubscriptionStatus(ctx context.Context, id int64, status model.SubscriptionStatus, action model.HistoryAction, notes string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var plan string
		err = tx.QueryRow(ctx,
			`UPDATE subscriptions SET status = $2, updated_at = now() WHERE id = $1 RETURNING plan`,
			id, string(status),
		).Scan(&plan)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSubscriptionNotFound
			}
			return fmt.Errorf("update subscription status: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO subscription_history (subscription_id, action, previous_plan, new_plan, notes)
			 VALUES ($1, $2, $3, $4, $5)`,
			id, string(action), plan, plan, notes,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// UpsertPartnerSubscription создаёт или продлевает подписку партнёра
// (самообслуживание, активация без оплаты). Существующая строка блокируется
// FOR UPDATE, тип события определяется сравнением стоимости тарифов.
func (r *PostgresRepository) UpsertPartnerSubscription(ctx context.Context, partnerID int64, planName string, f model.PlanFeatures, start, end time.Time) (int64, model.HistoryAction, error) {
	var (
		subID  int64
		action model.HistoryAction
	)

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			prevPlan   string
			prevAmount int64
		)
		err = tx.QueryRow(ctx,
			`SELECT id, plan, amount_cents FROM subscriptions WHERE partner_id = $1 FOR UPDATE`,
			partnerID,
		).Scan(&subID, &prevPlan, &prevAmount)

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			action = model.HistoryActionCreated
			err = tx.QueryRow(ctx,
				`INSERT INTO subscriptions
				 (partner_id, plan, status, start_date, end_date, auto_renew, amount_cents,
				  max_products, max_services, max_images,
				  has_analytics, has_priority_support, has_advanced_reports)
				 VALUES ($1, $2, 'active', $3, $4, TRUE, $5, $6, $7, $8, $9, $10, $11)
				 RETURNING id`,
				partnerID, planName, start, end, f.PriceCents,
				f.MaxProducts, f.MaxServices, f.MaxImages,
				f.HasAnalytics, f.HasPrioritySupport, f.HasAdvancedReports,
			).Scan(&subID)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: partner %d", ErrSubscriptionExists, partnerID)
				}
				return fmt.Errorf("insert subscription: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE users SET subscription_id = $2 WHERE id = $1`,
				partnerID, subID,
			); err != nil {
				return fmt.Errorf("link subscription to user: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO subscription_history (subscription_id, action, previous_plan, new_plan)
				 VALUES ($1, $2, '', $3)`,
				subID, string(model.HistoryActionCreated), planName,
			); err != nil {
				return fmt.Errorf("insert history: %w", err)
			}
		case err != nil:
			return fmt.Errorf("select subscription for update: %w", err)
		default:
			action = model.ClassifyPlanChange(prevAmount, f.PriceCents)
			if _, err := tx.Exec(ctx,
				`UPDATE subscriptions
				 SET plan = $2, status = 'active', start_date = $3, end_date = $4,
				     amount_cents = $5, max_products = $6, max_services = $7, max_images = $8,
				     has_analytics = $9, has_priority_support = $10, has_advanced_reports = $11,
				     updated_at = now()
				 WHERE id = $1`,
				subID, planName, start, end, f.PriceCents,
				f.MaxProducts, f.MaxServices, f.MaxImages,
				f.HasAnalytics, f.HasPrioritySupport, f.HasAdvancedReports,
			); err != nil {
				return fmt.Errorf("update subscription: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO subscription_history (subscription_id, action, previous_plan, new_plan)
				 VALUES ($1, $2, $3, $4)`,
				subID, string(action), prevPlan, planName,
			); err != nil {
				return fmt.Errorf("insert history: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, "", err
	}
	return subID, action, nil
}

// GetExpiredActiveSubscriptions возвращает активные подписки, срок которых истёк.
func (r *PostgresRepository) GetExpiredActiveSubscriptions(ctx context.Context, now time.Time, limit int) ([]model.Subscription, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status = 'active' AND end_date <= $1
		 ORDER BY end_date
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired subscriptions: %w", err)
	}
	defer rows.Close()

	var res []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// RenewSubscriptionPeriod продлевает подписку до новой даты окончания
// и добавляет событие renewed в историю.
func (r *PostgresRepository) RenewSubscriptionPeriod(ctx context.Context, id int64, newEnd time.Time, notes string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var plan string
		err = tx.QueryRow(ctx,
			`UPDATE subscriptions SET end_date = $2, status = 'active', updated_at = now()
			 WHERE id = $1 RETURNING plan`,
			id, newEnd,
		).Scan(&plan)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSubscriptionNotFound
			}
			return fmt.Errorf("renew subscription: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO subscription_history (subscription_id, action, previous_plan, new_plan, notes)
			 VALUES ($1, $2, $3, $3, $4)`,
			id, string(model.HistoryActionRenewed), plan, notes,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
