package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/caremesh/telehealth-booking/internal/store"
)

type PgRepository struct{}

func NewPgRepository() *PgRepository {
	return &PgRepository{}
}

const subscriptionColumns = `
	id, user_id, plan_id, status, start_date, end_date,
	remaining_consultations, remaining_therapy_sessions, auto_renew,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.PlanID,
		&s.Status,
		&s.StartDate,
		&s.EndDate,
		&s.RemainingConsultations,
		&s.RemainingTherapySessions,
		&s.AutoRenew,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Price,
		&p.DurationDays,
		&p.MaxConsultations,
		&p.MaxTherapySessions,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) GetPlanByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Plan, error) {
	row := q.QueryRow(ctx, `
		SELECT id, name, price, duration_days, max_consultations, max_therapy_sessions, created_at, updated_at
		FROM plans
		WHERE id = $1
	`, id)
	return scanPlan(row)
}

func (r *PgRepository) ListPlans(ctx context.Context, q store.Querier) ([]Plan, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, price, duration_days, max_consultations, max_therapy_sessions, created_at, updated_at
		FROM plans
		ORDER BY price
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	return result, rows.Err()
}

func (r *PgRepository) GetByID(ctx context.Context, q store.Querier, id uuid.UUID) (*Subscription, error) {
	row := q.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (r *PgRepository) GetCurrentByUser(ctx context.Context, q store.Querier, userID uuid.UUID) (*Subscription, error) {
	row := q.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'paused')
	`, userID)
	return scanSubscription(row)
}

func (r *PgRepository) GetCurrentByUserForUpdate(ctx context.Context, q store.Querier, userID uuid.UUID) (*Subscription, error) {
	row := q.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'paused')
		FOR UPDATE
	`, userID)
	return scanSubscription(row)
}

func (r *PgRepository) Insert(ctx context.Context, q store.Querier, s *Subscription) error {
	row := q.QueryRow(ctx, `
		INSERT INTO subscriptions (
			id, user_id, plan_id, status, start_date, end_date,
			remaining_consultations, remaining_therapy_sessions, auto_renew,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+subscriptionColumns+`
	`, s.ID, s.UserID, s.PlanID, s.Status, s.StartDate, s.EndDate,
		s.RemainingConsultations, s.RemainingTherapySessions, s.AutoRenew)

	saved, err := scanSubscription(row)
	if err != nil {
		return err
	}
	*s = *saved
	return nil
}

func (r *PgRepository) Activate(ctx context.Context, q store.Querier, id uuid.UUID) (*Subscription, error) {
	row := q.QueryRow(ctx, `
		UPDATE subscriptions s
		SET status = 'active',
		    start_date = now(),
		    end_date = now() + make_interval(days => p.duration_days),
		    remaining_consultations = p.max_consultations,
		    remaining_therapy_sessions = p.max_therapy_sessions,
		    updated_at = now()
		FROM plans p
		WHERE s.id = $1
		  AND s.status = 'pending'
		  AND p.id = s.plan_id
		  AND NOT EXISTS (
			SELECT 1 FROM subscriptions o
			WHERE o.user_id = s.user_id
			  AND o.status IN ('active', 'paused')
			  AND o.id <> s.id
		  )
		RETURNING s.id, s.user_id, s.plan_id, s.status, s.start_date, s.end_date,
		          s.remaining_consultations, s.remaining_therapy_sessions, s.auto_renew,
		          s.created_at, s.updated_at
	`, id)

	return scanSubscription(row)
}

func (r *PgRepository) SetStatus(ctx context.Context, q store.Querier, id uuid.UUID, from, to Status) (*Subscription, error) {
	row := q.QueryRow(ctx, `
		UPDATE subscriptions
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+subscriptionColumns+`
	`, id, to, from)

	return scanSubscription(row)
}

func quotaColumn(category Category) string {
	if category == CategoryTherapy {
		return "remaining_therapy_sessions"
	}
	return "remaining_consultations"
}

func maxColumn(category Category) string {
	if category == CategoryTherapy {
		return "max_therapy_sessions"
	}
	return "max_consultations"
}

func (r *PgRepository) ConsumeQuota(ctx context.Context, q store.Querier, id uuid.UUID, category Category) (bool, error) {
	col := quotaColumn(category)
	tag, err := q.Exec(ctx, fmt.Sprintf(`
		UPDATE subscriptions
		SET %[1]s = %[1]s - 1,
		    updated_at = now()
		WHERE id = $1
		  AND %[1]s > 0
	`, col), id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) RefundQuota(ctx context.Context, q store.Querier, id uuid.UUID, category Category) (bool, error) {
	col := quotaColumn(category)
	maxCol := maxColumn(category)
	tag, err := q.Exec(ctx, fmt.Sprintf(`
		UPDATE subscriptions s
		SET %[1]s = s.%[1]s + 1,
		    updated_at = now()
		FROM plans p
		WHERE s.id = $1
		  AND p.id = s.plan_id
		  AND s.%[1]s >= 0
		  AND (p.%[2]s = -1 OR s.%[1]s < p.%[2]s)
	`, col, maxCol), id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) Renew(ctx context.Context, q store.Querier, id uuid.UUID) (*Subscription, error) {
	row := q.QueryRow(ctx, `
		UPDATE subscriptions s
		SET start_date = GREATEST(s.end_date, now()),
		    end_date = GREATEST(s.end_date, now()) + make_interval(days => p.duration_days),
		    remaining_consultations = p.max_consultations,
		    remaining_therapy_sessions = p.max_therapy_sessions,
		    updated_at = now()
		FROM plans p
		WHERE s.id = $1
		  AND s.status = 'active'
		  AND p.id = s.plan_id
		RETURNING s.id, s.user_id, s.plan_id, s.status, s.start_date, s.end_date,
		          s.remaining_consultations, s.remaining_therapy_sessions, s.auto_renew,
		          s.created_at, s.updated_at
	`, id)

	return scanSubscription(row)
}

func (r *PgRepository) FindRenewable(ctx context.Context, q store.Querier, now time.Time) ([]Subscription, error) {
	rows, err := q.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'active'
		  AND auto_renew = true
		  AND end_date < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	return result, rows.Err()
}

func (r *PgRepository) FindOverdue(ctx context.Context, q store.Querier, now time.Time) ([]Subscription, error) {
	rows, err := q.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status IN ('active', 'paused')
		  AND end_date < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	return result, rows.Err()
}
