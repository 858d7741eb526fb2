package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/appwatch/mvcr-status-bot/internal/domain"
)

// InsertApplication creates a subscription in UNKNOWN state. Duplicates
// per (user, number, type, year) map to the duplicate outcome.
func (s *Store) InsertApplication(ctx context.Context, chatID int64, number, suffix, typ string, year int) error {
	s.log.Debug().
		Int64("chat_id", chatID).
		Str("application", domain.OAMString(number, suffix, typ, year)).
		Msg("adding application")
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO Applications
		   (user_id, application_number, application_suffix, application_type, application_year, application_state)
		 SELECT user_id, $2, $3, $4, $5, 'UNKNOWN' FROM Users WHERE chat_id = $1`,
		chatID, number, suffix, typ, year)
	if err != nil {
		err = mapError(err, "subscription already exists")
		s.log.Error().Err(err).Int64("chat_id", chatID).Str("number", number).Msg("insert application failed")
		return err
	}
	return nil
}

func (s *Store) DeleteApplication(ctx context.Context, chatID int64, number, typ string, year int) error {
	s.log.Info().
		Int64("chat_id", chatID).
		Str("application", domain.OAMString(number, "0", typ, year)).
		Msg("removing application")
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM Applications
		 WHERE user_id = (SELECT user_id FROM Users WHERE chat_id = $1)
		   AND application_number = $2
		   AND application_type = $3
		   AND application_year = $4`,
		chatID, number, typ, year)
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Str("number", number).Msg("delete application failed")
	}
	return err
}

func (s *Store) SubscriptionExists(ctx context.Context, chatID int64, number, typ string, year int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM Applications
		   WHERE user_id = (SELECT user_id FROM Users WHERE chat_id = $1)
		     AND application_number = $2
		     AND application_type = $3
		     AND application_year = $4)`,
		chatID, number, typ, year).Scan(&exists)
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Msg("subscription existence check failed")
		return false, err
	}
	return exists, nil
}

func (s *Store) CountUserSubscriptions(ctx context.Context, chatID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM Applications
		 WHERE user_id = (SELECT user_id FROM Users WHERE chat_id = $1)`,
		chatID).Scan(&count)
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Msg("count user subscriptions failed")
		return 0, err
	}
	return count, nil
}

func (s *Store) FetchUserSubscriptions(ctx context.Context, chatID int64) ([]domain.Application, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT application_id, application_number, application_suffix, application_type,
		        application_year, COALESCE(current_status, ''), application_state,
		        is_resolved, created_at, last_updated
		 FROM Applications
		 WHERE user_id = (SELECT user_id FROM Users WHERE chat_id = $1)
		 ORDER BY application_id`,
		chatID)
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Msg("fetch user subscriptions failed")
		return nil, err
	}
	defer rows.Close()
	return scanApplications(rows, chatID)
}

func scanApplications(rows *sql.Rows, chatID int64) ([]domain.Application, error) {
	var apps []domain.Application
	for rows.Next() {
		var (
			app         domain.Application
			state       string
			lastUpdated sql.NullTime
		)
		if err := rows.Scan(&app.ID, &app.Number, &app.Suffix, &app.Type, &app.Year,
			&app.Status, &state, &app.Resolved, &app.CreatedAt, &lastUpdated); err != nil {
			return nil, err
		}
		app.ChatID = chatID
		app.State = domain.State(state)
		if lastUpdated.Valid {
			app.LastUpdated = lastUpdated.Time
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// FetchApplicationStatus returns the stored status text for a key. found
// is false when the subscription does not exist.
func (s *Store) FetchApplicationStatus(ctx context.Context, chatID int64, number, typ string, year int) (status string, found bool, err error) {
	var stored sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT current_status FROM Applications
		 WHERE user_id = (SELECT user_id FROM Users WHERE chat_id = $1)
		   AND application_number = $2
		   AND application_type = $3
		   AND application_year = $4`,
		chatID, number, typ, year).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Str("number", number).Msg("fetch application status failed")
		return "", false, err
	}
	return stored.String, true, nil
}

// FetchStatusWithTimestamp returns the status text together with the
// last observation time, for the /status command.
func (s *Store) FetchStatusWithTimestamp(ctx context.Context, chatID int64, number, typ string, year int) (string, time.Time, error) {
	var (
		stored      sql.NullString
		lastUpdated sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT current_status, last_updated FROM Applications
		 WHERE user_id = (SELECT user_id FROM Users WHERE chat_id = $1)
		   AND application_number = $2
		   AND application_type = $3
		   AND application_year = $4`,
		chatID, number, typ, year).Scan(&stored, &lastUpdated)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Error().Err(err).Int64("chat_id", chatID).Msg("fetch status with timestamp failed")
		}
		return "", time.Time{}, err
	}
	var ts time.Time
	if lastUpdated.Valid {
		ts = lastUpdated.Time
	}
	return stored.String, ts, nil
}

// UpdateApplicationStatus atomically applies a new observation. It bumps
// last_updated always and changed_at only when the status actually
// changed, so changed_at never runs ahead of last_updated.
func (s *Store) UpdateApplicationStatus(ctx context.Context, chatID int64, number, typ string, year int,
	status string, isResolved bool, state domain.State, hasChanged bool) error {

	changedAtClause := ""
	if hasChanged {
		changedAtClause = ", changed_at = CURRENT_TIMESTAMP"
	}
	query := `UPDATE Applications
		 SET current_status = $1,
		     last_updated = CURRENT_TIMESTAMP,
		     is_resolved = $2,
		     application_state = $3` + changedAtClause + `
		 WHERE user_id = (SELECT user_id FROM Users WHERE chat_id = $4)
		   AND application_number = $5
		   AND application_type = $6
		   AND application_year = $7`

	_, err := s.db.ExecContext(ctx, query, status, isResolved, string(state), chatID, number, typ, year)
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Str("number", number).Msg("update application status failed")
	}
	return err
}

// UpdateLastChecked bumps last_updated only; used when an observation
// confirmed the stored status.
func (s *Store) UpdateLastChecked(ctx context.Context, chatID int64, number, typ string, year int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE Applications
		 SET last_updated = CURRENT_TIMESTAMP
		 WHERE user_id = (SELECT user_id FROM Users WHERE chat_id = $1)
		   AND application_number = $2
		   AND application_type = $3
		   AND application_year = $4`,
		chatID, number, typ, year)
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Str("number", number).Msg("update last checked failed")
	}
	return err
}

// FetchApplicationsNeedingUpdate selects unresolved applications whose
// observation is older than the state-dependent refresh period.
func (s *Store) FetchApplicationsNeedingUpdate(ctx context.Context, refresh, notFoundRefresh time.Duration) ([]domain.Application, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.chat_id, a.application_id, a.application_number, a.application_suffix,
		        a.application_type, a.application_year, a.last_updated, a.application_state
		 FROM Applications a
		 JOIN Users u ON a.user_id = u.user_id
		 WHERE (
		   (a.application_state != 'NOT_FOUND' AND
		    EXTRACT(EPOCH FROM (CURRENT_TIMESTAMP - COALESCE(a.last_updated, TIMESTAMP '1970-01-01'))) > $1)
		   OR
		   (a.application_state = 'NOT_FOUND' AND
		    EXTRACT(EPOCH FROM (CURRENT_TIMESTAMP - COALESCE(a.last_updated, TIMESTAMP '1970-01-01'))) > $2)
		 )
		 AND a.is_resolved = FALSE`,
		refresh.Seconds(), notFoundRefresh.Seconds())
	if err != nil {
		s.log.Error().Err(err).Msg("fetch applications needing update failed")
		return nil, err
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		var (
			app         domain.Application
			state       string
			lastUpdated sql.NullTime
		)
		if err := rows.Scan(&app.ChatID, &app.ID, &app.Number, &app.Suffix,
			&app.Type, &app.Year, &lastUpdated, &state); err != nil {
			return nil, err
		}
		app.State = domain.State(state)
		if lastUpdated.Valid {
			app.LastUpdated = lastUpdated.Time
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// FetchApplicationsToExpire selects unresolved NOT_FOUND applications
// older than maxAge, counted from creation.
func (s *Store) FetchApplicationsToExpire(ctx context.Context, maxAge time.Duration) ([]domain.Application, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.application_id, u.chat_id, a.application_number, a.application_suffix,
		        a.application_type, a.application_year, a.created_at
		 FROM Applications a
		 JOIN Users u ON a.user_id = u.user_id
		 WHERE a.application_state = 'NOT_FOUND'
		   AND EXTRACT(EPOCH FROM (CURRENT_TIMESTAMP - a.created_at)) >= $1
		   AND a.is_resolved = FALSE`,
		maxAge.Seconds())
	if err != nil {
		s.log.Error().Err(err).Msg("fetch applications to expire failed")
		return nil, err
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		var app domain.Application
		if err := rows.Scan(&app.ID, &app.ChatID, &app.Number, &app.Suffix,
			&app.Type, &app.Year, &app.CreatedAt); err != nil {
			return nil, err
		}
		app.State = domain.StateNotFound
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// ResolveApplication marks an application terminal by id.
func (s *Store) ResolveApplication(ctx context.Context, applicationID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE Applications SET is_resolved = TRUE WHERE application_id = $1`, applicationID)
	if err != nil {
		s.log.Error().Err(err).Int64("application_id", applicationID).Msg("resolve application failed")
	}
	return err
}

// CountAllSubscriptions reports totals for the admin stats view.
func (s *Store) CountAllSubscriptions(ctx context.Context, activeOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM Applications`
	if activeOnly {
		query += ` WHERE is_resolved = FALSE`
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		s.log.Error().Err(err).Msg("count subscriptions failed")
		return 0, err
	}
	return count, nil
}
