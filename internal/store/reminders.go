package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/appwatch/mvcr-status-bot/internal/domain"
)

// Reminder is a daily time-of-day trigger tied to one application.
// Times have minute precision and are interpreted in the configured
// civil timezone.
type Reminder struct {
	ID            int64
	ChatID        int64
	ApplicationID int64
	Time          string // HH:MM
	Application   domain.Application
}

// InsertReminder adds a reminder for a user. The (user, time) pair is
// unique; violations map to the duplicate outcome. The application must
// belong to the same user, since the application id arrives from a
// callback payload the client controls.
func (s *Store) InsertReminder(ctx context.Context, chatID int64, timeInput string, applicationID int64) error {
	t, err := time.Parse("15:04", timeInput)
	if err != nil {
		s.log.Error().Str("time", timeInput).Msg("invalid reminder time format")
		return err
	}
	s.log.Debug().
		Int64("chat_id", chatID).
		Str("time", t.Format("15:04")).
		Int64("application_id", applicationID).
		Msg("adding reminder")
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO Reminders (user_id, reminder_time, application_id)
		 SELECT u.user_id, $2, $3 FROM Users u
		 WHERE u.chat_id = $1
		   AND EXISTS (SELECT 1 FROM Applications a
		               WHERE a.application_id = $3 AND a.user_id = u.user_id)`,
		chatID, t.Format("15:04"), applicationID)
	if err != nil {
		err = mapError(err, "reminder already exists")
		s.log.Error().Err(err).Int64("chat_id", chatID).Msg("insert reminder failed")
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.log.Warn().
			Int64("chat_id", chatID).
			Int64("application_id", applicationID).
			Msg("reminder rejected, application does not belong to user")
		return fmt.Errorf("application %d does not belong to chat %d", applicationID, chatID)
	}
	return nil
}

func (s *Store) DeleteReminder(ctx context.Context, reminderID int64) error {
	s.log.Info().Int64("reminder_id", reminderID).Msg("removing reminder")
	_, err := s.db.ExecContext(ctx, `DELETE FROM Reminders WHERE reminder_id = $1`, reminderID)
	if err != nil {
		s.log.Error().Err(err).Int64("reminder_id", reminderID).Msg("delete reminder failed")
	}
	return err
}

func (s *Store) FetchUserReminders(ctx context.Context, chatID int64) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.reminder_id, to_char(r.reminder_time, 'HH24:MI'),
		        a.application_id, a.application_number, a.application_suffix,
		        a.application_type, a.application_year
		 FROM Reminders r
		 JOIN Users u ON r.user_id = u.user_id
		 JOIN Applications a ON r.application_id = a.application_id
		 WHERE u.chat_id = $1
		 ORDER BY r.reminder_time`,
		chatID)
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Msg("fetch user reminders failed")
		return nil, err
	}
	defer rows.Close()

	var reminders []Reminder
	for rows.Next() {
		var r Reminder
		if err := rows.Scan(&r.ID, &r.Time, &r.Application.ID, &r.Application.Number,
			&r.Application.Suffix, &r.Application.Type, &r.Application.Year); err != nil {
			return nil, err
		}
		r.ChatID = chatID
		r.ApplicationID = r.Application.ID
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (s *Store) CountUserReminders(ctx context.Context, chatID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM Reminders
		 WHERE user_id = (SELECT user_id FROM Users WHERE chat_id = $1)`,
		chatID).Scan(&count)
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Msg("count user reminders failed")
		return 0, err
	}
	return count, nil
}

// FetchDueReminders selects reminders whose stored time matches the
// given wall-clock hour and minute and whose application is still open.
func (s *Store) FetchDueReminders(ctx context.Context, hour, minute int) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.reminder_id, u.chat_id, to_char(r.reminder_time, 'HH24:MI'),
		        a.application_id, a.application_number, a.application_suffix,
		        a.application_type, a.application_year, a.last_updated
		 FROM Reminders r
		 JOIN Users u ON r.user_id = u.user_id
		 JOIN Applications a ON r.application_id = a.application_id
		 WHERE a.is_resolved = FALSE
		   AND EXTRACT(HOUR FROM r.reminder_time) = $1
		   AND EXTRACT(MINUTE FROM r.reminder_time) = $2`,
		hour, minute)
	if err != nil {
		s.log.Error().Err(err).Msg("fetch due reminders failed")
		return nil, err
	}
	defer rows.Close()

	var reminders []Reminder
	for rows.Next() {
		var (
			r           Reminder
			lastUpdated sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Time, &r.Application.ID,
			&r.Application.Number, &r.Application.Suffix, &r.Application.Type,
			&r.Application.Year, &lastUpdated); err != nil {
			return nil, err
		}
		r.ApplicationID = r.Application.ID
		r.Application.ChatID = r.ChatID
		if lastUpdated.Valid {
			r.Application.LastUpdated = lastUpdated.Time
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// CountAllReminders reports the total for the admin stats view.
func (s *Store) CountAllReminders(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM Reminders`).Scan(&count); err != nil {
		s.log.Error().Err(err).Msg("count reminders failed")
		return 0, err
	}
	return count, nil
}
