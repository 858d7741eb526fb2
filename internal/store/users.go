package store

import (
	"context"
	"database/sql"
	"errors"
)

// InsertUser creates a user on first interaction. A duplicate chat id is
// returned as the distinguished duplicate outcome.
func (s *Store) InsertUser(ctx context.Context, chatID int64, username, firstName, lastName, lang string) error {
	s.log.Info().Int64("chat_id", chatID).Msg("adding user")
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO Users (chat_id, username, first_name, last_name, language)
		 VALUES ($1, $2, $3, $4, $5)`,
		chatID, username, firstName, lastName, lang)
	if err != nil {
		err = mapError(err, "user already exists")
		s.log.Error().Err(err).Int64("chat_id", chatID).Msg("insert user failed")
		return err
	}
	return nil
}

func (s *Store) UserExists(ctx context.Context, chatID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM Users WHERE chat_id = $1)`, chatID).Scan(&exists)
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Msg("user existence check failed")
		return false, err
	}
	return exists, nil
}

func (s *Store) UpdateUserLanguage(ctx context.Context, chatID int64, lang string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE Users SET language = $1 WHERE chat_id = $2`, lang, chatID)
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Msg("update user language failed")
	}
	return err
}

// FetchUserLanguage returns the user's preferred language, empty when
// the user is unknown.
func (s *Store) FetchUserLanguage(ctx context.Context, chatID int64) (string, error) {
	var lang string
	err := s.db.QueryRowContext(ctx,
		`SELECT language FROM Users WHERE chat_id = $1`, chatID).Scan(&lang)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Msg("fetch user language failed")
		return "", err
	}
	return lang, nil
}

// FetchAllChatIds lists every known chat id, for admin broadcasts.
func (s *Store) FetchAllChatIds(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM Users`)
	if err != nil {
		s.log.Error().Err(err).Msg("fetch all chat ids failed")
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
