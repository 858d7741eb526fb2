// Package scheduler runs the periodic loops that feed the fetchers:
// the application monitor republishes stale subscriptions and expires
// long-missing ones, the reminder monitor fires daily forced fetches.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/appwatch/mvcr-status-bot/internal/domain"
	"github.com/appwatch/mvcr-status-bot/internal/logger"
	"github.com/appwatch/mvcr-status-bot/internal/messaging"
	"github.com/appwatch/mvcr-status-bot/internal/store"
)

// publisher is the slice of the fabric the monitors need.
type publisher interface {
	Publish(ctx context.Context, queue string, msg *messaging.Message) error
}

// applicationSource is the store view of the application monitor.
type applicationSource interface {
	FetchApplicationsNeedingUpdate(ctx context.Context, refresh, notFoundRefresh time.Duration) ([]domain.Application, error)
	FetchApplicationsToExpire(ctx context.Context, maxAge time.Duration) ([]domain.Application, error)
}

// reminderSource is the store view of the reminder monitor.
type reminderSource interface {
	FetchDueReminders(ctx context.Context, hour, minute int) ([]store.Reminder, error)
}

// jobMessage renders an application row into a queue job.
func jobMessage(app *domain.Application, requestType string, forceRefresh, isReminder bool) *messaging.Message {
	lastUpdated := "0"
	if !app.LastUpdated.IsZero() {
		lastUpdated = app.LastUpdated.Format(time.RFC3339)
	}
	return &messaging.Message{
		ChatID:        app.ChatID,
		Number:        app.Number,
		Suffix:        app.Suffix,
		Type:          app.Type,
		Year:          messaging.Year(app.Year),
		RequestType:   requestType,
		ForceRefresh:  forceRefresh,
		IsReminder:    isReminder,
		LastUpdated:   lastUpdated,
		ApplicationID: app.ID,
	}
}

// ApplicationMonitor periodically schedules refreshes for stale
// applications and expiration for long-missing ones.
type ApplicationMonitor struct {
	store  applicationSource
	fabric publisher
	log    zerolog.Logger

	tick            time.Duration
	refresh         time.Duration
	notFoundRefresh time.Duration
	notFoundMaxAge  time.Duration
}

func NewApplicationMonitor(st applicationSource, fabric publisher,
	tick, refresh, notFoundRefresh, notFoundMaxAge time.Duration) *ApplicationMonitor {
	return &ApplicationMonitor{
		store:           st,
		fabric:          fabric,
		log:             logger.Component("app-monitor"),
		tick:            tick,
		refresh:         refresh,
		notFoundRefresh: notFoundRefresh,
		notFoundMaxAge:  notFoundMaxAge,
	}
}

// Run blocks until ctx is cancelled.
func (m *ApplicationMonitor) Run(ctx context.Context) {
	m.log.Info().
		Dur("tick", m.tick).
		Dur("refresh", m.refresh).
		Dur("not_found_refresh", m.notFoundRefresh).
		Msg("application monitor started")
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		m.CheckForUpdates(ctx)
		m.CheckForExpirations(ctx)
		select {
		case <-ctx.Done():
			m.log.Info().Msg("application monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// CheckForUpdates publishes a refresh job for every stale application.
func (m *ApplicationMonitor) CheckForUpdates(ctx context.Context) {
	apps, err := m.store.FetchApplicationsNeedingUpdate(ctx, m.refresh, m.notFoundRefresh)
	if err != nil {
		m.log.Error().Err(err).Msg("could not list applications needing refresh")
		return
	}
	if len(apps) == 0 {
		m.log.Info().Msg("no applications need status refresh")
		return
	}
	m.log.Info().Int("count", len(apps)).Msg("applications need status refresh")

	for i := range apps {
		app := &apps[i]
		msg := jobMessage(app, messaging.RequestRefresh, false, false)
		m.log.Info().
			Str("application", app.OAM()).
			Int64("chat_id", app.ChatID).
			Str("last_updated", msg.LastUpdated).
			Msg("scheduling status refresh")
		if err := m.fabric.Publish(ctx, messaging.RefreshStatusQueue, msg); err != nil {
			m.log.Error().Err(err).Str("application", app.OAM()).Msg("failed to publish refresh job")
		}
	}
}

// CheckForExpirations publishes an expire job for every NOT_FOUND
// application past the maximum age.
func (m *ApplicationMonitor) CheckForExpirations(ctx context.Context) {
	apps, err := m.store.FetchApplicationsToExpire(ctx, m.notFoundMaxAge)
	if err != nil {
		m.log.Error().Err(err).Msg("could not list applications to expire")
		return
	}
	for i := range apps {
		app := &apps[i]
		msg := jobMessage(app, messaging.RequestExpire, false, false)
		m.log.Info().
			Str("application", app.OAM()).
			Int64("chat_id", app.ChatID).
			Time("created_at", app.CreatedAt).
			Msg("scheduling expiration")
		if err := m.fabric.Publish(ctx, messaging.ExpirationQueue, msg); err != nil {
			m.log.Error().Err(err).Str("application", app.OAM()).Msg("failed to publish expire job")
		}
	}
}

// ReminderMonitor fires forced fetches for due reminders, with minute
// precision in a fixed civil timezone.
type ReminderMonitor struct {
	store  reminderSource
	fabric publisher
	tz     *time.Location
	now    func() time.Time
	log    zerolog.Logger
}

func NewReminderMonitor(st reminderSource, fabric publisher, tz *time.Location) *ReminderMonitor {
	return &ReminderMonitor{
		store:  st,
		fabric: fabric,
		tz:     tz,
		now:    time.Now,
		log:    logger.Component("reminder-monitor"),
	}
}

// Run blocks until ctx is cancelled, checking once a minute.
func (m *ReminderMonitor) Run(ctx context.Context) {
	m.log.Info().Str("timezone", m.tz.String()).Msg("reminder monitor started")
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		m.Trigger(ctx)
		select {
		case <-ctx.Done():
			m.log.Info().Msg("reminder monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// Trigger publishes a forced fetch for every reminder due this minute.
func (m *ReminderMonitor) Trigger(ctx context.Context) {
	local := m.now().In(m.tz)
	reminders, err := m.store.FetchDueReminders(ctx, local.Hour(), local.Minute())
	if err != nil {
		m.log.Error().Err(err).Msg("could not list due reminders")
		return
	}
	if len(reminders) == 0 {
		m.log.Debug().Msg("no reminders due")
		return
	}
	m.log.Info().Int("count", len(reminders)).Msg("reminders due")

	for i := range reminders {
		r := &reminders[i]
		msg := jobMessage(&r.Application, messaging.RequestFetch, true, true)
		m.log.Info().
			Str("application", r.Application.OAM()).
			Int64("chat_id", r.ChatID).
			Msg("forcing status refresh for reminder")
		if err := m.fabric.Publish(ctx, messaging.ApplicationFetchQueue, msg); err != nil {
			m.log.Error().Err(err).Str("application", r.Application.OAM()).Msg("failed to publish reminder fetch")
		}
	}
}
