// Package reconciler consumes status updates from the fetchers and
// drives the per-application state machine: compare, persist, notify.
package reconciler

import (
	"context"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/appwatch/mvcr-status-bot/internal/domain"
	"github.com/appwatch/mvcr-status-bot/internal/logger"
	"github.com/appwatch/mvcr-status-bot/internal/messaging"
	"github.com/appwatch/mvcr-status-bot/internal/texts"
)

// fabric is the slice of the messaging layer the reconciler needs.
type fabric interface {
	Discard(fingerprint string)
	Consume(ctx context.Context, queue string, prefetch int, handler func(context.Context, amqp.Delivery)) (string, error)
}

// statusStore is the store view of the reconciler.
type statusStore interface {
	FetchApplicationStatus(ctx context.Context, chatID int64, number, typ string, year int) (string, bool, error)
	UpdateApplicationStatus(ctx context.Context, chatID int64, number, typ string, year int,
		status string, isResolved bool, state domain.State, hasChanged bool) error
	UpdateLastChecked(ctx context.Context, chatID int64, number, typ string, year int) error
	ResolveApplication(ctx context.Context, applicationID int64) error
	FetchUserLanguage(ctx context.Context, chatID int64) (string, error)
}

// chatSink delivers user notifications.
type chatSink interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

type Reconciler struct {
	fabric   fabric
	store    statusStore
	notifier chatSink
	hub      interface{ Ingest(body []byte) error }
	prefetch int
	log      zerolog.Logger
}

func New(f fabric, st statusStore, notifier chatSink, hub interface{ Ingest(body []byte) error }, prefetch int) *Reconciler {
	return &Reconciler{
		fabric:   f,
		store:    st,
		notifier: notifier,
		hub:      hub,
		prefetch: prefetch,
		log:      logger.Component("reconciler"),
	}
}

// Start registers the three consumers. They run until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	if _, err := r.fabric.Consume(ctx, messaging.StatusUpdateQueue, r.prefetch, r.onStatusUpdate); err != nil {
		return err
	}
	if _, err := r.fabric.Consume(ctx, messaging.ExpirationQueue, r.prefetch, r.onExpiration); err != nil {
		return err
	}
	if _, err := r.fabric.Consume(ctx, messaging.FetcherMetricsQueue, 0, r.onMetrics); err != nil {
		return err
	}
	r.log.Info().Msg("reconciler consumers started")
	return nil
}

func (r *Reconciler) onStatusUpdate(ctx context.Context, d amqp.Delivery) {
	defer func() { _ = d.Ack(false) }()

	msg, err := messaging.Decode(d.Body)
	if err != nil {
		r.log.Error().Err(err).Msg("undecodable status update dropped")
		return
	}
	r.HandleStatusUpdate(ctx, msg)
}

// HandleStatusUpdate applies one observation to the store and notifies
// the user. Bad messages are logged and dropped; the consumer never
// stops over a single message.
func (r *Reconciler) HandleStatusUpdate(ctx context.Context, msg *messaging.Message) {
	// The reply carries the fingerprint of the request that produced
	// it; dropping it re-arms the dedup window for the next cycle.
	r.fabric.Discard(msg.Fingerprint())

	oam := msg.OAM()
	log := r.log.With().Str("application", oam).Int64("chat_id", msg.ChatID).Logger()

	if msg.ChatID == 0 || msg.Status == "" {
		log.Error().Msg("status update missing chat id or status, dropped")
		return
	}

	current, found, err := r.store.FetchApplicationStatus(ctx, msg.ChatID, msg.Number, msg.Type, int(msg.Year))
	if err != nil || !found {
		log.Error().Err(err).Msg("could not load current status, dropped")
		return
	}
	hasChanged := current != msg.Status

	if msg.Failed && msg.RequestType == messaging.RequestRefresh {
		// Transient refresh failures must not overwrite a known-good
		// status; the next scheduler tick retries naturally.
		log.Warn().Msg("refresh failed, keeping stored status")
		return
	}

	if !strings.Contains(msg.Status, msg.Number) {
		// The portal occasionally answers for a neighboring number.
		log.Warn().Str("status", msg.Status).Msg("status does not mention the application number, dropped")
		return
	}

	if !hasChanged && !msg.ForceRefresh {
		log.Info().Msg("status unchanged")
		if err := r.store.UpdateLastChecked(ctx, msg.ChatID, msg.Number, msg.Type, int(msg.Year)); err != nil {
			log.Error().Err(err).Msg("failed to bump last checked")
		}
		return
	}

	if msg.Failed && msg.IsReminder {
		// A reminder that could not fetch is not worth waking the user
		// for, and must not resolve the application.
		log.Warn().Msg("reminder fetch failed, dropped")
		return
	}

	category, sign, categorized := domain.Categorize(msg.Status)
	state := domain.StateOf(category, categorized)
	failedFetch := msg.Failed && msg.RequestType == messaging.RequestFetch
	isResolved := domain.Terminal(category) || failedFetch

	if err := r.store.UpdateApplicationStatus(ctx, msg.ChatID, msg.Number, msg.Type, int(msg.Year),
		msg.Status, isResolved, state, hasChanged); err != nil {
		log.Error().Err(err).Msg("failed to persist status update")
		return
	}

	if hasChanged {
		if isResolved {
			log.Info().Str("state", string(state)).Str("status", msg.Status).Msg("application resolved")
		} else if !msg.ForceRefresh {
			log.Info().Str("state", string(state)).Str("status", msg.Status).Msg("application status changed")
		}
	}

	lang, err := r.store.FetchUserLanguage(ctx, msg.ChatID)
	if err != nil {
		lang = texts.DefaultLanguage
	}

	var text string
	switch {
	case failedFetch:
		log.Warn().Msg("fetch request failed for good")
		text = texts.Render(lang, "application_failed", map[string]string{"app_string": oam})
	case !categorized:
		// The portal wording may have changed; an operator should look.
		log.Error().Str("status", msg.Status).Msg("could not categorize status")
		text = texts.Message(lang, "application_updated") + "\n\n" + msg.Status
	default:
		text = texts.CategoryMessage(lang, category, sign) + "\n\n" + msg.Status
	}

	if err := r.notifier.Notify(ctx, msg.ChatID, text); err != nil {
		log.Error().Err(err).Msg("failed to deliver status notification")
	}
}

func (r *Reconciler) onExpiration(ctx context.Context, d amqp.Delivery) {
	defer func() { _ = d.Ack(false) }()

	msg, err := messaging.Decode(d.Body)
	if err != nil {
		r.log.Error().Err(err).Msg("undecodable expiration message dropped")
		return
	}
	r.HandleExpiration(ctx, msg)
}

// HandleExpiration resolves a long-missing application and tells the
// user checking has stopped.
func (r *Reconciler) HandleExpiration(ctx context.Context, msg *messaging.Message) {
	oam := msg.OAM()
	log := r.log.With().Str("application", oam).Int64("chat_id", msg.ChatID).Logger()

	if msg.ApplicationID == 0 {
		log.Error().Msg("expiration message without application id, dropped")
		return
	}
	if err := r.store.ResolveApplication(ctx, msg.ApplicationID); err != nil {
		log.Error().Err(err).Msg("failed to resolve expired application")
		return
	}
	log.Info().Msg("application expired, checking stopped")

	lang, err := r.store.FetchUserLanguage(ctx, msg.ChatID)
	if err != nil {
		lang = texts.DefaultLanguage
	}
	text := texts.Render(lang, "application_expired", map[string]string{"app_string": oam})
	if err := r.notifier.Notify(ctx, msg.ChatID, text); err != nil {
		log.Error().Err(err).Msg("failed to deliver expiration notice")
	}
}

func (r *Reconciler) onMetrics(_ context.Context, d amqp.Delivery) {
	defer func() { _ = d.Ack(false) }()
	if r.hub == nil {
		return
	}
	_ = r.hub.Ingest(d.Body)
}
