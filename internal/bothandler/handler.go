// Package bothandler implements the Telegram command surface: the
// subscription dialog, status queries, reminders and admin commands.
package bothandler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/appwatch/mvcr-status-bot/internal/apperrors"
	"github.com/appwatch/mvcr-status-bot/internal/domain"
	"github.com/appwatch/mvcr-status-bot/internal/logger"
	"github.com/appwatch/mvcr-status-bot/internal/messaging"
	"github.com/appwatch/mvcr-status-bot/internal/metricshub"
	"github.com/appwatch/mvcr-status-bot/internal/store"
	"github.com/appwatch/mvcr-status-bot/internal/texts"
)

// datastore is the store view of the handler.
type datastore interface {
	InsertUser(ctx context.Context, chatID int64, username, firstName, lastName, lang string) error
	UpdateUserLanguage(ctx context.Context, chatID int64, lang string) error
	FetchUserLanguage(ctx context.Context, chatID int64) (string, error)
	FetchAllChatIds(ctx context.Context) ([]int64, error)

	InsertApplication(ctx context.Context, chatID int64, number, suffix, typ string, year int) error
	DeleteApplication(ctx context.Context, chatID int64, number, typ string, year int) error
	CountUserSubscriptions(ctx context.Context, chatID int64) (int, error)
	FetchUserSubscriptions(ctx context.Context, chatID int64) ([]domain.Application, error)
	FetchStatusWithTimestamp(ctx context.Context, chatID int64, number, typ string, year int) (string, time.Time, error)
	CountAllSubscriptions(ctx context.Context, activeOnly bool) (int, error)

	InsertReminder(ctx context.Context, chatID int64, timeInput string, applicationID int64) error
	DeleteReminder(ctx context.Context, reminderID int64) error
	FetchUserReminders(ctx context.Context, chatID int64) ([]store.Reminder, error)
	CountUserReminders(ctx context.Context, chatID int64) (int, error)
	CountAllReminders(ctx context.Context) (int, error)
}

// sink delivers replies; the production implementation retries with
// backoff.
type sink interface {
	Notify(ctx context.Context, chatID int64, text string) error
	NotifyWithMarkup(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) error
}

// publisher puts jobs on the fetch queues.
type publisher interface {
	Publish(ctx context.Context, queue string, msg *messaging.Message) error
}

// limiter caps daily command usage per chat.
type limiter interface {
	Allow(ctx context.Context, chatID int64) bool
}

// statsHub exposes the live fetcher snapshots for /fetcher_stats.
type statsHub interface {
	Snapshots() []metricshub.Snapshot
}

// Config tunes the handler.
type Config struct {
	AdminChatIDs      []int64
	SubscriptionLimit int
	ReminderLimit     int
	RefreshPeriod     time.Duration
	Timezone          *time.Location
}

type Handler struct {
	store   datastore
	sink    sink
	fabric  publisher
	limiter limiter
	hub     statsHub
	states  *StateManager
	cfg     Config
	admins  map[int64]bool
	now     func() time.Time
	log     zerolog.Logger
}

func New(st datastore, sink sink, fabric publisher, limiter limiter, hub statsHub, cfg Config) *Handler {
	admins := make(map[int64]bool, len(cfg.AdminChatIDs))
	for _, id := range cfg.AdminChatIDs {
		admins[id] = true
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	return &Handler{
		store:   st,
		sink:    sink,
		fabric:  fabric,
		limiter: limiter,
		hub:     hub,
		states:  NewStateManager(30 * time.Minute),
		cfg:     cfg,
		admins:  admins,
		now:     time.Now,
		log:     logger.Component("bothandler"),
	}
}

// Register wires the handler into the bot's dispatch.
func (h *Handler) Register(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, h.onMessage)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, h.onCallback)
}

// StartSessionCleanup evicts stale dialog sessions until the returned
// stop function is called.
func (h *Handler) StartSessionCleanup(interval time.Duration) func() {
	return h.states.StartCleanupRoutine(interval)
}

func (h *Handler) onMessage(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	msg := update.Message
	chatID := msg.Chat.ID
	lang := h.language(ctx, chatID)
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		h.dispatchCommand(ctx, msg, lang)
		return
	}

	switch h.states.Get(chatID).Step {
	case stepNumber:
		h.handleNumberInput(ctx, chatID, text, lang)
	case stepReminderTime:
		h.handleReminderTimeInput(ctx, chatID, text, lang)
	default:
		h.reply(ctx, chatID, texts.Message(lang, "unknown_input"))
	}
}

func (h *Handler) dispatchCommand(ctx context.Context, msg *models.Message, lang string) {
	chatID := msg.Chat.ID
	cmd, args := splitCommand(msg.Text)
	h.log.Info().Int64("chat_id", chatID).Str("command", cmd).Msg("command received")

	switch cmd {
	case "start":
		h.handleStart(ctx, msg, lang)
	case "help":
		h.reply(ctx, chatID, texts.Message(lang, "help_text"))
	case "subscribe":
		h.startSubscribeDialog(ctx, chatID, lang)
	case "unsubscribe":
		h.handleUnsubscribe(ctx, chatID, lang)
	case "status":
		h.handleStatus(ctx, chatID, lang)
	case "force_refresh":
		h.handleForceRefresh(ctx, chatID, lang)
	case "lang":
		h.handleLang(ctx, chatID)
	case "reminder":
		h.handleReminder(ctx, chatID, lang)
	case "admin_stats":
		h.handleAdminStats(ctx, chatID)
	case "fetcher_stats":
		h.handleFetcherStats(ctx, chatID)
	case "admin_broadcast":
		h.handleAdminBroadcast(ctx, chatID, args)
	default:
		h.reply(ctx, chatID, texts.Message(lang, "unknown_input_funny"))
	}
}

func splitCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(strings.TrimPrefix(text, "/"))
	cmd, args, _ = strings.Cut(text, " ")
	// Strip the @botname suffix used in groups.
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd, strings.TrimSpace(args)
}

func (h *Handler) onCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	cb := update.CallbackQuery
	if cb == nil {
		return
	}
	_, _ = b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cb.ID})

	chatID := cb.From.ID
	lang := h.language(ctx, chatID)
	h.HandleCallback(ctx, chatID, cb.Data, lang)
}

// HandleCallback routes inline-keyboard presses by their data prefix.
func (h *Handler) HandleCallback(ctx context.Context, chatID int64, data, lang string) {
	action, rest, _ := strings.Cut(data, ":")
	switch action {
	case "subscribe":
		h.startSubscribeDialog(ctx, chatID, lang)
	case "type":
		h.handleTypeChosen(ctx, chatID, rest, lang)
	case "year":
		h.handleYearChosen(ctx, chatID, rest, lang)
	case "proceed_subscribe":
		h.completeSubscription(ctx, chatID, lang)
	case "cancel_subscribe":
		h.states.Clear(chatID)
		h.reply(ctx, chatID, texts.Message(lang, "dialog_cancel"))
	case "unsub":
		h.handleUnsubscribeChosen(ctx, chatID, rest, lang)
	case "status":
		h.handleStatusChosen(ctx, chatID, rest, lang)
	case "refresh":
		h.handleRefreshChosen(ctx, chatID, rest, lang)
	case "lang":
		h.handleLangChosen(ctx, chatID, rest)
	case "rem":
		h.handleReminderAction(ctx, chatID, rest, lang)
	case "remapp":
		h.handleReminderAppChosen(ctx, chatID, rest, lang)
	case "remdel":
		h.handleReminderDelete(ctx, chatID, rest, lang)
	default:
		h.reply(ctx, chatID, texts.Message(lang, "unknown_input"))
	}
}

// --- start / language ---

func (h *Handler) handleStart(ctx context.Context, msg *models.Message, lang string) {
	chatID := msg.Chat.ID
	var username, firstName, lastName string
	if msg.From != nil {
		username = msg.From.Username
		firstName = msg.From.FirstName
		lastName = msg.From.LastName
		if lang == texts.DefaultLanguage && msg.From.LanguageCode != "" {
			lang = texts.Normalize(strings.ToUpper(msg.From.LanguageCode))
		}
	}
	if err := h.store.InsertUser(ctx, chatID, username, firstName, lastName, lang); err != nil && !apperrors.IsDuplicate(err) {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to create user")
		h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
		return
	}

	minutes := int(h.cfg.RefreshPeriod.Minutes())
	welcome := texts.Render(lang, "start_text", map[string]string{
		"refresh_period": strconv.Itoa(minutes),
	}) + "\n\n" + texts.Message(lang, "subscribe_intro")

	markup := &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{{
		{Text: texts.Button(lang, "subscribe_button"), CallbackData: "subscribe"},
	}}}
	h.replyMarkup(ctx, chatID, welcome, markup)
}

func (h *Handler) handleLang(ctx context.Context, chatID int64) {
	rows := make([][]models.InlineKeyboardButton, 0, len(texts.Languages))
	for _, l := range texts.Languages {
		rows = append(rows, []models.InlineKeyboardButton{{Text: l, CallbackData: "lang:" + l}})
	}
	h.replyMarkup(ctx, chatID, "Language / Язык / Jazyk / Мова:", &models.InlineKeyboardMarkup{InlineKeyboard: rows})
}

func (h *Handler) handleLangChosen(ctx context.Context, chatID int64, choice string) {
	lang := texts.Normalize(choice)
	if err := h.store.UpdateUserLanguage(ctx, chatID, lang); err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
		return
	}
	h.reply(ctx, chatID, texts.Message(lang, "language_selected"))
}

// --- subscription dialog ---

func (h *Handler) startSubscribeDialog(ctx context.Context, chatID int64, lang string) {
	if !h.limiter.Allow(ctx, chatID) {
		h.reply(ctx, chatID, texts.Message(lang, "ratelimit_exceeded"))
		return
	}
	count, err := h.store.CountUserSubscriptions(ctx, chatID)
	if err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
		return
	}
	if count >= h.cfg.SubscriptionLimit {
		h.reply(ctx, chatID, texts.Render(lang, "max_subscriptions_reached", map[string]string{
			"limit": strconv.Itoa(h.cfg.SubscriptionLimit),
		}))
		return
	}
	h.states.Set(chatID, session{Step: stepNumber})
	h.reply(ctx, chatID, texts.Message(lang, "dialog_app_number"))
}

func (h *Handler) handleNumberInput(ctx context.Context, chatID int64, input, lang string) {
	s := h.states.Get(chatID)

	// A full identifier skips the type and year keyboards.
	if number, suffix, typ, year, err := domain.ParseOAM(input); err == nil {
		if !domain.ValidType(typ) || !domain.ValidYear(year, h.now()) {
			h.reply(ctx, chatID, texts.Message(lang, "error_invalid_number"))
			return
		}
		s.Number, s.Suffix, s.Type, s.Year = number, suffix, typ, year
		s.Step = stepConfirm
		h.states.Set(chatID, s)
		h.askConfirmation(ctx, chatID, s, lang)
		return
	}

	number, suffix, err := domain.ParseNumber(input)
	if err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "error_invalid_number"))
		return
	}
	s.Number, s.Suffix = number, suffix
	s.Step = stepType
	h.states.Set(chatID, s)
	h.replyMarkup(ctx, chatID, texts.Message(lang, "dialog_type"), typeKeyboard())
}

// typeKeyboard lists popular types first, the rest after.
func typeKeyboard() *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton
	row := make([]models.InlineKeyboardButton, 0, 3)
	seen := make(map[string]bool)
	ordered := append(append([]string{}, domain.PopularTypes...), domain.AllowedTypes...)
	for _, t := range ordered {
		if seen[t] {
			continue
		}
		seen[t] = true
		row = append(row, models.InlineKeyboardButton{Text: t, CallbackData: "type:" + t})
		if len(row) == 3 {
			rows = append(rows, row)
			row = make([]models.InlineKeyboardButton, 0, 3)
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (h *Handler) handleTypeChosen(ctx context.Context, chatID int64, typ, lang string) {
	if !domain.ValidType(typ) {
		h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
		return
	}
	s := h.states.Get(chatID)
	if s.Step != stepType {
		h.reply(ctx, chatID, texts.Message(lang, "unknown_input"))
		return
	}
	s.Type = typ
	s.Step = stepYear
	h.states.Set(chatID, s)

	years := domain.AllowedYears(h.now())
	row := make([]models.InlineKeyboardButton, 0, len(years))
	for _, y := range years {
		row = append(row, models.InlineKeyboardButton{
			Text:         strconv.Itoa(y),
			CallbackData: "year:" + strconv.Itoa(y),
		})
	}
	h.replyMarkup(ctx, chatID, texts.Message(lang, "dialog_year"),
		&models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{row}})
}

func (h *Handler) handleYearChosen(ctx context.Context, chatID int64, choice, lang string) {
	year, err := strconv.Atoi(choice)
	if err != nil || !domain.ValidYear(year, h.now()) {
		h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
		return
	}
	s := h.states.Get(chatID)
	if s.Step != stepYear {
		h.reply(ctx, chatID, texts.Message(lang, "unknown_input"))
		return
	}
	s.Year = year
	s.Step = stepConfirm
	h.states.Set(chatID, s)
	h.askConfirmation(ctx, chatID, s, lang)
}

func (h *Handler) askConfirmation(ctx context.Context, chatID int64, s session, lang string) {
	vars := map[string]string{
		"number": s.Number,
		"suffix": s.Suffix,
		"type":   s.Type,
		"year":   strconv.Itoa(s.Year),
	}
	key := "dialog_confirmation"
	if s.Suffix == "" || s.Suffix == "0" {
		key = "dialog_confirmation_no_suffix"
	}
	markup := &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		{{Text: texts.Button(lang, "subscribe_correct"), CallbackData: "proceed_subscribe"}},
		{{Text: texts.Button(lang, "subscribe_incorrect"), CallbackData: "cancel_subscribe"}},
	}}
	h.replyMarkup(ctx, chatID, texts.Render(lang, key, vars), markup)
}

func (h *Handler) completeSubscription(ctx context.Context, chatID int64, lang string) {
	s := h.states.Get(chatID)
	if s.Step != stepConfirm {
		h.reply(ctx, chatID, texts.Message(lang, "unknown_input"))
		return
	}
	defer h.states.Clear(chatID)

	err := h.store.InsertApplication(ctx, chatID, s.Number, s.Suffix, s.Type, s.Year)
	if apperrors.IsDuplicate(err) {
		h.reply(ctx, chatID, texts.Message(lang, "already_subscribed"))
		return
	}
	if err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "error_subscribe"))
		return
	}

	job := &messaging.Message{
		ChatID:      chatID,
		Number:      s.Number,
		Suffix:      s.Suffix,
		Type:        s.Type,
		Year:        messaging.Year(s.Year),
		RequestType: messaging.RequestFetch,
		LastUpdated: "0",
	}
	if err := h.fabric.Publish(ctx, messaging.ApplicationFetchQueue, job); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to publish initial fetch")
	}
	h.reply(ctx, chatID, texts.Message(lang, "dialog_completion"))
}

// --- unsubscribe / status / force refresh ---

// subscriptionKeyboard renders one button per subscription with the
// given callback prefix.
func subscriptionKeyboard(prefix string, apps []domain.Application) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(apps))
	for _, app := range apps {
		data := fmt.Sprintf("%s:%s:%s:%s:%d", prefix, app.Number, app.Suffix, app.Type, app.Year)
		rows = append(rows, []models.InlineKeyboardButton{{Text: app.OAM(), CallbackData: data}})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// parseAppCallback decodes "number:suffix:type:year" callback payloads.
func parseAppCallback(rest string) (number, suffix, typ string, year int, err error) {
	parts := strings.Split(rest, ":")
	if len(parts) != 4 {
		return "", "", "", 0, fmt.Errorf("malformed callback payload: %q", rest)
	}
	year, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", "", "", 0, fmt.Errorf("malformed callback year: %q", rest)
	}
	return parts[0], parts[1], parts[2], year, nil
}

func (h *Handler) listSubscriptions(ctx context.Context, chatID int64, lang string) ([]domain.Application, bool) {
	apps, err := h.store.FetchUserSubscriptions(ctx, chatID)
	if err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
		return nil, false
	}
	if len(apps) == 0 {
		h.reply(ctx, chatID, texts.Message(lang, "not_subscribed"))
		return nil, false
	}
	return apps, true
}

func (h *Handler) handleUnsubscribe(ctx context.Context, chatID int64, lang string) {
	apps, ok := h.listSubscriptions(ctx, chatID, lang)
	if !ok {
		return
	}
	h.replyMarkup(ctx, chatID, texts.Message(lang, "select_unsubscribe"), subscriptionKeyboard("unsub", apps))
}

func (h *Handler) handleUnsubscribeChosen(ctx context.Context, chatID int64, rest, lang string) {
	number, suffix, typ, year, err := parseAppCallback(rest)
	if err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
		return
	}
	if err := h.store.DeleteApplication(ctx, chatID, number, typ, year); err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "unsubscribe_failed"))
		return
	}
	h.reply(ctx, chatID, texts.Render(lang, "unsubscribe", map[string]string{
		"app_string": domain.OAMString(number, suffix, typ, year),
	}))
}

func (h *Handler) handleStatus(ctx context.Context, chatID int64, lang string) {
	apps, ok := h.listSubscriptions(ctx, chatID, lang)
	if !ok {
		return
	}
	if len(apps) == 1 {
		h.sendStoredStatus(ctx, chatID, apps[0].Number, apps[0].Type, apps[0].Year, lang)
		return
	}
	h.replyMarkup(ctx, chatID, texts.Message(lang, "select_status"), subscriptionKeyboard("status", apps))
}

func (h *Handler) handleStatusChosen(ctx context.Context, chatID int64, rest, lang string) {
	number, _, typ, year, err := parseAppCallback(rest)
	if err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
		return
	}
	h.sendStoredStatus(ctx, chatID, number, typ, year, lang)
}

func (h *Handler) sendStoredStatus(ctx context.Context, chatID int64, number, typ string, year int, lang string) {
	status, lastUpdated, err := h.store.FetchStatusWithTimestamp(ctx, chatID, number, typ, year)
	if err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
		return
	}
	if status == "" || lastUpdated.IsZero() {
		h.reply(ctx, chatID, texts.Message(lang, "current_status_empty"))
		return
	}
	_, sign, _ := domain.Categorize(status)
	h.reply(ctx, chatID, texts.Render(lang, "current_status_timestamp", map[string]string{
		"status_sign": sign,
		"status":      status,
		"timestamp":   lastUpdated.In(h.cfg.Timezone).Format("15:04:05 02-01-2006"),
	}))
}

func (h *Handler) handleForceRefresh(ctx context.Context, chatID int64, lang string) {
	if !h.limiter.Allow(ctx, chatID) {
		h.reply(ctx, chatID, texts.Message(lang, "ratelimit_exceeded"))
		return
	}
	apps, ok := h.listSubscriptions(ctx, chatID, lang)
	if !ok {
		return
	}
	if len(apps) == 1 {
		h.publishForceRefresh(ctx, chatID, &apps[0], lang)
		return
	}
	h.replyMarkup(ctx, chatID, texts.Message(lang, "select_refresh"), subscriptionKeyboard("refresh", apps))
}

func (h *Handler) handleRefreshChosen(ctx context.Context, chatID int64, rest, lang string) {
	number, suffix, typ, year, err := parseAppCallback(rest)
	if err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
		return
	}
	app := domain.Application{ChatID: chatID, Number: number, Suffix: suffix, Type: typ, Year: year}
	h.publishForceRefresh(ctx, chatID, &app, lang)
}

func (h *Handler) publishForceRefresh(ctx context.Context, chatID int64, app *domain.Application, lang string) {
	lastUpdated := "0"
	if !app.LastUpdated.IsZero() {
		lastUpdated = app.LastUpdated.Format(time.RFC3339)
	}
	job := &messaging.Message{
		ChatID:       chatID,
		Number:       app.Number,
		Suffix:       app.Suffix,
		Type:         app.Type,
		Year:         messaging.Year(app.Year),
		RequestType:  messaging.RequestFetch,
		ForceRefresh: true,
		LastUpdated:  lastUpdated,
	}
	if err := h.fabric.Publish(ctx, messaging.ApplicationFetchQueue, job); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to publish forced refresh")
		h.reply(ctx, chatID, texts.Message(lang, "failed_to_refresh"))
		return
	}
	h.reply(ctx, chatID, texts.Message(lang, "refresh_sent"))
	h.reply(ctx, chatID, texts.Message(lang, "cizi_problem_promo"))
}

// --- reminders ---

func (h *Handler) handleReminder(ctx context.Context, chatID int64, lang string) {
	markup := &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		{{Text: texts.Button(lang, "add_reminder"), CallbackData: "rem:add"}},
		{{Text: texts.Button(lang, "delete_reminder"), CallbackData: "rem:del"}},
		{{Text: texts.Button(lang, "cancel"), CallbackData: "rem:cancel"}},
	}}
	h.replyMarkup(ctx, chatID, texts.Message(lang, "reminder_decision"), markup)
}

func (h *Handler) handleReminderAction(ctx context.Context, chatID int64, action, lang string) {
	switch action {
	case "add":
		count, err := h.store.CountUserReminders(ctx, chatID)
		if err != nil {
			h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
			return
		}
		if count >= h.cfg.ReminderLimit {
			h.reply(ctx, chatID, texts.Render(lang, "max_reminders_reached", map[string]string{
				"limit": strconv.Itoa(h.cfg.ReminderLimit),
			}))
			return
		}
		apps, ok := h.listSubscriptions(ctx, chatID, lang)
		if !ok {
			return
		}
		rows := make([][]models.InlineKeyboardButton, 0, len(apps))
		for _, app := range apps {
			rows = append(rows, []models.InlineKeyboardButton{{
				Text:         app.OAM(),
				CallbackData: "remapp:" + strconv.FormatInt(app.ID, 10),
			}})
		}
		h.replyMarkup(ctx, chatID, texts.Message(lang, "select_application_for_reminder"),
			&models.InlineKeyboardMarkup{InlineKeyboard: rows})
	case "del":
		reminders, err := h.store.FetchUserReminders(ctx, chatID)
		if err != nil {
			h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
			return
		}
		if len(reminders) == 0 {
			h.reply(ctx, chatID, texts.Message(lang, "application_not_selected"))
			return
		}
		rows := make([][]models.InlineKeyboardButton, 0, len(reminders))
		for _, r := range reminders {
			label := fmt.Sprintf("%s %s", r.Time, r.Application.OAM())
			rows = append(rows, []models.InlineKeyboardButton{{
				Text:         label,
				CallbackData: "remdel:" + strconv.FormatInt(r.ID, 10),
			}})
		}
		h.replyMarkup(ctx, chatID, texts.Message(lang, "select_reminder_to_delete"),
			&models.InlineKeyboardMarkup{InlineKeyboard: rows})
	default:
		h.reply(ctx, chatID, texts.Message(lang, "action_canceled"))
	}
}

func (h *Handler) handleReminderAppChosen(ctx context.Context, chatID int64, rest, lang string) {
	appID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
		return
	}
	s := h.states.Get(chatID)
	s.ReminderAppID = appID
	s.Step = stepReminderTime
	h.states.Set(chatID, s)
	h.reply(ctx, chatID, texts.Message(lang, "enter_reminder_time"))
}

func (h *Handler) handleReminderTimeInput(ctx context.Context, chatID int64, input, lang string) {
	s := h.states.Get(chatID)
	defer h.states.Clear(chatID)

	if _, err := time.Parse("15:04", input); err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "invalid_time_format"))
		return
	}
	err := h.store.InsertReminder(ctx, chatID, input, s.ReminderAppID)
	if apperrors.IsDuplicate(err) {
		h.reply(ctx, chatID, texts.Message(lang, "reminder_time_exists"))
		return
	}
	if err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "reminder_add_failed"))
		return
	}
	h.reply(ctx, chatID, texts.Render(lang, "reminder_added", map[string]string{"time": input}))
}

func (h *Handler) handleReminderDelete(ctx context.Context, chatID int64, rest, lang string) {
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "error_generic"))
		return
	}
	if err := h.store.DeleteReminder(ctx, id); err != nil {
		h.reply(ctx, chatID, texts.Message(lang, "reminder_delete_failed"))
		return
	}
	h.reply(ctx, chatID, texts.Message(lang, "reminder_deleted"))
}

// --- admin ---

func (h *Handler) handleAdminStats(ctx context.Context, chatID int64) {
	if !h.admins[chatID] {
		return
	}
	users, err := h.store.FetchAllChatIds(ctx)
	if err != nil {
		h.reply(ctx, chatID, "failed to load stats")
		return
	}
	total, err := h.store.CountAllSubscriptions(ctx, false)
	if err != nil {
		h.reply(ctx, chatID, "failed to load stats")
		return
	}
	active, err := h.store.CountAllSubscriptions(ctx, true)
	if err != nil {
		h.reply(ctx, chatID, "failed to load stats")
		return
	}
	reminders, err := h.store.CountAllReminders(ctx)
	if err != nil {
		h.reply(ctx, chatID, "failed to load stats")
		return
	}
	h.reply(ctx, chatID, fmt.Sprintf(
		"Users: %d\nSubscriptions: %d (active %d)\nReminders: %d",
		len(users), total, active, reminders))
}

func (h *Handler) handleFetcherStats(ctx context.Context, chatID int64) {
	if !h.admins[chatID] || h.hub == nil {
		return
	}
	snaps := h.hub.Snapshots()
	if len(snaps) == 0 {
		h.reply(ctx, chatID, "No live fetchers.")
		return
	}
	var b strings.Builder
	for _, s := range snaps {
		fmt.Fprintf(&b, "%s\n  success: %d  failed: %d  retried: %d\n  avg latency: %.2fs  waiting: %d  locked: %d\n",
			s.FetcherID, s.SuccessCount, s.FailedCount, s.RetriedCount,
			s.AvgLatency, s.WaitingRequests, s.LockedKeys)
	}
	h.reply(ctx, chatID, b.String())
}

func (h *Handler) handleAdminBroadcast(ctx context.Context, chatID int64, text string) {
	if !h.admins[chatID] || text == "" {
		return
	}
	ids, err := h.store.FetchAllChatIds(ctx)
	if err != nil {
		h.reply(ctx, chatID, "failed to load recipients")
		return
	}
	sent := 0
	for _, id := range ids {
		if err := h.sink.Notify(ctx, id, text); err == nil {
			sent++
		}
	}
	h.log.Info().Int("sent", sent).Int("total", len(ids)).Msg("broadcast delivered")
	h.reply(ctx, chatID, fmt.Sprintf("Broadcast sent to %d/%d users.", sent, len(ids)))
}

// --- helpers ---

func (h *Handler) language(ctx context.Context, chatID int64) string {
	lang, err := h.store.FetchUserLanguage(ctx, chatID)
	if err != nil || lang == "" {
		return texts.DefaultLanguage
	}
	return texts.Normalize(lang)
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if err := h.sink.Notify(ctx, chatID, text); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send reply")
	}
}

func (h *Handler) replyMarkup(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) {
	if err := h.sink.NotifyWithMarkup(ctx, chatID, text, markup); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send reply")
	}
}
