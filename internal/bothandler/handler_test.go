package bothandler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appwatch/mvcr-status-bot/internal/apperrors"
	"github.com/appwatch/mvcr-status-bot/internal/domain"
	"github.com/appwatch/mvcr-status-bot/internal/messaging"
	"github.com/appwatch/mvcr-status-bot/internal/metricshub"
	"github.com/appwatch/mvcr-status-bot/internal/store"
)

type fakeDatastore struct {
	users         map[int64]bool
	lang          string
	subs          []domain.Application
	subCount      int
	insertAppErr  error
	deleted       []string
	status        string
	statusAt      time.Time
	reminders     []store.Reminder
	reminderCount int
	insertRemErr  error
	addedRems     []string
	chatIDs       []int64
}

func (f *fakeDatastore) InsertUser(_ context.Context, chatID int64, _, _, _, _ string) error {
	if f.users == nil {
		f.users = make(map[int64]bool)
	}
	if f.users[chatID] {
		return apperrors.NewDuplicate("user exists")
	}
	f.users[chatID] = true
	return nil
}

func (f *fakeDatastore) UpdateUserLanguage(_ context.Context, _ int64, lang string) error {
	f.lang = lang
	return nil
}

func (f *fakeDatastore) FetchUserLanguage(context.Context, int64) (string, error) {
	return f.lang, nil
}

func (f *fakeDatastore) FetchAllChatIds(context.Context) ([]int64, error) { return f.chatIDs, nil }

func (f *fakeDatastore) InsertApplication(_ context.Context, chatID int64, number, suffix, typ string, year int) error {
	if f.insertAppErr != nil {
		return f.insertAppErr
	}
	f.subs = append(f.subs, domain.Application{
		ChatID: chatID, Number: number, Suffix: suffix, Type: typ, Year: year,
	})
	return nil
}

func (f *fakeDatastore) DeleteApplication(_ context.Context, _ int64, number, typ string, year int) error {
	f.deleted = append(f.deleted, domain.OAMString(number, "0", typ, year))
	return nil
}

func (f *fakeDatastore) CountUserSubscriptions(context.Context, int64) (int, error) {
	return f.subCount, nil
}

func (f *fakeDatastore) FetchUserSubscriptions(context.Context, int64) ([]domain.Application, error) {
	return f.subs, nil
}

func (f *fakeDatastore) FetchStatusWithTimestamp(context.Context, int64, string, string, int) (string, time.Time, error) {
	return f.status, f.statusAt, nil
}

func (f *fakeDatastore) CountAllSubscriptions(_ context.Context, activeOnly bool) (int, error) {
	if activeOnly {
		return len(f.subs), nil
	}
	return len(f.subs) + 1, nil
}

func (f *fakeDatastore) InsertReminder(_ context.Context, _ int64, timeInput string, _ int64) error {
	if f.insertRemErr != nil {
		return f.insertRemErr
	}
	f.addedRems = append(f.addedRems, timeInput)
	return nil
}

func (f *fakeDatastore) DeleteReminder(context.Context, int64) error { return nil }

func (f *fakeDatastore) FetchUserReminders(context.Context, int64) ([]store.Reminder, error) {
	return f.reminders, nil
}

func (f *fakeDatastore) CountUserReminders(context.Context, int64) (int, error) {
	return f.reminderCount, nil
}

func (f *fakeDatastore) CountAllReminders(context.Context) (int, error) {
	return len(f.reminders), nil
}

type fakeChatSink struct {
	texts   []string
	markups []models.ReplyMarkup
}

func (f *fakeChatSink) Notify(_ context.Context, _ int64, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeChatSink) NotifyWithMarkup(_ context.Context, _ int64, text string, markup models.ReplyMarkup) error {
	f.texts = append(f.texts, text)
	f.markups = append(f.markups, markup)
	return nil
}

func (f *fakeChatSink) last() string {
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

func (f *fakeChatSink) lastKeyboard() *models.InlineKeyboardMarkup {
	if len(f.markups) == 0 {
		return nil
	}
	kb, _ := f.markups[len(f.markups)-1].(*models.InlineKeyboardMarkup)
	return kb
}

type fakeJobPublisher struct {
	queues []string
	jobs   []messaging.Message
}

func (f *fakeJobPublisher) Publish(_ context.Context, queue string, msg *messaging.Message) error {
	f.queues = append(f.queues, queue)
	f.jobs = append(f.jobs, *msg)
	return nil
}

type fakeLimiter struct{ denied bool }

func (f *fakeLimiter) Allow(context.Context, int64) bool { return !f.denied }

type fakeStatsHub struct{ snaps []metricshub.Snapshot }

func (f *fakeStatsHub) Snapshots() []metricshub.Snapshot { return f.snaps }

type fixture struct {
	h   *Handler
	st  *fakeDatastore
	out *fakeChatSink
	pub *fakeJobPublisher
	lim *fakeLimiter
	hub *fakeStatsHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		st:  &fakeDatastore{},
		out: &fakeChatSink{},
		pub: &fakeJobPublisher{},
		lim: &fakeLimiter{},
		hub: &fakeStatsHub{},
	}
	f.h = New(f.st, f.out, f.pub, f.lim, f.hub, Config{
		AdminChatIDs:      []int64{1000},
		SubscriptionLimit: 5,
		ReminderLimit:     2,
		RefreshPeriod:     30 * time.Minute,
		Timezone:          time.UTC,
	})
	f.h.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) command(chatID int64, text string) {
	f.h.dispatchCommand(context.Background(), &models.Message{
		Chat: models.Chat{ID: chatID},
		Text: text,
	}, "EN")
}

func TestSubscribeDialogFullFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.h.startSubscribeDialog(ctx, 42, "EN")
	assert.Equal(t, stepNumber, f.h.states.Get(42).Step)

	f.h.handleNumberInput(ctx, 42, "12345", "EN")
	assert.Equal(t, stepType, f.h.states.Get(42).Step)
	kb := f.out.lastKeyboard()
	require.NotNil(t, kb)
	assert.Equal(t, "DP", kb.InlineKeyboard[0][0].Text, "popular types come first")

	f.h.HandleCallback(ctx, 42, "type:TP", "EN")
	assert.Equal(t, stepYear, f.h.states.Get(42).Step)

	f.h.HandleCallback(ctx, 42, "year:2023", "EN")
	assert.Equal(t, stepConfirm, f.h.states.Get(42).Step)
	assert.Contains(t, f.out.last(), "OAM-12345/TP-2023")

	f.h.HandleCallback(ctx, 42, "proceed_subscribe", "EN")

	require.Len(t, f.st.subs, 1)
	assert.Equal(t, "12345", f.st.subs[0].Number)
	assert.Equal(t, "TP", f.st.subs[0].Type)
	assert.Equal(t, 2023, f.st.subs[0].Year)

	require.Len(t, f.pub.jobs, 1, "subscription triggers an initial fetch")
	job := f.pub.jobs[0]
	assert.Equal(t, messaging.ApplicationFetchQueue, f.pub.queues[0])
	assert.Equal(t, messaging.RequestFetch, job.RequestType)
	assert.False(t, job.ForceRefresh)
	assert.Equal(t, "0", job.LastUpdated)

	assert.Equal(t, stepIdle, f.h.states.Get(42).Step, "dialog state cleared")
}

func TestSubscribeFullIdentifierSkipsKeyboards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.h.startSubscribeDialog(ctx, 42, "EN")
	f.h.handleNumberInput(ctx, 42, "OAM-12345-2/DP-2024", "EN")

	s := f.h.states.Get(42)
	assert.Equal(t, stepConfirm, s.Step)
	assert.Equal(t, "12345", s.Number)
	assert.Equal(t, "2", s.Suffix)
	assert.Equal(t, "DP", s.Type)
	assert.Equal(t, 2024, s.Year)
}

func TestSubscribeRejectsInvalidNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.h.startSubscribeDialog(ctx, 42, "EN")
	f.h.handleNumberInput(ctx, 42, "not a number", "EN")

	assert.Equal(t, stepNumber, f.h.states.Get(42).Step, "dialog stays on the number step")
	assert.Contains(t, f.out.last(), "valid application number")
}

func TestSubscribeDuplicate(t *testing.T) {
	f := newFixture(t)
	f.st.insertAppErr = apperrors.NewDuplicate("exists")
	ctx := context.Background()

	f.h.startSubscribeDialog(ctx, 42, "EN")
	f.h.handleNumberInput(ctx, 42, "OAM-12345/TP-2023", "EN")
	f.h.HandleCallback(ctx, 42, "proceed_subscribe", "EN")

	assert.Contains(t, f.out.last(), "already subscribed")
	assert.Empty(t, f.pub.jobs)
}

func TestSubscribeCapEnforced(t *testing.T) {
	f := newFixture(t)
	f.st.subCount = 5

	f.h.startSubscribeDialog(context.Background(), 42, "EN")

	assert.Contains(t, f.out.last(), "5")
	assert.Equal(t, stepIdle, f.h.states.Get(42).Step)
}

func TestSubscribeRateLimited(t *testing.T) {
	f := newFixture(t)
	f.lim.denied = true

	f.h.startSubscribeDialog(context.Background(), 42, "EN")

	assert.Contains(t, f.out.last(), "Too many commands")
	assert.Equal(t, stepIdle, f.h.states.Get(42).Step)
}

func TestUnsubscribeFlow(t *testing.T) {
	f := newFixture(t)
	f.st.subs = []domain.Application{
		{ChatID: 42, Number: "12345", Suffix: "0", Type: "TP", Year: 2023},
	}
	ctx := context.Background()

	f.command(42, "/unsubscribe")
	kb := f.out.lastKeyboard()
	require.NotNil(t, kb)
	assert.Equal(t, "unsub:12345:0:TP:2023", kb.InlineKeyboard[0][0].CallbackData)

	f.h.HandleCallback(ctx, 42, "unsub:12345:0:TP:2023", "EN")
	assert.Equal(t, []string{"OAM-12345/TP-2023"}, f.st.deleted)
	assert.Contains(t, f.out.last(), "OAM-12345/TP-2023")
}

func TestStatusSingleSubscriptionAnswersDirectly(t *testing.T) {
	f := newFixture(t)
	f.st.subs = []domain.Application{
		{ChatID: 42, Number: "12345", Suffix: "0", Type: "TP", Year: 2023},
	}
	f.st.status = "Žádost 12345 se zpracovává"
	f.st.statusAt = time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)

	f.command(42, "/status")

	last := f.out.last()
	assert.Contains(t, last, "🟡")
	assert.Contains(t, last, "Žádost 12345 se zpracovává")
	assert.Contains(t, last, "09:30:00 24-08-2026")
}

func TestStatusNeverFetched(t *testing.T) {
	f := newFixture(t)
	f.st.subs = []domain.Application{
		{ChatID: 42, Number: "12345", Suffix: "0", Type: "TP", Year: 2023},
	}

	f.command(42, "/status")

	assert.Contains(t, f.out.last(), "not been fetched")
}

func TestForceRefreshPublishesForcedJob(t *testing.T) {
	f := newFixture(t)
	f.st.subs = []domain.Application{
		{ChatID: 42, Number: "12345", Suffix: "0", Type: "TP", Year: 2023},
	}

	f.command(42, "/force_refresh")

	require.Len(t, f.pub.jobs, 1)
	job := f.pub.jobs[0]
	assert.Equal(t, messaging.ApplicationFetchQueue, f.pub.queues[0])
	assert.True(t, job.ForceRefresh)
	assert.Equal(t, "0", job.LastUpdated)
	assert.GreaterOrEqual(t, len(f.out.texts), 2, "confirmation plus promo")
}

func TestForceRefreshRateLimited(t *testing.T) {
	f := newFixture(t)
	f.lim.denied = true
	f.st.subs = []domain.Application{
		{ChatID: 42, Number: "12345", Suffix: "0", Type: "TP", Year: 2023},
	}

	f.command(42, "/force_refresh")

	assert.Empty(t, f.pub.jobs)
	assert.Contains(t, f.out.last(), "Too many commands")
}

func TestLanguageSelection(t *testing.T) {
	f := newFixture(t)

	f.h.HandleCallback(context.Background(), 42, "lang:RU", "EN")

	assert.Equal(t, "RU", f.st.lang)
	assert.Contains(t, f.out.last(), "Язык")
}

func TestReminderTimeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.h.HandleCallback(ctx, 42, "remapp:7", "EN")
	assert.Equal(t, stepReminderTime, f.h.states.Get(42).Step)

	f.h.handleReminderTimeInput(ctx, 42, "25:99", "EN")
	assert.Contains(t, f.out.last(), "HH:MM")
	assert.Empty(t, f.st.addedRems)
}

func TestReminderAdded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.h.HandleCallback(ctx, 42, "remapp:7", "EN")
	f.h.handleReminderTimeInput(ctx, 42, "09:30", "EN")

	assert.Equal(t, []string{"09:30"}, f.st.addedRems)
	assert.Contains(t, f.out.last(), "09:30")
}

func TestReminderCapEnforced(t *testing.T) {
	f := newFixture(t)
	f.st.reminderCount = 2

	f.h.HandleCallback(context.Background(), 42, "rem:add", "EN")

	assert.Contains(t, f.out.last(), "2")
	assert.Empty(t, f.out.markups)
}

func TestAdminCommandsIgnoredForRegularUsers(t *testing.T) {
	f := newFixture(t)
	f.st.chatIDs = []int64{1, 2}

	f.command(42, "/admin_stats")
	f.command(42, "/admin_broadcast hello")

	assert.Empty(t, f.out.texts)
}

func TestAdminStats(t *testing.T) {
	f := newFixture(t)
	f.st.chatIDs = []int64{1, 2, 3}
	f.st.subs = []domain.Application{{Number: "12345"}}

	f.command(1000, "/admin_stats")

	last := f.out.last()
	assert.Contains(t, last, "Users: 3")
	assert.Contains(t, last, "Subscriptions: 2 (active 1)")
}

func TestFetcherStats(t *testing.T) {
	f := newFixture(t)
	f.hub.snaps = []metricshub.Snapshot{{
		FetcherID:    "fetcher-a",
		SuccessCount: 10,
		FailedCount:  1,
		AvgLatency:   2.5,
	}}

	f.command(1000, "/fetcher_stats")

	last := f.out.last()
	assert.Contains(t, last, "fetcher-a")
	assert.Contains(t, last, "success: 10")
}

func TestAdminBroadcast(t *testing.T) {
	f := newFixture(t)
	f.st.chatIDs = []int64{1, 2, 3}

	f.command(1000, "/admin_broadcast portal maintenance tonight")

	// Three recipients plus the delivery report.
	require.Len(t, f.out.texts, 4)
	assert.Equal(t, "portal maintenance tonight", f.out.texts[0])
	assert.Contains(t, f.out.last(), "3/3")
}

func TestSplitCommand(t *testing.T) {
	cmd, args := splitCommand("/admin_broadcast hello world")
	assert.Equal(t, "admin_broadcast", cmd)
	assert.Equal(t, "hello world", args)

	cmd, _ = splitCommand("/status@mvcr_status_bot")
	assert.Equal(t, "status", cmd)
}

func TestUnknownTextOutsideDialog(t *testing.T) {
	f := newFixture(t)

	f.h.onMessage(context.Background(), nil, &models.Update{Message: &models.Message{
		Chat: models.Chat{ID: 42},
		Text: "what is this",
	}})

	require.Len(t, f.out.texts, 1)
	assert.False(t, strings.Contains(f.out.last(), "{"), "no unfilled placeholders")
}
