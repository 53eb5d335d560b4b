package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

type fakeEmail struct {
	mu     sync.Mutex
	calls  int
	to     []string
	result DeliveryResult
}

func (f *fakeEmail) SendEmail(_ context.Context, to []string, _ *Batch) DeliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.to = to
	return f.result
}

type fakeWebhooks struct {
	calls int
	fail  bool
}

func (f *fakeWebhooks) SendWebhooks(_ context.Context, targets []models.WebhookTarget, _ *Batch) []Delivery {
	f.calls++
	out := make([]Delivery, len(targets))
	for i, t := range targets {
		out[i] = Delivery{ID: t.ID, Result: DeliveryResult{Success: !f.fail}}
		if f.fail {
			out[i].Result.Error = "boom"
		}
	}
	return out
}

type fakeChat struct {
	calls int
}

func (f *fakeChat) SendChat(_ context.Context, targets []models.ChatTarget, _ *Batch) []Delivery {
	f.calls++
	out := make([]Delivery, len(targets))
	for i, t := range targets {
		out[i] = Delivery{ID: t.ID, Result: DeliveryResult{Success: true}}
	}
	return out
}

type fakeRecorder struct {
	calls        int
	fingerprints []string
	at           time.Time
	err          error
}

func (f *fakeRecorder) MarkNotified(_ context.Context, _, _ string, fps []string, at time.Time) (int64, error) {
	f.calls++
	f.fingerprints = fps
	f.at = at
	if f.err != nil {
		return 0, f.err
	}
	return int64(len(fps)), nil
}

func allChannels() *models.NotificationPreferences {
	p := models.DefaultPreferences("acme")
	p.Channels = []models.Channel{models.ChannelEmail, models.ChannelWebhook, models.ChannelChat}
	p.EmailRecipients = []string{"ops@example.com"}
	p.Webhooks = []models.WebhookTarget{{ID: "w1", URL: "https://hooks.example.com"}}
	p.Chats = []models.ChatTarget{{ID: "c1", Kind: models.ChatSlack, WebhookURL: "https://hooks.slack.com/x"}}
	return p
}

type coordinatorFixture struct {
	email    *fakeEmail
	webhooks *fakeWebhooks
	chat     *fakeChat
	recorder *fakeRecorder
	now      time.Time
	c        *Coordinator
}

func newCoordinatorFixture() *coordinatorFixture {
	f := &coordinatorFixture{
		email:    &fakeEmail{result: DeliveryResult{Success: true}},
		webhooks: &fakeWebhooks{},
		chat:     &fakeChat{},
		recorder: &fakeRecorder{},
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.c = NewCoordinator(CoordinatorOptions{
		Email:     f.email,
		Webhooks:  f.webhooks,
		Chat:      f.chat,
		Recorder:  f.recorder,
		RateLimit: RateLimitConfig{Enabled: false},
		Now:       func() time.Time { return f.now },
	})
	return f
}

func TestDispatchAllChannels(t *testing.T) {
	f := newCoordinatorFixture()
	batch := testBatch()

	report := f.c.Dispatch(context.Background(), allChannels(), "srv-1", batch.Alerts)

	require.Empty(t, report.Skipped)
	require.NotNil(t, report.Email)
	assert.True(t, report.Email.Success)
	assert.Len(t, report.Webhooks, 1)
	assert.Len(t, report.Chats, 1)
	assert.Equal(t, []string{"ops@example.com"}, f.email.to)

	// Shared fingerprints are recorded once.
	assert.Equal(t, 1, f.recorder.calls)
	assert.Equal(t, []string{"srv-1-memory-node-rabbit@n1", "srv-1-queue-queue-/-orders"}, f.recorder.fingerprints)
	assert.Equal(t, f.now, f.recorder.at)
	assert.Equal(t, int64(2), report.Notified)
}

func TestDispatchShortCircuits(t *testing.T) {
	alerts := testBatch().Alerts

	noChannels := models.DefaultPreferences("acme")
	excluded := allChannels()
	excluded.Servers = models.ServerSubset("srv-2")
	emailNoRecipients := models.DefaultPreferences("acme")
	emailNoRecipients.Channels = []models.Channel{models.ChannelEmail}

	tests := []struct {
		name   string
		prefs  *models.NotificationPreferences
		alerts []models.Alert
		want   string
	}{
		{"empty alerts", allChannels(), nil, SkipEmpty},
		{"nil preferences", nil, alerts, SkipNoPreferences},
		{"server excluded", excluded, alerts, SkipServerExcluded},
		{"no channels", noChannels, alerts, SkipNoChannel},
		{"email without recipients", emailNoRecipients, alerts, SkipNoChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCoordinatorFixture()
			report := f.c.Dispatch(context.Background(), tt.prefs, "srv-1", tt.alerts)

			assert.Equal(t, tt.want, report.Skipped)
			assert.Zero(t, f.email.calls+f.webhooks.calls+f.chat.calls)
			assert.Zero(t, f.recorder.calls)
		})
	}
}

func TestDispatchFailedEmailDoesNotRecord(t *testing.T) {
	f := newCoordinatorFixture()
	f.email.result = DeliveryResult{Error: "smtp down"}

	report := f.c.Dispatch(context.Background(), allChannels(), "srv-1", testBatch().Alerts)

	require.NotNil(t, report.Email)
	assert.False(t, report.Email.Success)
	// Other channels still delivered.
	assert.True(t, report.Webhooks[0].Result.Success)
	assert.True(t, report.Chats[0].Result.Success)
	assert.Zero(t, f.recorder.calls)
	assert.Zero(t, report.Notified)
}

func TestDispatchWebhookOnlyDoesNotRecord(t *testing.T) {
	f := newCoordinatorFixture()
	prefs := allChannels()
	prefs.Channels = []models.Channel{models.ChannelWebhook}

	report := f.c.Dispatch(context.Background(), prefs, "srv-1", testBatch().Alerts)

	assert.Nil(t, report.Email)
	assert.Len(t, report.Webhooks, 1)
	assert.Zero(t, f.email.calls)
	assert.Zero(t, f.chat.calls)
	assert.Zero(t, f.recorder.calls)
}

func TestDispatchWebhookFailureIsolated(t *testing.T) {
	f := newCoordinatorFixture()
	f.webhooks.fail = true

	report := f.c.Dispatch(context.Background(), allChannels(), "srv-1", testBatch().Alerts)

	assert.False(t, report.Webhooks[0].Result.Success)
	assert.True(t, report.Chats[0].Result.Success)
	assert.True(t, report.Email.Success)
	assert.Equal(t, 1, f.recorder.calls)
}

func TestDispatchRecorderErrorIsLogged(t *testing.T) {
	f := newCoordinatorFixture()
	f.recorder.err = errors.New("database is locked")

	report := f.c.Dispatch(context.Background(), allChannels(), "srv-1", testBatch().Alerts)

	assert.True(t, report.Email.Success)
	assert.Zero(t, report.Notified)
}

func TestDispatchNilSenderDisablesChannel(t *testing.T) {
	c := NewCoordinator(CoordinatorOptions{Chat: &fakeChat{}, RateLimit: RateLimitConfig{Enabled: false}})
	prefs := allChannels()
	prefs.Channels = []models.Channel{models.ChannelEmail}

	report := c.Dispatch(context.Background(), prefs, "srv-1", testBatch().Alerts)
	assert.Equal(t, SkipNoChannel, report.Skipped)
}

func TestDispatchCancelledWhileThrottled(t *testing.T) {
	f := newCoordinatorFixture()
	f.c.limiter = NewRateLimiter(RateLimitConfig{MaxPerWindow: 1, Window: time.Hour, Enabled: true})

	first := f.c.Dispatch(context.Background(), allChannels(), "srv-1", testBatch().Alerts)
	require.Empty(t, first.Skipped)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	second := f.c.Dispatch(ctx, allChannels(), "srv-1", testBatch().Alerts)

	assert.Equal(t, SkipCancelled, second.Skipped)
	assert.Equal(t, 1, f.email.calls)
}
