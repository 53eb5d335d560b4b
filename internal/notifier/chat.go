package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// ChatFanout routes a batch to each chat target by kind.
type ChatFanout struct {
	httpClient  *http.Client
	discord     DiscordAPI
	concurrency int
	logger      *zap.Logger
}

// NewChatFanout creates a chat fanout. Discord targets fail until a bot
// session is attached with WithDiscord.
func NewChatFanout(client *http.Client, logger *zap.Logger) *ChatFanout {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatFanout{httpClient: client, concurrency: 4, logger: logger}
}

// WithDiscord attaches the bot session used for Discord targets.
func (f *ChatFanout) WithDiscord(api DiscordAPI) *ChatFanout {
	f.discord = api
	return f
}

// SendChat sends to all targets concurrently, preserving target order in
// the results.
func (f *ChatFanout) SendChat(ctx context.Context, targets []models.ChatTarget, batch *Batch) []Delivery {
	out := make([]Delivery, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			out[i] = Delivery{ID: target.ID, Result: resultOf(f.send(ctx, target, batch))}
			if !out[i].Result.Success {
				f.logger.Warn("chat delivery failed",
					zap.String("tenant", batch.TenantID),
					zap.String("target", target.ID),
					zap.String("kind", string(target.Kind)),
					zap.String("error", out[i].Result.Error))
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (f *ChatFanout) notifierFor(target models.ChatTarget) (Notifier, error) {
	switch target.Kind {
	case models.ChatSlack:
		return NewSlackNotifier(SlackConfig{WebhookURL: target.WebhookURL}, f.httpClient)
	case models.ChatTeams:
		return NewTeamsNotifier(TeamsConfig{WebhookURL: target.WebhookURL}, f.httpClient)
	case models.ChatDiscord:
		if f.discord == nil {
			return nil, fmt.Errorf("discord bot not configured")
		}
		return NewDiscordNotifier(f.discord, target.ChannelID)
	default:
		return nil, fmt.Errorf("unsupported chat kind %q", target.Kind)
	}
}

func (f *ChatFanout) send(ctx context.Context, target models.ChatTarget, batch *Batch) error {
	n, err := f.notifierFor(target)
	if err != nil {
		return err
	}
	defer n.Close()
	return n.Send(ctx, batch)
}
