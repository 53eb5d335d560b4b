package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

// fakeDiscord records embeds instead of calling the Discord REST API.
type fakeDiscord struct {
	mu     sync.Mutex
	sent   map[string][]*discordgo.MessageEmbed
	failOn string
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{sent: make(map[string][]*discordgo.MessageEmbed)}
}

func (f *fakeDiscord) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if channelID == f.failOn {
		return nil, errors.New("HTTP 403 Forbidden")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[channelID] = append(f.sent[channelID], embed)
	return &discordgo.Message{ChannelID: channelID}, nil
}

func (f *fakeDiscord) embeds(channelID string) []*discordgo.MessageEmbed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[channelID]
}

func TestNewDiscordNotifierValidation(t *testing.T) {
	if _, err := NewDiscordNotifier(nil, "123"); err == nil {
		t.Error("expected error without a session")
	}
	if _, err := NewDiscordNotifier(newFakeDiscord(), ""); err == nil {
		t.Error("expected error without a channel")
	}
	if _, err := NewDiscordSession(""); err == nil {
		t.Error("expected error without a token")
	}
}

func TestDiscordNotifierSend(t *testing.T) {
	api := newFakeDiscord()
	n, err := NewDiscordNotifier(api, "chan-1")
	if err != nil {
		t.Fatalf("NewDiscordNotifier: %v", err)
	}
	if n.Name() != "discord" {
		t.Errorf("Name() = %q", n.Name())
	}

	if err := n.Send(context.Background(), testBatch()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	embeds := api.embeds("chan-1")
	if len(embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(embeds))
	}
	e := embeds[0]
	if e.Title != "BrokerWatch: 3 alerts on srv-1" {
		t.Errorf("title = %q", e.Title)
	}
	if e.Color != 0xd32f2f {
		t.Errorf("color = %#x, want critical red", e.Color)
	}
	if len(e.Fields) != 3 {
		t.Errorf("fields = %d, want 3", len(e.Fields))
	}
	if !strings.Contains(e.Fields[0].Value, "threshold: 90") {
		t.Errorf("field 0 value = %q", e.Fields[0].Value)
	}
}

func TestDiscordNotifierSendError(t *testing.T) {
	api := newFakeDiscord()
	api.failOn = "chan-1"
	n, _ := NewDiscordNotifier(api, "chan-1")

	err := n.Send(context.Background(), testBatch())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("error = %v, want 403", err)
	}
}

func TestDiscordEmbedFieldLimit(t *testing.T) {
	alerts := make([]models.Alert, 40)
	for i := range alerts {
		alerts[i] = models.Alert{Title: "Stale", Severity: models.SeverityInfo, Source: models.Source{Type: models.SourceQueue, Name: "q"}}
	}
	embed := buildDiscordEmbed(NewBatch("acme", "srv-1", alerts, time.Now()))

	if len(embed.Fields) != discordMaxFields {
		t.Fatalf("fields = %d, want %d", len(embed.Fields), discordMaxFields)
	}
	last := embed.Fields[len(embed.Fields)-1]
	if last.Value != "16 more alert(s) not shown" {
		t.Errorf("last field = %q", last.Value)
	}
}
