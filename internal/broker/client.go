// Package broker reads node and queue metrics from the RabbitMQ management
// HTTP API.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
	"github.com/good-yellow-bee/brokerwatch/pkg/config"
)

// ErrUnreachable marks failures to reach the management API at all:
// dial and transport errors, timeouts, and an open circuit.
var ErrUnreachable = errors.New("broker unreachable")

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 32 << 20
)

// Config holds connection settings for one broker.
type Config struct {
	// URL is the management API base, e.g. http://rabbit:15672.
	URL      string
	Username string
	Password string
	Timeout  time.Duration

	// Breaker settings; zero values use defaults.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client is a RabbitMQ management API client guarded by a circuit breaker.
type Client struct {
	baseURL    *url.URL
	username   string
	password   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a management API client.
func NewClient(name string, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("broker url is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported broker url scheme %q", u.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("broker", name))

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Only connectivity failures count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnreachable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL:    u,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		logger:     logger,
	}, nil
}

// Nodes returns a snapshot of every cluster node.
func (c *Client) Nodes(ctx context.Context) ([]models.NodeSnapshot, error) {
	var nodes []models.NodeSnapshot
	if err := c.get(ctx, "/api/nodes", &nodes); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return nodes, nil
}

// Queues returns queue snapshots of one vhost, or of every vhost when vhost
// is empty.
func (c *Client) Queues(ctx context.Context, vhost string) ([]models.QueueSnapshot, error) {
	path := "/api/queues"
	if vhost != "" {
		path += "/" + url.PathEscape(vhost)
	}
	var raw []queueJSON
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	queues := make([]models.QueueSnapshot, 0, len(raw))
	for i := range raw {
		queues = append(queues, raw[i].snapshot())
	}
	return queues, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doGet(ctx, path, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	// RawPath keeps an escaped "/" vhost as %2F.
	u := *c.baseURL
	u.Path = c.baseURL.Path + unescapedPath(path)
	u.RawPath = c.baseURL.Path + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", config.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("management api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func unescapedPath(p string) string {
	s, err := url.PathUnescape(p)
	if err != nil {
		return p
	}
	return s
}

type rateDetails struct {
	Rate float64 `json:"rate"`
}

type queueJSON struct {
	Name                   string `json:"name"`
	VHost                  string `json:"vhost"`
	Messages               int64  `json:"messages"`
	MessagesReady          int64  `json:"messages_ready"`
	MessagesUnacknowledged int64  `json:"messages_unacknowledged"`
	Consumers              int64  `json:"consumers"`
	IdleSince              string `json:"idle_since"`
	MessageStats           struct {
		PublishDetails    rateDetails `json:"publish_details"`
		DeliverGetDetails rateDetails `json:"deliver_get_details"`
	} `json:"message_stats"`
}

func (q *queueJSON) snapshot() models.QueueSnapshot {
	s := models.QueueSnapshot{
		Name:                   q.Name,
		VHost:                  q.VHost,
		Messages:               q.Messages,
		MessagesReady:          q.MessagesReady,
		MessagesUnacknowledged: q.MessagesUnacknowledged,
		Consumers:              q.Consumers,
		PublishRate:            q.MessageStats.PublishDetails.Rate,
		DeliverRate:            q.MessageStats.DeliverGetDetails.Rate,
	}
	if t, ok := parseIdleSince(q.IdleSince); ok {
		s.IdleSince = &t
	}
	return s
}

// idleSinceLayouts covers the formats emitted across broker versions.
var idleSinceLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000-07:00",
	time.RFC3339Nano,
	time.RFC3339,
}

func parseIdleSince(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range idleSinceLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
