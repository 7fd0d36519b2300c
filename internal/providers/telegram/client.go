package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Client sends chat messages through the Telegram Bot API. It never polls
// for updates; inbound conversations are handled elsewhere.
type Client struct {
	bot       *tele.Bot
	parseMode tele.ParseMode
	ttl       time.Duration
	now       func() time.Time

	mu        sync.Mutex
	checkedAt time.Time
	healthy   bool
}

type Config struct {
	Token     string
	APIURL    string
	Timeout   time.Duration
	ParseMode string
	// AvailabilityTTL caches the getMe result used by Available; zero means 30s.
	AvailabilityTTL time.Duration
}

// New builds an offline bot: no network call is made until the first send or
// availability check, so an unreachable Bot API never blocks startup.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.AvailabilityTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Client{bot: b, parseMode: tele.ParseMode(cfg.ParseMode), ttl: ttl, now: time.Now}, nil
}

// SendText delivers text to a numeric chat ID and returns the Telegram message ID.
func (c *Client) SendText(ctx context.Context, address, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", address, err)
	}
	opts := &tele.SendOptions{DisableWebPagePreview: true, ParseMode: c.parseMode}
	msg, err := c.bot.Send(&tele.Chat{ID: chatID}, text, opts)
	if err != nil {
		c.invalidate()
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}

// Available reports whether the Bot API answered getMe within the last TTL.
// A failed send drops the cached answer.
func (c *Client) Available(ctx context.Context) bool {
	if c == nil || c.bot == nil || ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.checkedAt.IsZero() && now.Sub(c.checkedAt) < c.ttl {
		return c.healthy
	}
	ok, err := c.getMe()
	c.healthy = ok
	c.checkedAt = now
	if err != nil {
		slog.Warn("telegram getMe failed", "err", err)
	}
	return c.healthy
}

// getMe checks the response body itself: telebot treats a non-JSON body
// (a proxy error page) as success.
func (c *Client) getMe() (bool, error) {
	data, err := c.bot.Raw("getMe", nil)
	if err != nil {
		return false, err
	}
	var resp struct {
		Ok bool `json:"ok"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, fmt.Errorf("telegram getMe: %w", err)
	}
	if !resp.Ok {
		return false, errors.New("telegram getMe: not ok")
	}
	return true, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.checkedAt = time.Time{}
	c.mu.Unlock()
}
