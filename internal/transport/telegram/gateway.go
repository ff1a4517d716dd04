// Package telegram delivers finished reports to a Telegram chat.
//
// The gateway is send-only: it never polls for updates, so constructing it
// costs one getMe call (token validation) and nothing else. Delivery pacing
// uses a token-bucket limiter because Telegram throttles bots that burst.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"kpibot/internal/report"
	logx "kpibot/pkg/logx"
)

// Telegram caps photo captions much harder than plain messages.
const (
	textLimit    = 4000
	captionLimit = 1024
)

type Config struct {
	Token    string
	ChatID   int64 // report destination
	ThreadID int   // forum topic, 0 for none

	// OpsChatID receives log alerts; 0 falls back to ChatID.
	OpsChatID int64

	// RatePerSec paces outgoing API calls. <=0 means 1/s.
	RatePerSec int

	// SendTimeout bounds a single Bot API round trip. <=0 means 30s.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.OpsChatID == 0 {
		c.OpsChatID = c.ChatID
	}
	return c
}

// Gateway implements report.Gateway for delivery and logx.Notifier for the
// chat log sink, sharing one bot and one rate limiter.
type Gateway struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
	lim *rate.Limiter
}

// New validates the token against the Bot API (getMe), so a misconfigured
// token surfaces at startup instead of failing the first scheduled run.
func New(cfg Config, log logx.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram: chat_id is empty")
	}
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: cfg.SendTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot init: %w", err)
	}

	g := &Gateway{
		cfg: cfg,
		log: log,
		bot: b,
		lim: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	g.log.Info("gateway ready",
		logx.String("bot", b.Me.Username),
		logx.Int64("chat_id", cfg.ChatID),
		logx.Int("thread_id", cfg.ThreadID))
	return g, nil
}

// Deliver ships one artifact to the report chat. Rendered artifacts go out
// as a photo; captions over the photo limit are truncated at a line boundary
// and the full text follows as ordinary messages.
func (g *Gateway) Deliver(ctx context.Context, a *report.Artifact) error {
	if a == nil {
		return errors.New("telegram: nil artifact")
	}
	switch a.Mode {
	case report.ModeRendered:
		return g.sendPhoto(ctx, a)
	case report.ModeTextOnly:
		return g.sendText(ctx, a.Text)
	default:
		return fmt.Errorf("telegram: artifact mode %q not deliverable", a.Mode)
	}
}

func (g *Gateway) sendPhoto(ctx context.Context, a *report.Artifact) error {
	caption, overflow := splitCaption(a.Caption, captionLimit)

	if err := g.wait(ctx); err != nil {
		return err
	}
	photo := &tele.Photo{File: tele.FromDisk(a.ImagePath), Caption: caption}
	if _, err := g.bot.Send(g.target(), photo, g.sendOpts()); err != nil {
		return fmt.Errorf("telegram: send photo: %w", err)
	}
	if overflow == "" {
		return nil
	}
	g.log.Debug("caption over limit, sending full text separately",
		logx.Int("caption_runes", len([]rune(a.Caption))))
	return g.sendText(ctx, overflow)
}

func (g *Gateway) sendText(ctx context.Context, text string) error {
	chunks := splitText(text, textLimit)
	if len(chunks) == 0 {
		return errors.New("telegram: empty message body")
	}
	for _, chunk := range chunks {
		if err := g.wait(ctx); err != nil {
			return err
		}
		if _, err := g.bot.Send(g.target(), chunk, g.sendOpts()); err != nil {
			return fmt.Errorf("telegram: send text: %w", err)
		}
	}
	return nil
}

// Notify implements logx.Notifier: log alerts go to the ops chat as plain
// text. Parse mode stays off so raw log content cannot break entity parsing.
func (g *Gateway) Notify(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	chunks := splitText(text, textLimit)
	to := &tele.Chat{ID: g.cfg.OpsChatID}
	for _, chunk := range chunks {
		if err := g.wait(ctx); err != nil {
			return err
		}
		if _, err := g.bot.Send(to, chunk); err != nil {
			return fmt.Errorf("telegram: notify: %w", err)
		}
	}
	return nil
}

func (g *Gateway) wait(ctx context.Context) error {
	if err := g.lim.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: rate wait: %w", err)
	}
	return nil
}

func (g *Gateway) target() *tele.Chat {
	return &tele.Chat{ID: g.cfg.ChatID}
}

func (g *Gateway) sendOpts() *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              g.cfg.ThreadID,
	}
}
