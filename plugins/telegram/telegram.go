// Package telegram ships the tgram:// reference target on top of telebot.
//
//	tgram://{bot_token}/{chat_id}[/{chat_id2}...][?silent=yes][?preview=no]
//
// The bot token sits in the host slot (it contains ':', which the address
// parser tolerates there). It is a secret: redacted renderings mask it.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"megaphone/internal/address"
	"megaphone/internal/registry"
	"megaphone/internal/target"
)

// Telegram caps message text at 4096 characters.
const maxBodyLen = 4096

var caps = target.Capabilities{
	MaxBodyLen:    maxBodyLen,
	SupportsTitle: true,
	Formats:       []target.BodyFormat{target.FormatText, target.FormatMarkdown, target.FormatHTML},
}

func Register(reg *registry.Registry) error {
	return reg.Register(registry.Schema{Name: "tgram", Factory: construct, Caps: caps})
}

type Sender struct {
	target.Base

	bot     *tele.Bot
	token   string
	chats   []int64
	silent  bool
	preview bool
}

func construct(addr *address.Address, tags []string) (target.Target, error) {
	token := addr.Host
	if !strings.Contains(token, ":") {
		return nil, &target.ConstructionError{Scheme: addr.Scheme, Reason: "a bot token of the form id:secret is required"}
	}

	var chats []int64
	for _, seg := range addr.Path {
		id, err := strconv.ParseInt(seg, 10, 64)
		if err != nil {
			return nil, &target.ConstructionError{Scheme: addr.Scheme, Reason: fmt.Sprintf("invalid chat id %q", seg)}
		}
		chats = append(chats, id)
	}
	if len(chats) == 0 {
		return nil, &target.ConstructionError{Scheme: addr.Scheme, Reason: "at least one chat id is required"}
	}

	tuning, err := target.TuningFromQuery(addr)
	if err != nil {
		return nil, &target.ConstructionError{Scheme: addr.Scheme, Reason: err.Error()}
	}

	// Offline keeps construction local: no getMe round trip, matching
	// the contract that only Send performs network work.
	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
		Client:  tuning.HTTPClient(),
	})
	if err != nil {
		return nil, &target.ConstructionError{Scheme: addr.Scheme, Reason: err.Error()}
	}

	s := &Sender{
		Base:    target.NewBase(addr, tags, caps, tuning),
		bot:     bot,
		token:   token,
		chats:   chats,
		preview: true,
	}
	if v, ok := addr.QueryGet("silent"); ok {
		s.silent = parseBool(v)
	}
	if v, ok := addr.QueryGet("preview"); ok {
		s.preview = parseBool(v)
	}
	return s, nil
}

// Redacted masks the token, which lives in the host slot rather than the
// password slot the base implementation knows about.
func (s *Sender) Redacted() string {
	cp := *s.Addr()
	cp.Host = address.Mask
	return cp.String()
}

// IdentityComponents folds the token into the fingerprint input: two bots
// posting to the same chats are different targets, and the hash never
// reveals the token itself.
func (s *Sender) IdentityComponents() []string {
	parts := []string{"tgram", s.token}
	for _, id := range s.chats {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return parts
}

func (s *Sender) Send(ctx context.Context, msg target.Message) error {
	if err := s.Throttle(ctx); err != nil {
		return err
	}

	text := msg.Body
	if msg.Title != "" {
		switch msg.Format {
		case target.FormatHTML:
			text = "<b>" + msg.Title + "</b>\n" + text
		case target.FormatMarkdown:
			text = "*" + msg.Title + "*\n" + text
		default:
			text = msg.Title + "\n" + text
		}
	}

	opt := &tele.SendOptions{
		DisableNotification:   s.silent,
		DisableWebPagePreview: !s.preview,
	}
	switch msg.Format {
	case target.FormatMarkdown:
		opt.ParseMode = tele.ModeMarkdown
	case target.FormatHTML:
		opt.ParseMode = tele.ModeHTML
	}

	var errs []error
	for _, id := range s.chats {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.bot.Send(&tele.Chat{ID: id}, text, opt); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "yes", "true", "on":
		return true
	}
	return false
}
