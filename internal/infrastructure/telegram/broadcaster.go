package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/recallbot/internal/domain"
	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"
)

const serviceName = "telegram"

// channel is a public "@name" or a numeric chat id.
type channel string

func (c channel) Recipient() string { return string(c) }

// Broadcaster sends drafts to a Telegram channel.
type Broadcaster struct {
	bot     *tele.Bot
	channel channel
	dryRun  bool
	log     zerolog.Logger
}

// New creates the bot offline, so no request is made until the first send.
// apiURL overrides the Bot API endpoint when non-empty. timeout bounds each
// Bot API request, defaulting to 30s.
func New(token, chat, apiURL string, timeout time.Duration, dryRun bool, log zerolog.Logger) (*Broadcaster, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if strings.TrimSpace(chat) == "" {
		return nil, errors.New("telegram channel is empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     apiURL,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		bot:     b,
		channel: channel(strings.TrimSpace(chat)),
		dryRun:  dryRun,
		log:     log.With().Str("component", "telegram").Logger(),
	}, nil
}

func (b *Broadcaster) Name() string { return serviceName }

type sendResult struct {
	msg *tele.Message
	err error
}

// Publish returns as soon as ctx is done. telebot has no context support, so
// the request itself keeps running until the client timeout and the message
// may still be delivered; the ctx error marks that outcome as unknown.
func (b *Broadcaster) Publish(ctx context.Context, d domain.Draft) (domain.Receipt, error) {
	if strings.TrimSpace(d.Text) == "" {
		return domain.Receipt{}, fmt.Errorf("empty message: %w", domain.ErrBadRequest)
	}
	text := d.Text
	if d.LinkURI != "" {
		text += "\n\n" + d.LinkURI
	}
	rc := domain.Receipt{Raw: text}
	if b.dryRun {
		b.log.Info().Str("recall_id", d.RecallID).Msg("dry run, message not sent")
		return rc, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}

	done := make(chan sendResult, 1)
	go func() {
		msg, err := b.bot.Send(b.channel, text, &tele.SendOptions{DisableWebPagePreview: d.LinkURI == ""})
		done <- sendResult{msg: msg, err: err}
	}()
	var res sendResult
	select {
	case <-ctx.Done():
		b.log.Warn().Str("recall_id", d.RecallID).Msg("send abandoned, delivery unknown")
		return domain.Receipt{}, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return domain.Receipt{}, upstream(res.err)
	}
	rc.URI = b.messageURI(res.msg)
	rc.CID = strconv.Itoa(res.msg.ID)
	return rc, nil
}

func (b *Broadcaster) messageURI(msg *tele.Message) string {
	id := strconv.Itoa(msg.ID)
	if name, ok := strings.CutPrefix(string(b.channel), "@"); ok {
		return "https://t.me/" + name + "/" + id
	}
	chat := string(b.channel)
	if msg.Chat != nil {
		chat = strconv.FormatInt(msg.Chat.ID, 10)
	}
	return "tg://" + chat + "/" + id
}

// upstream maps Bot API errors onto domain.UpstreamError so the retry
// policy can read status and flood-wait hints.
func upstream(err error) error {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &domain.UpstreamError{
			Service:    serviceName,
			Status:     http.StatusTooManyRequests,
			Message:    err.Error(),
			RetryAfter: time.Duration(fe.RetryAfter) * time.Second,
		}
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code != 0 {
		return &domain.UpstreamError{Service: serviceName, Status: te.Code, Message: te.Description}
	}
	return err
}
