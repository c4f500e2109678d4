// Package telegram implements the outbound delivery transport on the
// Telegram Bot API via telebot. The adapter is send-only: it never polls
// for updates.
package telegram

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"remindbot/internal/notification"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Config struct {
	Token string

	// SendRatePerSec is a courtesy throttle below Telegram's own flood
	// limits. 0 means the default of 25 messages per second.
	SendRatePerSec int

	// Offline skips the getMe probe at construction (tests).
	Offline bool
}

const defaultSendRatePerSec = 25

type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	// throttle smooths outbound API calls so bursts from a batch drain
	// don't trip Telegram's flood control.
	throttle *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = defaultSendRatePerSec
	}

	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}

	return &Adapter{
		log:      log,
		bot:      b,
		throttle: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// recipient satisfies telebot's Recipient for both numeric chat ids and
// "@username" targets; the Bot API accepts either form as chat_id.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func parseRecipient(id string) (recipient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("empty recipient")
	}
	if strings.HasPrefix(id, "@") {
		if len(id) < 2 {
			return "", errors.New("empty username recipient")
		}
		return recipient(id), nil
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return "", errors.New("recipient must be a chat id or @username")
	}
	return recipient(id), nil
}

// Deliver sends one notification to a chat. Long messages are split on
// newline boundaries; an error on any chunk fails the whole delivery.
func (a *Adapter) Deliver(ctx context.Context, recipientID string, content notification.Content) error {
	to, err := parseRecipient(recipientID)
	if err != nil {
		return transport.NewError(transport.KindBadRecipient, err.Error(), err)
	}

	text := renderText(content)
	for _, chunk := range splitText(text, textLimit) {
		if err := a.throttle.Wait(ctx); err != nil {
			return transport.NewError(transport.KindTimeout, "throttle wait", err)
		}
		if _, err := a.bot.Send(to, chunk); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func renderText(c notification.Content) string {
	title := strings.TrimSpace(c.Title)
	msg := strings.TrimSpace(c.Message)
	if title == "" {
		return msg
	}
	if msg == "" {
		return title
	}
	return title + "\n\n" + msg
}

// mapError translates telebot and network failures into classified
// transport errors. FloodError embeds Error, so it is matched first.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return transport.NewError(transport.KindThrottled,
			"telegram flood control, retry after "+strconv.Itoa(flood.RetryAfter)+"s", err)
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code >= 500:
			return transport.NewError(transport.KindServer, "telegram server error", err)
		case apiErr.Code == 401 || apiErr.Code == 403:
			return transport.NewError(transport.KindForbidden, "telegram rejected sender", err)
		case apiErr.Code == 400 || apiErr.Code == 404:
			return transport.NewError(transport.KindBadRecipient, "telegram rejected recipient", err)
		default:
			return transport.NewError(transport.KindUnknown, "telegram api error", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return transport.NewError(transport.KindTimeout, "telegram request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return transport.NewError(transport.KindTimeout, "telegram request timed out", err)
		}
		return transport.NewError(transport.KindNetwork, "network error reaching telegram", err)
	}

	return transport.NewError(transport.KindUnknown, "telegram send failed", err)
}

const textLimit = 4000

// splitText splits long messages into chunks Telegram will accept,
// preferring newline boundaries near the end of each window.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						cut = i + 1
						break
					}
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// SendRate reports the configured throttle rate for diagnostics.
func (a *Adapter) SendRate() float64 { return float64(a.throttle.Limit()) }

// SetSendRate swaps the throttle on config reload.
func (a *Adapter) SetSendRate(perSec int) {
	if perSec <= 0 {
		perSec = defaultSendRatePerSec
	}
	a.throttle.SetLimit(rate.Limit(perSec))
	a.throttle.SetBurst(perSec)
}

var _ transport.Transport = (*Adapter)(nil)
