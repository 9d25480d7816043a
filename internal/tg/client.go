package tg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Titusvirous/ToxicInfoBot/internal/metrics"
)

// Parse modes accepted by SendOptions.ParseMode.
const (
	ParseNone     = ""
	ParseMarkdown = tgbotapi.ModeMarkdown
)

// MemberStatus is the chat member status reported by Telegram.
type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
)

// Keyboard is a reply keyboard given as rows of button labels. Remove hides
// any keyboard currently shown to the user.
type Keyboard struct {
	Rows   [][]string
	Remove bool
}

// SendOptions controls formatting of an outgoing message.
type SendOptions struct {
	ParseMode string
	Keyboard  *Keyboard
	ReplyToID int
}

// Message is an inbound text message from a user.
type Message struct {
	UserID    int64
	ChatID    int64
	MessageID int
	FirstName string
	Username  string
	Text      string
	Private   bool
	Received  time.Time
}

// MessageProcessor handles inbound Telegram messages.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, msg Message)
}

// Config holds configuration to initialise the Telegram client.
type Config struct {
	Token   string
	Debug   bool
	Metrics *metrics.Metrics
}

// Client wraps the Bot API client.
type Client struct {
	api     *tgbotapi.BotAPI
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New authenticates the bot token against the Bot API.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("bot token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	api.Debug = cfg.Debug

	c := &Client{
		api:     api,
		logger:  logger.With("component", "tg"),
		metrics: cfg.Metrics,
	}
	c.logger.Info("telegram bot authorized", "username", api.Self.UserName)
	return c, nil
}

// BotUsername returns the bot's @username without the @.
func (c *Client) BotUsername() string {
	return c.api.Self.UserName
}

// SendText sends a text message and returns its message id.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = opts.ParseMode
	msg.ReplyToMessageID = opts.ReplyToID
	if markup := replyMarkup(opts.Keyboard); markup != nil {
		msg.ReplyMarkup = markup
	}

	var sent tgbotapi.Message
	err := c.withRetry(ctx, "sendMessage", func() error {
		var err error
		sent, err = c.api.Send(msg)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("send text to %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

// EditText replaces the text of a message previously sent by the bot.
func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text, parseMode string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = parseMode
	err := c.withRetry(ctx, "editMessageText", func() error {
		_, err := c.api.Request(edit)
		return err
	})
	if err != nil {
		return fmt.Errorf("edit message %d in %d: %w", messageID, chatID, err)
	}
	return nil
}

// DeleteMessage removes a message from a chat.
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	del := tgbotapi.NewDeleteMessage(chatID, messageID)
	err := c.withRetry(ctx, "deleteMessage", func() error {
		_, err := c.api.Request(del)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete message %d in %d: %w", messageID, chatID, err)
	}
	return nil
}

// GetMembership reports userID's status in channel. channel is either an
// @username or a numeric chat id.
func (c *Client) GetMembership(ctx context.Context, channel string, userID int64) (MemberStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	chat := tgbotapi.ChatConfigWithUser{UserID: userID}
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil {
		chat.ChatID = id
	} else {
		chat.SuperGroupUsername = channel
	}

	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{ChatConfigWithUser: chat})
	c.observe("getChatMember", err)
	if err != nil {
		return "", fmt.Errorf("get chat member %d in %s: %w", userID, channel, err)
	}
	return MemberStatus(member.Status), nil
}

// SetWebhook registers url with Telegram. secret is echoed back by Telegram
// in the X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	params["allowed_updates"] = `["message"]`
	_, err := c.api.MakeRequest("setWebhook", params)
	c.observe("setWebhook", err)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	c.logger.Info("telegram webhook registered", "url", url)
	return nil
}

// DeleteWebhook switches the bot back to getUpdates delivery.
func (c *Client) DeleteWebhook() error {
	_, err := c.api.Request(tgbotapi.DeleteWebhookConfig{})
	c.observe("deleteWebhook", err)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

// Poll receives updates with long polling and hands them to d until ctx is
// cancelled.
func (c *Client) Poll(ctx context.Context, d *Dispatcher) error {
	if err := c.DeleteWebhook(); err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message"}
	updates := c.api.GetUpdatesChan(u)
	c.logger.Info("long polling started")

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			c.logger.Info("long polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if msg, ok := messageFromUpdate(update); ok {
				if err := d.Submit(msg); err != nil {
					c.logger.Warn("update not dispatched", "update_id", update.UpdateID, "error", err)
				}
			}
		}
	}
}

// withRetry runs call and retries once when Telegram asks to back off.
func (c *Client) withRetry(ctx context.Context, method string, call func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := call()
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		c.logger.Warn("telegram rate limited", "method", method, "retry_after", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.observe(method, err)
			return ctx.Err()
		case <-timer.C:
		}
		err = call()
	}
	c.observe(method, err)
	return err
}

func (c *Client) observe(method string, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		c.metrics.Errors.WithLabelValues("tg").Inc()
	}
	c.metrics.TGOutgoingMessages.WithLabelValues(method, status).Inc()
}

func replyMarkup(kb *Keyboard) any {
	if kb == nil {
		return nil
	}
	if kb.Remove {
		return tgbotapi.NewRemoveKeyboard(false)
	}
	rows := make([][]tgbotapi.KeyboardButton, 0, len(kb.Rows))
	for _, labels := range kb.Rows {
		row := make([]tgbotapi.KeyboardButton, 0, len(labels))
		for _, label := range labels {
			row = append(row, tgbotapi.NewKeyboardButton(label))
		}
		rows = append(rows, row)
	}
	markup := tgbotapi.NewReplyKeyboard(rows...)
	markup.ResizeKeyboard = true
	return markup
}

// messageFromUpdate extracts a text message from a user. Other update kinds
// and non-text messages are ignored.
func messageFromUpdate(update tgbotapi.Update) (Message, bool) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil || m.From.IsBot {
		return Message{}, false
	}
	if strings.TrimSpace(m.Text) == "" {
		return Message{}, false
	}
	return Message{
		UserID:    m.From.ID,
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		FirstName: m.From.FirstName,
		Username:  m.From.UserName,
		Text:      m.Text,
		Private:   m.Chat.IsPrivate(),
		Received:  time.Now(),
	}, true
}

// EscapeMarkdown escapes user-supplied text for the legacy Markdown mode.
func EscapeMarkdown(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
