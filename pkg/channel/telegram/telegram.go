package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"meshbot/pkg/channel"
	"meshbot/pkg/config"
	"meshbot/pkg/mesh"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"

// Adapter exposes Telegram as a bot transport: private chats are direct
// messages and configured group chats are named channels.
type Adapter struct {
	token     string
	allowFrom map[string]struct{}
	groups    []config.TelegramGroup

	mu       sync.RWMutex
	bot      *telego.Bot
	selfName string
	contacts map[string]mesh.Contact

	log *slog.Logger
}

var (
	_ channel.Transport    = (*Adapter)(nil)
	_ mesh.ChannelResolver = (*Adapter)(nil)
)

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		token:     token,
		allowFrom: allowFromSet(cfg.AllowFrom),
		groups:    cfg.Groups,
		contacts:  make(map[string]mesh.Contact),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards text messages to handler.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(a.token)
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get bot identity: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.mu.Lock()
	a.bot = bot
	a.selfName = displayName(me)
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.bot = nil
		a.mu.Unlock()
	}()

	a.log.Info("Telegram channel started", "bot", a.SelfName())

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			msg, ok := a.toMessage(update.Message)
			if !ok {
				continue
			}
			a.log.Info("Received message", "target", msg.Target(), "sender", msg.SenderID, "content", channel.Preview(msg.Content))

			if err := handler(ctx, msg); err != nil {
				a.log.Error("Failed to process inbound message", "error", err)
			}
		}
	}
}

// toMessage maps an accepted Telegram message onto a mesh message and
// remembers private-chat senders as contacts.
func (a *Adapter) toMessage(message *telego.Message) (mesh.Message, bool) {
	if message == nil || message.From == nil {
		return mesh.Message{}, false
	}
	content := strings.TrimSpace(message.Text)
	if content == "" {
		return mesh.Message{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return mesh.Message{}, false
	}

	msg := mesh.Message{
		SenderID:     displayName(message.From),
		SenderPubKey: senderID,
		Content:      content,
		Path:         "Direct",
		ReceivedAt:   time.Unix(message.Date, 0),
	}

	if message.Chat.Type == telego.ChatTypePrivate {
		msg.IsDM = true
		a.mu.Lock()
		a.contacts[contactKey(msg.SenderID)] = mesh.Contact{Name: msg.SenderID, PublicKey: strconv.FormatInt(message.Chat.ID, 10)}
		a.mu.Unlock()
		return msg, true
	}

	name, ok := a.groupName(message.Chat.ID)
	if !ok {
		a.log.Debug("Ignoring message from unconfigured group", "chat_id", message.Chat.ID, "title", message.Chat.Title)
		return mesh.Message{}, false
	}
	msg.Channel = name

	return msg, true
}

func (a *Adapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bot != nil
}

func (a *Adapter) SelfName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.selfName
}

// ContactByName finds a user who has messaged the bot privately.
func (a *Adapter) ContactByName(name string) (mesh.Contact, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	contact, ok := a.contacts[contactKey(name)]
	return contact, ok
}

// ChannelNumber maps a configured group name to its position in the group list.
func (a *Adapter) ChannelNumber(name string) (int, bool) {
	for i, group := range a.groups {
		if strings.EqualFold(strings.TrimSpace(group.Name), strings.TrimSpace(name)) {
			return i, true
		}
	}

	return 0, false
}

func (a *Adapter) SendDirect(ctx context.Context, contact mesh.Contact, text string) (*mesh.Event, error) {
	chatID, err := strconv.ParseInt(contact.PublicKey, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("contact %s has no telegram chat id", contact.Name)
	}

	return a.send(ctx, chatID, text)
}

func (a *Adapter) SendChannel(ctx context.Context, number int, text string) (*mesh.Event, error) {
	if number < 0 || number >= len(a.groups) {
		return nil, fmt.Errorf("no telegram group for channel %d", number)
	}

	return a.send(ctx, a.groups[number].ChatID, text)
}

func (a *Adapter) send(ctx context.Context, chatID int64, text string) (*mesh.Event, error) {
	a.mu.RLock()
	bot := a.bot
	a.mu.RUnlock()
	if bot == nil {
		return nil, errors.New("telegram bot not running")
	}

	sent, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err != nil {
		return &mesh.Event{Type: mesh.EventError, Payload: map[string]any{"error": err.Error()}}, nil
	}

	return &mesh.Event{Type: mesh.EventMsgSent, Payload: map[string]any{"message_id": sent.MessageID}}, nil
}

func (a *Adapter) groupName(chatID int64) (string, bool) {
	for _, group := range a.groups {
		if group.ChatID == chatID {
			return group.Name, true
		}
	}

	return "", false
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// displayName prefers the username, then the first name.
func displayName(user *telego.User) string {
	if user == nil {
		return ""
	}
	if user.Username != "" {
		return user.Username
	}
	if user.FirstName != "" {
		return user.FirstName
	}

	return strconv.FormatInt(user.ID, 10)
}

func contactKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}
