package messaging

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// CommandUpdate is an incoming slash command.
type CommandUpdate struct {
	ChatID  int64
	UserID  int64
	Command string
	Args    string
}

// TextUpdate is an incoming plain text message.
type TextUpdate struct {
	ChatID int64
	UserID int64
	Text   string
}

// CallbackUpdate is an inline keyboard button press.
type CallbackUpdate struct {
	CallbackID string
	ChatID     int64
	UserID     int64
	Data       string
}

// PaymentUpdate is a completed payment. Code is the SKU the invoice carried
// and ChargeID the provider's charge identifier.
type PaymentUpdate struct {
	UserID   int64
	Code     string
	ChargeID string
}

// Handlers receives decoded updates from the long-poll loop. Nil handlers
// skip that update class.
type Handlers struct {
	OnCommand  func(context.Context, CommandUpdate)
	OnText     func(context.Context, TextUpdate)
	OnCallback func(context.Context, CallbackUpdate)
	OnPayment  func(context.Context, PaymentUpdate)
}

// Telegram delivers payloads over the Bot API and feeds incoming updates to
// the router.
type Telegram struct {
	api *tgbotapi.BotAPI
}

// NewTelegram creates the Telegram transport.
func NewTelegram(token string) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	api, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}
	return &Telegram{api: api}, nil
}

// Send renders the payload as a Telegram message. Actions become an inline
// keyboard, one button per row. The returned handle is the message ID.
func (t *Telegram) Send(_ context.Context, userID int64, p Payload) (int, error) {
	msg := tgbotapi.NewMessage(userID, renderText(p))
	if len(p.Actions) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(p.Actions))
		for _, a := range p.Actions {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Data),
			))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}

	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send telegram message: %w", err)
	}
	return sent.MessageID, nil
}

// VoidMessage rewrites a previously sent offer so its buttons disappear.
// Used when a stored offer is superseded or expires.
func (t *Telegram) VoidMessage(_ context.Context, userID int64, messageID int) error {
	edit := tgbotapi.NewEditMessageText(userID, messageID, "This offer is no longer active.")
	if _, err := t.api.Send(edit); err != nil {
		return fmt.Errorf("void telegram message: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a button press so the client stops its
// spinner.
func (t *Telegram) AnswerCallback(callbackID, text string) error {
	if strings.TrimSpace(callbackID) == "" {
		return nil
	}
	if _, err := t.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}
	return nil
}

// Listen runs the long-poll loop until ctx is cancelled, dispatching
// decoded updates to handlers.
func (t *Telegram) Listen(ctx context.Context, handlers Handlers) error {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := t.api.GetUpdatesChan(updateCfg)
	defer t.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.dispatch(ctx, update, handlers)
		}
	}
}

func (t *Telegram) dispatch(ctx context.Context, update tgbotapi.Update, handlers Handlers) {
	if update.Message != nil && update.Message.From != nil {
		m := update.Message

		if m.SuccessfulPayment != nil && handlers.OnPayment != nil {
			handlers.OnPayment(ctx, PaymentUpdate{
				UserID:   m.From.ID,
				Code:     m.SuccessfulPayment.InvoicePayload,
				ChargeID: m.SuccessfulPayment.ProviderPaymentChargeID,
			})
			return
		}

		if m.IsCommand() && handlers.OnCommand != nil {
			handlers.OnCommand(ctx, CommandUpdate{
				ChatID:  m.Chat.ID,
				UserID:  m.From.ID,
				Command: m.Command(),
				Args:    strings.TrimSpace(m.CommandArguments()),
			})
			return
		}

		if text := strings.TrimSpace(m.Text); text != "" && handlers.OnText != nil {
			handlers.OnText(ctx, TextUpdate{
				ChatID: m.Chat.ID,
				UserID: m.From.ID,
				Text:   text,
			})
		}
		return
	}

	if update.CallbackQuery != nil && update.CallbackQuery.From != nil && handlers.OnCallback != nil {
		cb := update.CallbackQuery
		chatID := int64(0)
		if cb.Message != nil {
			chatID = cb.Message.Chat.ID
		}
		handlers.OnCallback(ctx, CallbackUpdate{
			CallbackID: cb.ID,
			ChatID:     chatID,
			UserID:     cb.From.ID,
			Data:       cb.Data,
		})
	}
}

// renderText flattens a payload into plain text for Telegram. Profile cards
// append their fields below the text line.
func renderText(p Payload) string {
	var b strings.Builder
	b.WriteString(p.Text)

	if card := p.Profile; card != nil {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		name := card.Name
		if card.Verified {
			name += " ✅"
		}
		fmt.Fprintf(&b, "%s, %d (%s)", name, card.Age, card.Gender)
		if card.Extended {
			if card.Location != "" {
				fmt.Fprintf(&b, "\nLocation: %s", card.Location)
			}
			if len(card.Tags) > 0 {
				fmt.Fprintf(&b, "\nInterests: %s", strings.Join(card.Tags, ", "))
			}
			if card.Mood != "" {
				fmt.Fprintf(&b, "\nMood: %s", card.Mood)
			}
		}
	}
	return b.String()
}
