package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/rahul/tabletalk/internal/agent"
)

const telegramMessageLimit = 4096

type TelegramGateway struct {
	Bot      *tgbotapi.BotAPI
	Sessions *Sessions
	logger   *zap.Logger
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewTelegramGateway(token string, sessions *Sessions, logger *zap.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("telegram authorized", zap.String("account", bot.Self.UserName))

	return &TelegramGateway{
		Bot:      bot,
		Sessions: sessions,
		logger:   logger,
	}, nil
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			tg.Stop()
			tg.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				tg.wg.Wait()
				return nil
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			msg := update.Message
			tg.logger.Info("message received",
				zap.String("user", userName(msg)),
				zap.Int64("chat_id", msg.Chat.ID),
				zap.String("text", msg.Text),
			)

			tg.wg.Add(1)
			go func() {
				defer tg.wg.Done()
				tg.handle(ctx, msg)
			}()
		}
	}
}

func (tg *TelegramGateway) handle(ctx context.Context, msg *tgbotapi.Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	switch {
	case msg.IsCommand() && msg.Command() == "start":
		tg.reply(msg.Chat.ID, "Ask me anything about the loaded table. Use /reset to start over.")
		return
	case msg.IsCommand() && msg.Command() == "reset":
		if err := tg.Sessions.Reset(ctx, chatID); err != nil {
			tg.logger.Warn("reset failed", zap.String("chat_id", chatID), zap.Error(err))
		}
		tg.reply(msg.Chat.ID, "Conversation cleared.")
		return
	}

	_, _ = tg.Bot.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping))

	turn, err := tg.Sessions.Ask(ctx, chatID, msg.Text, func(e agent.Event) {
		if e.Kind == agent.EventPlan {
			tg.reply(msg.Chat.ID, e.Message())
		}
	})
	if err != nil {
		tg.logger.Warn("turn not run", zap.String("chat_id", chatID), zap.Error(err))
		return
	}

	tg.reply(msg.Chat.ID, turn.Answer)
	if turn.Chart != "" {
		photo := tgbotapi.NewPhoto(msg.Chat.ID, tgbotapi.FilePath(turn.Chart))
		if _, err := tg.Bot.Send(photo); err != nil {
			tg.logger.Warn("failed to send chart", zap.String("path", turn.Chart), zap.Error(err))
		}
	}
}

func (tg *TelegramGateway) reply(chatID int64, text string) {
	for _, part := range SplitMessage(SanitizeAnswer(text), telegramMessageLimit) {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if _, err := tg.Bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			tg.logger.Warn("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
			return
		}
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	for _, part := range SplitMessage(SanitizeAnswer(text), telegramMessageLimit) {
		if _, err := tg.Bot.Send(tgbotapi.NewMessage(id, part)); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
	}
	return nil
}

// Stop ends the update loop. It is safe to call more than once.
func (tg *TelegramGateway) Stop() error {
	tg.stopOnce.Do(tg.Bot.StopReceivingUpdates)
	return nil
}

func userName(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return ""
	}
	return msg.From.UserName
}
