package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/rahul/tabletalk/internal/agent"
)

const discordMessageLimit = 2000

// DiscordGateway answers direct messages and messages that mention the bot.
// Each channel is one chat.
type DiscordGateway struct {
	Session  *discordgo.Session
	Sessions *Sessions
	logger   *zap.Logger

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewDiscordGateway(token string, sessions *Sessions, logger *zap.Logger) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscordGateway{Session: s, Sessions: sessions, logger: logger}, nil
}

func (dg *DiscordGateway) Start(ctx context.Context) error {
	remove := dg.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		botID := ""
		if s.State != nil && s.State.User != nil {
			botID = s.State.User.ID
		}
		text, ok := addressed(botID, m.Message)
		if !ok {
			return
		}

		dg.mu.Lock()
		defer dg.mu.Unlock()
		if dg.closed {
			return
		}
		dg.logger.Info("message received",
			zap.String("user", m.Author.Username),
			zap.String("channel_id", m.ChannelID),
			zap.String("text", text),
		)
		dg.wg.Add(1)
		go func() {
			defer dg.wg.Done()
			dg.handle(ctx, m.ChannelID, text)
		}()
	})
	defer remove()

	if err := dg.Session.Open(); err != nil {
		return fmt.Errorf("discord connect failed: %w", err)
	}
	if u := dg.Session.State.User; u != nil {
		dg.logger.Info("discord connected", zap.String("account", u.Username))
	}

	<-ctx.Done()
	dg.mu.Lock()
	dg.closed = true
	dg.mu.Unlock()
	err := dg.Stop()
	dg.wg.Wait()
	return err
}

// addressed reports whether m is meant for the bot and returns its text
// with any mention of the bot removed.
func addressed(botID string, m *discordgo.Message) (string, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == botID {
		return "", false
	}
	text := m.Content
	if m.GuildID != "" {
		mentioned := false
		for _, u := range m.Mentions {
			if u != nil && u.ID == botID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return "", false
		}
		text = strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "").Replace(text)
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

func (dg *DiscordGateway) handle(ctx context.Context, channelID, text string) {
	switch strings.ToLower(text) {
	case "!start", "!help":
		dg.reply(channelID, "Ask me anything about the loaded table. Use !reset to start over.")
		return
	case "!reset":
		if err := dg.Sessions.Reset(ctx, channelID); err != nil {
			dg.logger.Warn("reset failed", zap.String("channel_id", channelID), zap.Error(err))
		}
		dg.reply(channelID, "Conversation cleared.")
		return
	}

	_ = dg.Session.ChannelTyping(channelID)

	turn, err := dg.Sessions.Ask(ctx, channelID, text, func(e agent.Event) {
		if e.Kind == agent.EventPlan {
			dg.reply(channelID, e.Message())
		}
	})
	if err != nil {
		dg.logger.Warn("turn not run", zap.String("channel_id", channelID), zap.Error(err))
		return
	}

	dg.reply(channelID, turn.Answer)
	if turn.Chart != "" {
		if err := dg.sendFile(channelID, turn.Chart); err != nil {
			dg.logger.Warn("failed to send chart", zap.String("path", turn.Chart), zap.Error(err))
		}
	}
}

func (dg *DiscordGateway) sendFile(channelID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = dg.Session.ChannelFileSend(channelID, filepath.Base(path), f)
	return err
}

func (dg *DiscordGateway) reply(channelID, text string) {
	if err := dg.Send(channelID, text); err != nil {
		dg.logger.Warn("failed to send message", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (dg *DiscordGateway) Send(chatID string, text string) error {
	for _, part := range SplitMessage(SanitizeAnswer(text), discordMessageLimit) {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if _, err := dg.Session.ChannelMessageSend(chatID, part); err != nil {
			return fmt.Errorf("discord send failed: %w", err)
		}
	}
	return nil
}

// Stop closes the websocket. It is safe to call more than once.
func (dg *DiscordGateway) Stop() error {
	var err error
	dg.stopOnce.Do(func() { err = dg.Session.Close() })
	return err
}
