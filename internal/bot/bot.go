// Package bot is the Telegram review surface: it lists pending drafts,
// takes approve/reject decisions, and can kick off generation runs.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/cryptodefiza-create/content-machine/internal/export"
	"github.com/cryptodefiza-create/content-machine/internal/pipeline"
	"github.com/cryptodefiza-create/content-machine/internal/queue"
	"github.com/cryptodefiza-create/content-machine/internal/scout"
)

// Config holds the bot settings.
type Config struct {
	Enabled        bool
	BotToken       string
	AllowedChatIDs []int64
}

// Bot wraps the Telegram API around the pipeline and the approval queue.
type Bot struct {
	api      *tgbotapi.BotAPI
	pipeline *pipeline.Pipeline
	store    *queue.Store
	exporter *export.Exporter
	allowed  map[int64]struct{}
	logger   *zap.Logger
}

// NewBot creates a new Telegram bot instance. Returns nil when disabled.
func NewBot(cfg Config, p *pipeline.Pipeline, store *queue.Store, exporter *export.Exporter, logger *zap.Logger) (*Bot, error) {
	if !cfg.Enabled || cfg.BotToken == "" {
		logger.Info("Telegram bot is disabled (telegram.enabled=false or token is empty)")
		return nil, nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	allowed := make(map[int64]struct{}, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[id] = struct{}{}
	}

	return &Bot{
		api:      botAPI,
		pipeline: p,
		store:    store,
		exporter: exporter,
		allowed:  allowed,
		logger:   logger,
	}, nil
}

// Start begins listening for updates from Telegram
func (b *Bot) Start(ctx context.Context) error {
	if b == nil {
		return nil // Bot is disabled
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Telegram bot started, waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot shutting down...")
			b.api.StopReceivingUpdates()
			return nil
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallbackQuery(ctx, update.CallbackQuery)
			} else if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) authorized(chatID int64) bool {
	if len(b.allowed) == 0 {
		return true
	}
	_, ok := b.allowed[chatID]
	return ok
}

// handleCallbackQuery processes the inline approve/reject buttons
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	b.logger.Info("Received callback query",
		zap.String("data", query.Data),
		zap.Int64("user_id", query.From.ID),
	)

	callback := tgbotapi.NewCallback(query.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.logger.Error("Failed to send callback response", zap.Error(err))
	}

	chatID := query.Message.Chat.ID
	if !b.authorized(chatID) {
		b.sendMessage(chatID, "⛔ This chat is not authorized")
		return
	}

	parts := strings.SplitN(query.Data, ":", 2)
	if len(parts) != 2 {
		b.logger.Error("Failed to parse callback data: invalid format", zap.String("data", query.Data))
		b.sendMessage(chatID, "❌ Could not parse that action")
		return
	}
	action, itemID := parts[0], parts[1]
	actor := actorName(query.From)

	var result string
	switch action {
	case "approve":
		result = b.approve(ctx, itemID, actor)
	case "reject":
		result = b.reject(ctx, itemID, actor, "rejected via button")
	default:
		b.logger.Error("Unknown action", zap.String("action", action))
		b.sendMessage(chatID, "❌ Unknown action")
		return
	}

	b.sendMessage(chatID, result)

	// Remove the buttons so the decision cannot be retried from the UI
	edit := tgbotapi.NewEditMessageText(
		chatID,
		query.Message.MessageID,
		query.Message.Text+"\n\n"+result,
	)
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Error("Failed to edit message", zap.Error(err))
	}
}

// handleMessage processes incoming commands
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if !message.IsCommand() {
		return
	}
	chatID := message.Chat.ID
	if !b.authorized(chatID) {
		b.sendMessage(chatID, "⛔ This chat is not authorized")
		return
	}

	args := strings.TrimSpace(message.CommandArguments())
	actor := actorName(message.From)

	switch message.Command() {
	case "start", "help":
		b.sendMessage(chatID, helpText)
	case "status":
		b.handleStatus(ctx, chatID)
	case "pending":
		b.handlePending(ctx, chatID)
	case "next":
		b.handleNext(ctx, chatID)
	case "approve":
		b.handleDecision(ctx, chatID, args, actor, true)
	case "reject":
		b.handleDecision(ctx, chatID, args, actor, false)
	case "export":
		b.handleExport(ctx, chatID, args)
	case "generate":
		b.handleGenerate(ctx, chatID, args)
	case "dryrun":
		b.handleDryRun(chatID, args)
	default:
		b.sendMessage(chatID, "Unknown command. Use /help.")
	}
}

const helpText = "📚 Commands:\n\n" +
	"/status - queue stats and dry-run flag\n" +
	"/pending - list drafts waiting for review\n" +
	"/next - show the oldest pending draft with buttons\n" +
	"/approve <id> - approve a draft\n" +
	"/reject <id> [reason] - reject a draft\n" +
	"/export <id> - export an approved draft to CSV\n" +
	"/generate <topic> - run the pipeline on a topic\n" +
	"/dryrun on|off - toggle simulation mode"

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	stats, err := b.store.Stats(ctx)
	if err != nil {
		b.logger.Error("Failed to load queue stats", zap.Error(err))
		b.sendMessage(chatID, "❌ Failed to load stats")
		return
	}
	b.sendMessage(chatID, fmt.Sprintf(
		"📊 Queue: %d total\n⏳ queued: %d\n✅ approved: %d\n❌ rejected: %d\n📤 exported: %d\n🕰 expired: %d\n\nDry run: %v",
		stats.Total, stats.Queued, stats.Approved, stats.Rejected, stats.Exported, stats.Expired,
		b.pipeline.DryRun()))
}

func (b *Bot) handlePending(ctx context.Context, chatID int64) {
	items, err := b.store.Pending(ctx, 10)
	if err != nil {
		b.logger.Error("Failed to list pending items", zap.Error(err))
		b.sendMessage(chatID, "❌ Failed to list pending drafts")
		return
	}
	if len(items) == 0 {
		b.sendMessage(chatID, "Nothing pending 🎉")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⏳ %d pending:\n\n", len(items)))
	for _, item := range items {
		fmt.Fprintf(&sb, "• %s [%s] %s\n", item.ID, item.Persona, preview(item.Content, 60))
	}
	b.sendMessage(chatID, sb.String())
}

func (b *Bot) handleNext(ctx context.Context, chatID int64) {
	items, err := b.store.Pending(ctx, 1)
	if err != nil {
		b.logger.Error("Failed to fetch next item", zap.Error(err))
		b.sendMessage(chatID, "❌ Failed to fetch the next draft")
		return
	}
	if len(items) == 0 {
		b.sendMessage(chatID, "Nothing pending 🎉")
		return
	}
	item := items[0]

	text := fmt.Sprintf(
		"📝 Draft %s\n👤 %s\n📰 %s\n\n%s\n\n💰 est. $%.4f",
		item.ID, item.Persona, item.Topic, item.Content, item.EstimatedCost)
	if issues := item.Issues(); len(issues) > 0 {
		text += "\n⚠️ " + strings.Join(issues, "; ")
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", "approve:"+item.ID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", "reject:"+item.ID),
		),
	)

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send draft message", zap.Error(err))
	}
}

func (b *Bot) handleDecision(ctx context.Context, chatID int64, args, actor string, isApprove bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		b.sendMessage(chatID, "Usage: /approve <id> or /reject <id> [reason]")
		return
	}
	id := fields[0]

	if isApprove {
		b.sendMessage(chatID, b.approve(ctx, id, actor))
		return
	}
	reason := strings.TrimSpace(strings.TrimPrefix(args, id))
	if reason == "" {
		reason = "rejected via command"
	}
	b.sendMessage(chatID, b.reject(ctx, id, actor, reason))
}

func (b *Bot) handleExport(ctx context.Context, chatID int64, args string) {
	id := strings.TrimSpace(args)
	if id == "" {
		b.sendMessage(chatID, "Usage: /export <id>")
		return
	}

	record, err := b.store.Export(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrNotFound):
		b.sendMessage(chatID, "❌ Draft not found")
		return
	case errors.Is(err, queue.ErrNotApproved):
		b.sendMessage(chatID, "ℹ️ Draft is not approved yet")
		return
	default:
		b.logger.Error("Export failed", zap.String("id", id), zap.Error(err))
		b.sendMessage(chatID, "❌ Export failed")
		return
	}

	path, err := b.exporter.WriteRecords(record.RunID, []*queue.ExportRecord{record})
	if err != nil {
		b.logger.Error("CSV write failed", zap.String("id", id), zap.Error(err))
		b.sendMessage(chatID, "❌ CSV write failed")
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("📤 Exported %s\n%s", id, path))
}

func (b *Bot) handleGenerate(ctx context.Context, chatID int64, args string) {
	if strings.TrimSpace(args) == "" {
		b.sendMessage(chatID, "Usage: /generate <topic>")
		return
	}

	b.sendMessage(chatID, "🏗 Generating...")
	result, err := b.pipeline.Run(ctx, scout.FromText([]string{args}), nil)
	if err != nil {
		b.logger.Error("Pipeline run failed", zap.Error(err))
		b.sendMessage(chatID, "❌ Run failed: "+err.Error())
		return
	}

	b.sendMessage(chatID, fmt.Sprintf(
		"🏁 Run %s finished\n⏳ queued: %d\n🧪 simulated: %d\n♻️ duplicates: %d\n💥 failed: %d\n💰 est. $%.4f",
		result.RunID, result.Queued, result.Simulated, result.Duplicates, result.Failed, result.TotalCost))
}

func (b *Bot) handleDryRun(chatID int64, args string) {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "on":
		b.pipeline.SetDryRun(true)
	case "off":
		b.pipeline.SetDryRun(false)
	case "":
	default:
		b.sendMessage(chatID, "Usage: /dryrun on|off")
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("Dry run: %v", b.pipeline.DryRun()))
}

func (b *Bot) approve(ctx context.Context, id, actor string) string {
	err := b.store.Approve(ctx, id, actor)
	switch {
	case err == nil:
		return fmt.Sprintf("✅ Approved %s (by %s)", id, actor)
	case errors.Is(err, queue.ErrAlreadyDecided):
		return "ℹ️ Already decided"
	case errors.Is(err, queue.ErrNotFound):
		return "❌ Draft not found"
	default:
		b.logger.Error("Approve failed", zap.String("id", id), zap.Error(err))
		return "❌ Approve failed"
	}
}

func (b *Bot) reject(ctx context.Context, id, actor, reason string) string {
	err := b.store.Reject(ctx, id, actor, reason)
	switch {
	case err == nil:
		return fmt.Sprintf("❌ Rejected %s (by %s)", id, actor)
	case errors.Is(err, queue.ErrAlreadyDecided):
		return "ℹ️ Already decided"
	case errors.Is(err, queue.ErrNotFound):
		return "❌ Draft not found"
	default:
		b.logger.Error("Reject failed", zap.String("id", id), zap.Error(err))
		return "❌ Reject failed"
	}
}

func actorName(user *tgbotapi.User) string {
	if user == nil {
		return "unknown"
	}
	if user.UserName != "" {
		return user.UserName
	}
	return strconv.FormatInt(user.ID, 10)
}

func preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

// sendMessage is a helper to send a simple text message
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
