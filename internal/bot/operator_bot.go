// Package bot is the operator console: a Telegram bot that receives alerts and settles
// transactions that need a human.
package bot

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"payments_core/internal/logger"
	"payments_core/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

const pendingListLimit = 20

// OperatorBot handles operator commands and delivers alerts to every operator chat.
type OperatorBot struct {
	bot      *tgbotapi.BotAPI
	ops      Operations
	adminIDs []int64 // Telegram user IDs allowed to issue commands
	stopCh   chan struct{}
	wg       sync.WaitGroup
	log      *slog.Logger
}

var _ service.Alerter = (*OperatorBot)(nil)

func NewOperatorBot(token string, ops Operations, adminIDs []int64) (*OperatorBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log := logger.Component("operator_bot")
	log.Info("operator bot authorized", "username", api.Self.UserName)

	return &OperatorBot{
		bot:      api,
		ops:      ops,
		adminIDs: adminIDs,
		stopCh:   make(chan struct{}),
		log:      log,
	}, nil
}

// Start listens for commands until Stop.
func (b *OperatorBot) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.bot.GetUpdatesChan(u)
	b.log.Info("starting bot update loop")

	for {
		select {
		case <-b.stopCh:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			msg := update.Message
			if msg == nil || msg.From == nil || !msg.IsCommand() || !b.isAdmin(msg.From.ID) {
				continue
			}

			b.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.wg.Done()
				b.handleCommand(msg)
			}(msg)
		}
	}
}

// Stop waits up to ten seconds for running handlers.
func (b *OperatorBot) Stop() {
	close(b.stopCh)
	b.bot.StopReceivingUpdates()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Info("operator bot stopped")
	case <-time.After(10 * time.Second):
		b.log.Warn("operator bot shutdown timeout, some handlers may not have completed")
	}
}

func (b *OperatorBot) isAdmin(userID int64) bool {
	for _, id := range b.adminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *OperatorBot) handleCommand(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx = logger.IntoContext(ctx, b.log.With("admin_id", msg.From.ID, "command", msg.Command()))

	reply := tgbotapi.NewMessage(msg.Chat.ID, b.respond(ctx, msg.From.ID, msg.Command(), msg.CommandArguments()))
	reply.ParseMode = tgbotapi.ModeHTML
	reply.ReplyToMessageID = msg.MessageID
	if _, err := b.bot.Send(reply); err != nil {
		b.log.Error("error sending message", "error", err)
	}
}

// Alert sends text to every operator. Delivery failures are only logged.
func (b *OperatorBot) Alert(ctx context.Context, text string) {
	logger.FromContext(ctx).Warn("operator alert", "text", text)
	if b.bot == nil {
		return
	}
	body := "🚨 " + html.EscapeString(text)
	for _, id := range b.adminIDs {
		m := tgbotapi.NewMessage(id, body)
		m.ParseMode = tgbotapi.ModeHTML
		if _, err := b.bot.Send(m); err != nil {
			b.log.Error("failed to alert operator", "admin_id", id, "error", err)
		}
	}
}

// respond turns one command into its reply text.
func (b *OperatorBot) respond(ctx context.Context, adminID int64, command, args string) string {
	switch command {
	case "start", "help":
		return helpMessage
	case "pending":
		return b.handlePending(ctx)
	case "tx":
		return b.handleTransaction(ctx, args)
	case "approve":
		return b.handleSettle(ctx, adminID, args, true)
	case "reject":
		return b.handleSettle(ctx, adminID, args, false)
	case "dispatch":
		return b.handleDispatch(ctx, args)
	case "balance":
		return b.handleBalance(ctx, args)
	case "verify":
		return b.handleVerify(ctx, args)
	}
	return "❌ Unknown command. Use /help for the list."
}

const helpMessage = `<b>Operator commands</b>

/pending - transactions waiting for a provider or an operator
/tx &lt;id&gt; - transaction details
/approve &lt;id&gt; - settle as approved
/reject &lt;id&gt; - settle as rejected (withdrawals are refunded)
/dispatch &lt;id&gt; - send a pending withdrawal to its provider
/balance &lt;user_id&gt; - current balance
/verify [user_id] - check balances against the ledger`

func errorReply(err error) string {
	return "❌ " + html.EscapeString(err.Error())
}

func parseID(args string) (uuid.UUID, bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fields[0])
	return id, err == nil
}

func (b *OperatorBot) handlePending(ctx context.Context) string {
	pending, err := b.ops.Pending(ctx, pendingListLimit)
	if err != nil {
		return errorReply(err)
	}
	if len(pending) == 0 {
		return "✅ Nothing pending"
	}

	var sb strings.Builder
	sb.WriteString("<b>Pending transactions</b>\n\n")
	for _, t := range pending {
		fmt.Fprintf(&sb, "<code>%s</code>\n%s %s %s | user %d | %s\n", t.ID, t.Kind, t.Amount.StringFixed(2), t.Currency, t.UserID, t.Provider)
		if t.DispatchedAt != nil {
			sb.WriteString("sent to provider\n")
		}
		fmt.Fprintf(&sb, "%s\n\n", t.CreatedAt.Format("02.01.2006 15:04"))
	}
	return sb.String()
}

func (b *OperatorBot) handleTransaction(ctx context.Context, args string) string {
	id, ok := parseID(args)
	if !ok {
		return "❌ Usage: /tx <id>"
	}
	t, err := b.ops.Transaction(ctx, id)
	if err != nil {
		return errorReply(err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Transaction</b> <code>%s</code>\n\n", t.ID)
	fmt.Fprintf(&sb, "• Kind: %s\n• Status: %s\n• User: %d\n", t.Kind, t.Status, t.UserID)
	fmt.Fprintf(&sb, "• Amount: %s %s\n", t.Amount.StringFixed(2), t.Currency)
	if t.Provider != "" {
		fmt.Fprintf(&sb, "• Provider: %s\n", t.Provider)
	}
	if t.ExternalID != "" {
		fmt.Fprintf(&sb, "• Provider ID: <code>%s</code>\n", html.EscapeString(t.ExternalID))
	}
	if t.PayeeKey != "" {
		fmt.Fprintf(&sb, "• Payee: <code>%s</code>\n", html.EscapeString(t.PayeeKey))
	}
	fmt.Fprintf(&sb, "• Created: %s", t.CreatedAt.Format("02.01.2006 15:04"))
	if t.SettledAt != nil {
		fmt.Fprintf(&sb, "\n• Settled: %s", t.SettledAt.Format("02.01.2006 15:04"))
	}
	return sb.String()
}

func (b *OperatorBot) handleSettle(ctx context.Context, adminID int64, args string, approve bool) string {
	id, ok := parseID(args)
	if !ok {
		if approve {
			return "❌ Usage: /approve <id>"
		}
		return "❌ Usage: /reject <id>"
	}
	outcome, err := b.ops.Settle(ctx, id, approve, adminID)
	if err != nil {
		return errorReply(err)
	}
	return outcomeReply(id, outcome)
}

func (b *OperatorBot) handleDispatch(ctx context.Context, args string) string {
	id, ok := parseID(args)
	if !ok {
		return "❌ Usage: /dispatch <id>"
	}
	outcome, err := b.ops.Dispatch(ctx, id)
	if err != nil {
		return errorReply(err)
	}
	if outcome == service.OutcomeStillPending {
		return fmt.Sprintf("📤 <code>%s</code> sent, waiting for the provider", id)
	}
	return outcomeReply(id, outcome)
}

func outcomeReply(id uuid.UUID, outcome service.Outcome) string {
	switch outcome {
	case service.OutcomeApproved:
		return fmt.Sprintf("✅ <code>%s</code> approved", id)
	case service.OutcomeRejected:
		return fmt.Sprintf("❌ <code>%s</code> rejected", id)
	case service.OutcomeCanceled:
		return fmt.Sprintf("↩️ <code>%s</code> canceled and refunded", id)
	case service.OutcomeAlreadyReconciled:
		return fmt.Sprintf("ℹ️ <code>%s</code> was already settled, nothing changed", id)
	case service.OutcomeAlreadyProcessing:
		return fmt.Sprintf("⏳ <code>%s</code> is being processed, try again shortly", id)
	}
	return fmt.Sprintf("<code>%s</code>: %s", id, outcome)
}

func (b *OperatorBot) handleBalance(ctx context.Context, args string) string {
	userID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		return "❌ Usage: /balance <user_id>"
	}
	bal, err := b.ops.Balance(ctx, userID)
	if err != nil {
		return errorReply(err)
	}
	return fmt.Sprintf("💰 User %d: %s", userID, bal.StringFixed(2))
}

func (b *OperatorBot) handleVerify(ctx context.Context, args string) string {
	if s := strings.TrimSpace(args); s != "" {
		userID, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return "❌ Usage: /verify [user_id]"
		}
		v, err := b.ops.Verify(ctx, userID)
		if err != nil {
			return errorReply(err)
		}
		return verificationLine(v)
	}

	bad, err := b.ops.VerifyAll(ctx)
	if err != nil {
		return errorReply(err)
	}
	if len(bad) == 0 {
		return "✅ Every balance matches its ledger"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%d balances drifted</b>\n\n", len(bad))
	for _, v := range bad {
		sb.WriteString(verificationLine(v))
		sb.WriteString("\n")
	}
	return sb.String()
}

func verificationLine(v *service.Verification) string {
	if v.OK() {
		return fmt.Sprintf("✅ User %d: %s matches the ledger", v.UserID, v.Balance.StringFixed(2))
	}
	return fmt.Sprintf("⚠️ User %d: balance %s, ledger %s, drift %s", v.UserID,
		v.Balance.StringFixed(2), v.Expected().StringFixed(2), v.Drift().StringFixed(2))
}

