// Package notify delivers recovery notices to guardians.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
)

// Message is a rendered guardian notice. It never contains secret material.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Render builds the notice sent to a guardian.
func Render(guardianEmail, recoveryID string, nctx interfaces.NotificationContext) Message {
	method := strings.ToLower(string(nctx.Method))
	var reason string
	switch nctx.Reason {
	case "inactivity":
		reason = "The wallet owner has not shown any activity for the configured period."
	default:
		reason = "A recovery was triggered for a wallet you guard."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", reason)
	fmt.Fprintf(&b, "Wallet: %s\n", nctx.WalletID)
	fmt.Fprintf(&b, "Recovery: %s (%s)\n", recoveryID, method)
	fmt.Fprintf(&b, "Triggered at: %s UTC\n\n", nctx.TriggeredAt.UTC().Format(time.RFC3339))
	b.WriteString("If you did not expect this message, contact the wallet owner.\n")

	return Message{
		To:      guardianEmail,
		Subject: fmt.Sprintf("Wallet recovery triggered (%s)", method),
		Body:    b.String(),
	}
}

// LogNotifier writes notices to the log instead of sending them.
type LogNotifier struct {
	log *slog.Logger
}

var _ interfaces.GuardianNotifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, guardianEmail, recoveryID string, nctx interfaces.NotificationContext) error {
	n.log.Info("Guardian notification",
		slog.String("recovery_id", recoveryID),
		slog.String("wallet_id", nctx.WalletID),
		slog.String("method", string(nctx.Method)),
		slog.String("reason", nctx.Reason),
		slog.Time("triggered_at", nctx.TriggeredAt))
	return nil
}

// Multi fans a notice out to every notifier. All notifiers are tried; the
// joined error of the failures is returned.
type Multi []interfaces.GuardianNotifier

var _ interfaces.GuardianNotifier = Multi(nil)

func (m Multi) Notify(ctx context.Context, guardianEmail, recoveryID string, nctx interfaces.NotificationContext) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, guardianEmail, recoveryID, nctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
