package notification

import (
	"context"
	"log/slog"
)

const (
	// KindAmbiguousFailure signals that a send failed while the wallet
	// balance moved: the batch stays locked and a human must audit the
	// wallet before reset_all_locked is run.
	KindAmbiguousFailure = "ambiguous_failure"
	// KindInsufficientFunds signals the payout wallet cannot cover the
	// requested total and needs topping up.
	KindInsufficientFunds = "insufficient_funds"
)

// Message describes an operator alert payload.
type Message struct {
	Kind     string
	Currency string
	Body     string
}

// Notifier delivers operator alerts to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes alerts to the structured logger. Production
// deployments can swap in a pager or email implementation.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Error("operator alert", "kind", message.Kind, "currency", message.Currency, "body", message.Body)
	return nil
}
