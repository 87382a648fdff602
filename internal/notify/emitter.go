package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/halcyonpay/sentinel/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	notifyEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "notify",
		Name:      "emit_total",
		Help:      "Total notification emit attempts by message type.",
	}, []string{"type"})

	notifyEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "notify",
		Name:      "emit_errors_total",
		Help:      "Total notification emit failures by message type.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(notifyEmitTotal, notifyEmitErrors)
}

// Emitter wraps a Dispatcher to emit workflow notifications.
// All methods are fire-and-forget: errors are logged but never returned,
// and a nil Emitter is safe to call.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new notification emitter
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(channel Channel, msgType string, data map[string]any) {
	if e == nil || e.d == nil {
		return
	}
	notifyEmitTotal.WithLabelValues(msgType).Inc()
	msg := &Message{
		ID:        idgen.WithPrefix("msg_"),
		Channel:   channel,
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, msg); err != nil {
		notifyEmitErrors.WithLabelValues(msgType).Inc()
		e.logger.Warn("notification emit failed", "type", msgType, "channel", channel, "error", err)
	}
}

// --- OTP delivery ---

// EmitOTPCode sends a one-time passcode toward the customer's device.
// The code itself goes only over this channel; it is never logged.
func (e *Emitter) EmitOTPCode(customerID, contactChannel, address, code, transactionID string, expiresAt time.Time) {
	e.emit(ChannelOTP, TypeOTPCode, map[string]any{
		"customerId":     customerID,
		"contactChannel": contactChannel,
		"address":        address,
		"code":           code,
		"transactionId":  transactionID,
		"expiresAt":      expiresAt,
	})
}

// --- Customer messaging ---

// EmitConfirmationRequest asks the customer whether a declined
// transaction was genuinely theirs.
func (e *Emitter) EmitConfirmationRequest(confirmationID, customerID, contactChannel, address, transactionID string, expiresAt time.Time) {
	e.emit(ChannelCustomer, TypeConfirmationRequest, map[string]any{
		"confirmationId": confirmationID,
		"customerId":     customerID,
		"contactChannel": contactChannel,
		"address":        address,
		"transactionId":  transactionID,
		"expiresAt":      expiresAt,
	})
}

// EmitCardBlockedNotice tells the customer their card was blocked.
func (e *Emitter) EmitCardBlockedNotice(customerID, contactChannel, address, cardID, reason string) {
	e.emit(ChannelCustomer, TypeCardBlocked, map[string]any{
		"customerId":     customerID,
		"contactChannel": contactChannel,
		"address":        address,
		"cardId":         cardID,
		"reason":         reason,
	})
}

// --- Fraud team alerts ---

// EmitCardBlocked alerts the fraud team that a card was auto-blocked.
func (e *Emitter) EmitCardBlocked(cardID, caseID, reason string) {
	e.emit(ChannelFraudTeam, TypeCardBlocked, map[string]any{
		"cardId": cardID,
		"caseId": caseID,
		"reason": reason,
	})
}

// EmitCaseEscalated alerts the fraud team that a case gained the blocked
// card it was tracking.
func (e *Emitter) EmitCaseEscalated(caseID, cardID string, transactionIDs []string) {
	e.emit(ChannelFraudTeam, TypeCaseEscalated, map[string]any{
		"caseId":         caseID,
		"cardId":         cardID,
		"transactionIds": transactionIDs,
	})
}
