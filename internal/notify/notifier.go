// internal/notify/notifier.go
package notify

import (
	"context"
	"fmt"
	"time"

	"fitpro/internal/models"
	"fitpro/pkg/logger"

	"github.com/google/uuid"
)

// Realtime is the websocket payload pushed to a user.
type Realtime struct {
	Type      models.EventType `json:"type"`
	Data      any              `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type Alerter interface {
	Alert(text string) error
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Broadcaster interface {
	Broadcast(userID uuid.UUID, payload any) error
}

// Notifier fans workflow notifications out to whichever channels are
// configured. Every channel is best-effort: failures are logged, never
// returned.
type Notifier struct {
	alerter Alerter
	mailer  EmailSender
	hub     Broadcaster
	logger  *logger.Logger
}

func New(alerter Alerter, mailer EmailSender, hub Broadcaster, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &Notifier{alerter: alerter, mailer: mailer, hub: hub, logger: log.Named("notify")}
}

func (n *Notifier) AdminAlert(_ context.Context, text string) {
	if n.alerter == nil {
		n.logger.Infow("admin alert (telegram disabled)", "text", text)
		return
	}
	if err := n.alerter.Alert(text); err != nil {
		n.logger.Warnw("admin alert failed", "error", err)
	}
}

func (n *Notifier) PaymentSubmitted(ctx context.Context, p *models.PaymentRequest, u *models.User) {
	n.AdminAlert(ctx, fmt.Sprintf("New payment request %s\nuser: %s\nprovider: %s\ntx: %s\namount: %s",
		p.ID, identity(u), p.Provider, p.TxID, p.Amount))
	n.push(p.UserID, models.EventPaymentSubmitted, p)
}

func (n *Notifier) PaymentApproved(ctx context.Context, p *models.PaymentRequest, u *models.User) {
	n.push(p.UserID, models.EventSubscriptionActivated, p)
	n.mail(ctx, u, "Your FitPro premium is active",
		fmt.Sprintf("Hi %s,\n\nYour payment (tx %s) was approved and premium features are now unlocked.\n", greeting(u), p.TxID))
}

func (n *Notifier) PaymentRejected(ctx context.Context, p *models.PaymentRequest, u *models.User) {
	n.push(p.UserID, models.EventPaymentRejected, p)
	n.mail(ctx, u, "Your FitPro payment was not approved",
		fmt.Sprintf("Hi %s,\n\nWe could not verify your payment (tx %s). Reply to this email if you think this is a mistake.\n", greeting(u), p.TxID))
}

func (n *Notifier) push(userID uuid.UUID, typ models.EventType, data any) {
	if n.hub == nil {
		return
	}
	err := n.hub.Broadcast(userID, Realtime{Type: typ, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		n.logger.Warnw("realtime push failed", "userId", userID, "type", typ, "error", err)
	}
}

func (n *Notifier) mail(ctx context.Context, u *models.User, subject, body string) {
	if n.mailer == nil || u == nil || u.Email == "" {
		return
	}
	if err := n.mailer.Send(ctx, u.Email, subject, body); err != nil {
		n.logger.Warnw("email failed", "userId", u.ID, "error", err)
	}
}

func identity(u *models.User) string {
	if u == nil {
		return "unknown"
	}
	if u.DisplayName != "" {
		return fmt.Sprintf("%s <%s>", u.DisplayName, u.Email)
	}
	return u.Email
}

func greeting(u *models.User) string {
	if u != nil && u.FirstName != "" {
		return u.FirstName
	}
	return "there"
}
