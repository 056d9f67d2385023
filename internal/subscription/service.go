// internal/subscription/service.go
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"fitpro/internal/apperr"
	"fitpro/internal/db"
	"fitpro/internal/metrics"
	"fitpro/internal/models"
	"fitpro/internal/payment"
	"fitpro/pkg/logger"

	"github.com/google/uuid"
)

type Store interface {
	Create(ctx context.Context, p *models.PaymentRequest) error
	ByTxID(ctx context.Context, provider models.PaymentProvider, txID string) (*models.PaymentRequest, error)
	ListPending(ctx context.Context) ([]models.PaymentRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PaymentRequest, error)
	Latest(ctx context.Context, userID uuid.UUID) (*models.PaymentRequest, error)
	Approve(ctx context.Context, id, adminID uuid.UUID, at time.Time) (*models.PaymentRequest, bool, error)
	Reject(ctx context.Context, id, adminID uuid.UUID, at time.Time) (*models.PaymentRequest, bool, error)
}

type UserLoader interface {
	ByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type EventRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, typ models.EventType, source models.EventSource, metadata map[string]interface{}) error
}

type ReceiptUploader interface {
	UploadDataURL(ctx context.Context, dataURL, prefix string) (string, error)
}

type Notifier interface {
	AdminAlert(ctx context.Context, text string)
	PaymentSubmitted(ctx context.Context, p *models.PaymentRequest, u *models.User)
	PaymentApproved(ctx context.Context, p *models.PaymentRequest, u *models.User)
	PaymentRejected(ctx context.Context, p *models.PaymentRequest, u *models.User)
}

type CheckoutProvider interface {
	Enabled() bool
	CreateCheckoutSession(userID uuid.UUID, email string) (sessionID, url string, err error)
}

type Config struct {
	Amount      string
	MinTxLength int
	MaxTxLength int
}

type Service struct {
	cfg      Config
	store    Store
	users    UserLoader
	events   EventRecorder
	receipts ReceiptUploader
	notifier Notifier
	checkout CheckoutProvider
	metrics  *metrics.Metrics
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(cfg Config, store Store, users UserLoader, events EventRecorder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.MinTxLength <= 0 {
		cfg.MinTxLength = 8
	}
	if cfg.MaxTxLength <= 0 {
		cfg.MaxTxLength = 128
	}
	if cfg.Amount == "" {
		cfg.Amount = "1 USDT"
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		users:    users,
		events:   events,
		notifier: nopNotifier{},
		logger:   log.Named("subscription"),
		now:      time.Now,
	}
}

func (s *Service) WithReceipts(r ReceiptUploader) *Service {
	s.receipts = r
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithCheckout(c CheckoutProvider) *Service {
	s.checkout = c
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// ValidateTxID trims the id and checks its length and that it has no inner
// whitespace.
func (s *Service) ValidateTxID(txID string) (string, error) {
	txID = strings.TrimSpace(txID)
	n := len([]rune(txID))
	switch {
	case n == 0:
		return "", apperr.Validation("transaction id is required", map[string]string{"txId": "required"})
	case n < s.cfg.MinTxLength || n > s.cfg.MaxTxLength:
		return "", apperr.Validation("transaction id has invalid length", map[string]string{
			"txId": fmt.Sprintf("must be %d-%d characters", s.cfg.MinTxLength, s.cfg.MaxTxLength),
		})
	case strings.IndexFunc(txID, unicode.IsSpace) >= 0:
		return "", apperr.Validation("transaction id must not contain whitespace", map[string]string{"txId": "whitespace"})
	}
	return txID, nil
}

// Submit records a manual payment claim as pending.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, txID, receipt string) (*models.PaymentRequest, error) {
	txID, err := s.ValidateTxID(txID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.ByTxID(ctx, models.ProviderManual, txID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.StateConflict("transaction id was already submitted")
	}

	receiptURL, err := s.receiptURL(ctx, userID, strings.TrimSpace(receipt))
	if err != nil {
		return nil, err
	}

	p := &models.PaymentRequest{
		UserID:     userID,
		TxID:       txID,
		ReceiptURL: receiptURL,
		Amount:     s.cfg.Amount,
		Provider:   models.ProviderManual,
		Status:     models.PaymentPending,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	s.submitted(ctx, p, models.SourceDashboard)
	return p, nil
}

func (s *Service) receiptURL(ctx context.Context, userID uuid.UUID, receipt string) (string, error) {
	if !strings.HasPrefix(receipt, "data:") {
		return receipt, nil
	}
	if s.receipts == nil {
		return "", apperr.Validation("receipt uploads are not available, send a receipt URL", map[string]string{"receipt": "upload disabled"})
	}
	url, err := s.receipts.UploadDataURL(ctx, receipt, userID.String())
	if err != nil {
		s.logger.Warnw("receipt upload failed", "userId", userID, "error", err)
		return "", apperr.Validation("receipt could not be stored", map[string]string{"receipt": err.Error()})
	}
	return url, nil
}

func (s *Service) submitted(ctx context.Context, p *models.PaymentRequest, source models.EventSource) {
	s.record(ctx, p.UserID, models.EventPaymentSubmitted, source, map[string]interface{}{
		"paymentId": p.ID.String(),
		"provider":  string(p.Provider),
	})
	s.count(models.PaymentPending)
	s.notifier.PaymentSubmitted(ctx, p, s.owner(ctx, p.UserID))
	s.logger.Infow("payment submitted", "paymentId", p.ID, "userId", p.UserID, "provider", p.Provider)
}

func (s *Service) ListPending(ctx context.Context) ([]models.PaymentRequest, error) {
	return s.store.ListPending(ctx)
}

func (s *Service) Mine(ctx context.Context, userID uuid.UUID) ([]models.PaymentRequest, error) {
	return s.store.ListByUser(ctx, userID)
}

// Latest returns the caller's most recent request or nil.
func (s *Service) Latest(ctx context.Context, userID uuid.UUID) (*models.PaymentRequest, error) {
	return s.store.Latest(ctx, userID)
}

// Approve upgrades the owner to premium. Approving an approved request is a
// no-op that returns it unchanged.
func (s *Service) Approve(ctx context.Context, adminID, id uuid.UUID) (*models.PaymentRequest, error) {
	p, changed, err := s.store.Approve(ctx, id, adminID, s.now().UTC())
	if errors.Is(err, db.ErrRoleUpgrade) {
		s.logger.Errorw("role upgrade failed, approval rolled back", "paymentId", id, "adminId", adminID, "error", err)
		s.notifier.AdminAlert(ctx, fmt.Sprintf("Approval of payment %s was rolled back: %v", id, err))
		return nil, apperr.Internal("role upgrade failed", err)
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return p, nil
	}

	meta := map[string]interface{}{"paymentId": p.ID.String(), "adminId": adminID.String()}
	s.record(ctx, p.UserID, models.EventPaymentApproved, models.SourceAdmin, meta)
	s.record(ctx, p.UserID, models.EventSubscriptionActivated, models.SourceAdmin, meta)
	s.count(models.PaymentApproved)
	s.notifier.PaymentApproved(ctx, p, s.owner(ctx, p.UserID))
	s.logger.Infow("payment approved", "paymentId", p.ID, "userId", p.UserID, "adminId", adminID)
	return p, nil
}

// Reject is a no-op for rejected requests and a conflict for approved ones.
func (s *Service) Reject(ctx context.Context, adminID, id uuid.UUID) (*models.PaymentRequest, error) {
	p, changed, err := s.store.Reject(ctx, id, adminID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		return p, nil
	}

	s.record(ctx, p.UserID, models.EventPaymentRejected, models.SourceAdmin, map[string]interface{}{
		"paymentId": p.ID.String(),
		"adminId":   adminID.String(),
	})
	s.count(models.PaymentRejected)
	s.notifier.PaymentRejected(ctx, p, s.owner(ctx, p.UserID))
	s.logger.Infow("payment rejected", "paymentId", p.ID, "userId", p.UserID, "adminId", adminID)
	return p, nil
}

// Checkout starts a Stripe checkout session and returns its URL.
func (s *Service) Checkout(ctx context.Context, userID uuid.UUID) (string, error) {
	if s.checkout == nil || !s.checkout.Enabled() {
		return "", apperr.Validation("card checkout is not available", nil)
	}
	u, err := s.users.ByID(ctx, userID)
	if err != nil {
		return "", err
	}
	sessionID, url, err := s.checkout.CreateCheckoutSession(u.ID, u.Email)
	if err != nil {
		return "", apperr.ProviderTransport(err)
	}
	s.logger.Infow("checkout session created", "userId", userID, "sessionId", sessionID)
	return url, nil
}

// HandleStripeSession turns a completed checkout into a pending request for
// admin review. Replays of the same payment intent return the existing row.
func (s *Service) HandleStripeSession(ctx context.Context, cs *payment.CompletedSession) (*models.PaymentRequest, error) {
	existing, err := s.store.ByTxID(ctx, models.ProviderStripe, cs.PaymentIntent)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if _, err := s.users.ByID(ctx, cs.UserID); err != nil {
		return nil, err
	}

	amount := s.cfg.Amount
	if cs.AmountTotal > 0 {
		amount = fmt.Sprintf("%.2f %s", float64(cs.AmountTotal)/100, strings.ToUpper(cs.Currency))
	}
	p := &models.PaymentRequest{
		UserID:   cs.UserID,
		TxID:     cs.PaymentIntent,
		Amount:   amount,
		Provider: models.ProviderStripe,
		Status:   models.PaymentPending,
	}
	if err := s.store.Create(ctx, p); err != nil {
		if !errors.Is(err, db.ErrDuplicateTx) {
			return nil, err
		}
		// A concurrent delivery of the same event won the insert.
		existing, lerr := s.store.ByTxID(ctx, models.ProviderStripe, cs.PaymentIntent)
		if lerr != nil {
			return nil, lerr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	s.submitted(ctx, p, models.SourceSystem)
	return p, nil
}

func (s *Service) record(ctx context.Context, userID uuid.UUID, typ models.EventType, source models.EventSource, meta map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, userID, typ, source, meta); err != nil {
		s.logger.Warnw("failed to record event", "type", typ, "userId", userID, "error", err)
	}
}

func (s *Service) count(status models.PaymentStatus) {
	if s.metrics != nil {
		s.metrics.PaymentTransitions.WithLabelValues(string(status)).Inc()
	}
}

func (s *Service) owner(ctx context.Context, userID uuid.UUID) *models.User {
	if s.users == nil {
		return nil
	}
	u, err := s.users.ByID(ctx, userID)
	if err != nil {
		s.logger.Warnw("failed to load payment owner", "userId", userID, "error", err)
		return nil
	}
	return u
}

type nopNotifier struct{}

func (nopNotifier) AdminAlert(context.Context, string) {}
func (nopNotifier) PaymentSubmitted(context.Context, *models.PaymentRequest, *models.User) {}
func (nopNotifier) PaymentApproved(context.Context, *models.PaymentRequest, *models.User) {}
func (nopNotifier) PaymentRejected(context.Context, *models.PaymentRequest, *models.User) {}
