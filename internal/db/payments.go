package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fitpro/internal/apperr"
	"fitpro/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrRoleUpgrade marks an approval whose owner role update failed. The whole
// transition is rolled back when it is returned.
var ErrRoleUpgrade = errors.New("role upgrade failed")

// ErrDuplicateTx is wrapped in the conflict returned by Create when the
// provider/tx pair already exists.
var ErrDuplicateTx = errors.New("duplicate transaction id")

type PaymentStore struct {
	db *gorm.DB
}

func NewPaymentStore(db *gorm.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

// Create inserts the request. The (provider, tx_id) unique index rejects a
// second insert for the same payment, which surfaces as a state conflict
// wrapping ErrDuplicateTx.
func (s *PaymentStore) Create(ctx context.Context, p *models.PaymentRequest) error {
	err := s.db.WithContext(ctx).Omit("User").Create(p).Error
	if isUniqueViolation(err) {
		conflict := apperr.StateConflict("transaction id was already submitted")
		conflict.Err = ErrDuplicateTx
		return conflict
	}
	if err != nil {
		return fmt.Errorf("failed to save payment request: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func (s *PaymentStore) ByID(ctx context.Context, id uuid.UUID) (*models.PaymentRequest, error) {
	return byID(s.db.WithContext(ctx), id)
}

func byID(tx *gorm.DB, id uuid.UUID) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	err := tx.First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("payment request")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment request: %w", err)
	}
	return &p, nil
}

// ByTxID returns nil, nil when no request with the provider/tx pair exists.
func (s *PaymentStore) ByTxID(ctx context.Context, provider models.PaymentProvider, txID string) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	err := s.db.WithContext(ctx).
		Where("provider = ? AND tx_id = ?", provider, txID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by tx id: %w", err)
	}
	return &p, nil
}

// ListPending returns pending requests newest-first with their owners.
func (s *PaymentStore) ListPending(ctx context.Context) ([]models.PaymentRequest, error) {
	var out []models.PaymentRequest
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("status = ?", models.PaymentPending).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	return out, nil
}

func (s *PaymentStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PaymentRequest, error) {
	var out []models.PaymentRequest
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return out, nil
}

// Latest returns the user's most recent request, or nil when there is none.
func (s *PaymentStore) Latest(ctx context.Context, userID uuid.UUID) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest payment: %w", err)
	}
	return &p, nil
}

// Approve moves a pending request to approved and upgrades a plain user owner
// to premium in the same transaction. changed is false when the request was
// already approved.
func (s *PaymentStore) Approve(ctx context.Context, id, adminID uuid.UUID, at time.Time) (p *models.PaymentRequest, changed bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PaymentRequest{}).
			Where("id = ? AND status = ?", id, models.PaymentPending).
			Updates(map[string]interface{}{
				"status":      models.PaymentApproved,
				"reviewed_at": at,
				"reviewed_by": adminID,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to approve payment: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			current, err := byID(tx, id)
			if err != nil {
				return err
			}
			switch current.Status {
			case models.PaymentApproved:
				p = current
				return nil
			default:
				return apperr.StateConflict(fmt.Sprintf("payment request is %s", current.Status))
			}
		}

		current, err := byID(tx, id)
		if err != nil {
			return err
		}
		// Only plain users are upgraded. Premium, coach and admin owners keep
		// their role.
		up := tx.Model(&models.User{}).
			Where("id = ? AND role = ?", current.UserID, models.RoleUser).
			Update("role", models.RolePremium)
		if up.Error != nil {
			return fmt.Errorf("%w: %v", ErrRoleUpgrade, up.Error)
		}
		if up.RowsAffected == 0 {
			var owners int64
			if err := tx.Model(&models.User{}).Where("id = ?", current.UserID).Count(&owners).Error; err != nil {
				return fmt.Errorf("%w: %v", ErrRoleUpgrade, err)
			}
			if owners == 0 {
				return fmt.Errorf("%w: user %s missing", ErrRoleUpgrade, current.UserID)
			}
		}
		p = current
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return p, changed, nil
}

// Reject moves a pending request to rejected. changed is false when the
// request was already rejected.
func (s *PaymentStore) Reject(ctx context.Context, id, adminID uuid.UUID, at time.Time) (p *models.PaymentRequest, changed bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PaymentRequest{}).
			Where("id = ? AND status = ?", id, models.PaymentPending).
			Updates(map[string]interface{}{
				"status":      models.PaymentRejected,
				"reviewed_at": at,
				"reviewed_by": adminID,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to reject payment: %w", res.Error)
		}

		current, err := byID(tx, id)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 && current.Status == models.PaymentApproved {
			return apperr.StateConflict("payment request is approved")
		}
		p = current
		changed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return p, changed, nil
}
