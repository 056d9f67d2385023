package db

import (
	"context"
	"errors"
	"fmt"

	"fitpro/internal/apperr"
	"fitpro/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FormulaStore struct {
	db *gorm.DB
}

func NewFormulaStore(db *gorm.DB) *FormulaStore {
	return &FormulaStore{db: db}
}

// CreateAggregate writes the formula row and then its stacks and alerts in one
// transaction.
func (s *FormulaStore) CreateAggregate(ctx context.Context, f *models.Formula, stacks []models.SupplementStack, alerts []models.BioAlert) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Stacks", "Alerts").Create(f).Error; err != nil {
			return fmt.Errorf("failed to save formula: %w", err)
		}
		for i := range stacks {
			stacks[i].FormulaID = f.ID
			stacks[i].Position = i
		}
		for i := range alerts {
			alerts[i].FormulaID = f.ID
			alerts[i].Position = i
		}
		if len(stacks) > 0 {
			if err := tx.Create(&stacks).Error; err != nil {
				return fmt.Errorf("failed to save stacks: %w", err)
			}
		}
		if len(alerts) > 0 {
			if err := tx.Create(&alerts).Error; err != nil {
				return fmt.Errorf("failed to save alerts: %w", err)
			}
		}
		f.Stacks = stacks
		f.Alerts = alerts
		return nil
	})
}

func (s *FormulaStore) withChildren(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Stacks", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Alerts", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") })
}

// Get loads a formula owned by userID.
func (s *FormulaStore) Get(ctx context.Context, userID, formulaID uuid.UUID) (*models.Formula, error) {
	var f models.Formula
	err := s.withChildren(s.db.WithContext(ctx)).
		Where("id = ? AND user_id = ?", formulaID, userID).
		First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("formula")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get formula: %w", err)
	}
	return &f, nil
}

// ListByUser returns the user's formulas newest-first.
func (s *FormulaStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Formula, error) {
	var out []models.Formula
	err := s.withChildren(s.db.WithContext(ctx)).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list formulas: %w", err)
	}
	return out, nil
}

// StackPatch carries the owner-editable stack fields. Nil means unchanged.
type StackPatch struct {
	Completed *bool
	Rating    *int
}

// UpdateStack applies patch to a stack item of a formula owned by userID.
func (s *FormulaStore) UpdateStack(ctx context.Context, userID, formulaID, stackID uuid.UUID, patch StackPatch) (*models.SupplementStack, error) {
	var item models.SupplementStack
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.SupplementStack{}).
			Joins("JOIN formulas ON formulas.id = supplement_stacks.formula_id").
			Where("supplement_stacks.id = ? AND supplement_stacks.formula_id = ? AND formulas.user_id = ?", stackID, formulaID, userID).
			Select("supplement_stacks.*").
			First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("stack item")
		}
		if err != nil {
			return fmt.Errorf("failed to load stack item: %w", err)
		}

		updates := map[string]interface{}{}
		if patch.Completed != nil {
			updates["is_completed"] = *patch.Completed
			item.IsCompleted = *patch.Completed
		}
		if patch.Rating != nil {
			updates["rating"] = *patch.Rating
			item.Rating = *patch.Rating
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&models.SupplementStack{}).Where("id = ?", item.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update stack item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}
