package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FormulaSummary is stored as a JSON column on the formula row.
type FormulaSummary struct {
	ProteinNeed    string `json:"proteinNeed"`
	CreatineNeed   string `json:"creatineNeed"`
	RecoveryStatus string `json:"recoveryStatus"`
	EnergyIndex    int    `json:"energyIndex"`
	StressLevel    string `json:"stressLevel"`
	Priority       string `json:"priority"`
}

type Formula struct {
	ID                   uuid.UUID                          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID               uuid.UUID                          `gorm:"type:uuid;not null;index:idx_formula_user_created,priority:1" json:"userId"`
	Code                 string                             `gorm:"type:varchar(32);not null" json:"code"`
	AIVersion            string                             `gorm:"type:varchar(64);not null" json:"aiVersion"`
	Summary              datatypes.JSONType[FormulaSummary] `json:"summary"`
	ConfidenceScore      float64                            `gorm:"not null;default:0" json:"confidenceScore"`
	ApprovedBySpecialist bool                               `gorm:"not null;default:false" json:"approvedBySpecialist"`
	CreatedAt            time.Time                          `gorm:"index:idx_formula_user_created,priority:2" json:"createdAt"`

	Stacks []SupplementStack `gorm:"foreignKey:FormulaID;constraint:OnDelete:CASCADE" json:"-"`
	Alerts []BioAlert        `gorm:"foreignKey:FormulaID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Formula) TableName() string { return "formulas" }

func (f *Formula) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

type SupplementStack struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FormulaID   uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	Name        string    `gorm:"not null" json:"name"`
	Dosage      string    `json:"dosage"`
	Timing      string    `json:"timing"`
	Reason      string    `json:"reason"`
	Priority    int       `gorm:"not null;default:1" json:"priority"`
	IsCompleted bool      `gorm:"not null;default:false" json:"isCompleted"`
	Rating      int       `gorm:"not null;default:0" json:"rating"`
	Position    int       `gorm:"not null;default:0" json:"-"`
}

func (SupplementStack) TableName() string { return "supplement_stacks" }

func (s *SupplementStack) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

type BioAlert struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FormulaID uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	Type      string    `gorm:"type:varchar(32);not null" json:"type"`
	Message   string    `gorm:"not null" json:"message"`
	Severity  string    `gorm:"type:varchar(16);not null" json:"severity"`
	Position  int       `gorm:"not null;default:0" json:"-"`
}

func (BioAlert) TableName() string { return "bio_alerts" }

func (a *BioAlert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
