// internal/models/user.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleUser    Role = "user"
	RolePremium Role = "premium"
	RoleAdmin   Role = "admin"
	RoleCoach   Role = "coach"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RolePremium, RoleAdmin, RoleCoach:
		return true
	}
	return false
}

type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusSuspended UserStatus = "suspended"
)

type User struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email         string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash  string     `gorm:"not null" json:"-"`
	FirstName     string     `gorm:"type:varchar(100)" json:"firstName"`
	LastName      string     `gorm:"type:varchar(100)" json:"lastName"`
	DisplayName   string     `gorm:"type:varchar(200)" json:"displayName"`
	Role          Role       `gorm:"type:varchar(16);not null;default:user;index" json:"role"`
	Status        UserStatus `gorm:"type:varchar(16);not null;default:active" json:"status"`
	EmailVerified bool       `gorm:"not null;default:false" json:"emailVerified"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// HasPremium reports whether the user may see premium content.
func (u *User) HasPremium() bool {
	return u.Role == RolePremium || u.Role == RoleAdmin
}

func (u *User) Active() bool {
	return u.Status == StatusActive
}
