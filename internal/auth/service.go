// internal/auth/service.go
package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"fitpro/internal/apperr"
	"fitpro/internal/models"
	"fitpro/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	ByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ByEmail(ctx context.Context, email string) (*models.User, error)
	TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, limit, offset int) ([]models.User, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.UserStatus) (*models.User, error)
	SetRole(ctx context.Context, id uuid.UUID, role models.Role) error
	UpdateProfile(ctx context.Context, id uuid.UUID, fields map[string]interface{}) (*models.User, error)
}

type EventRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, typ models.EventType, source models.EventSource, metadata map[string]interface{}) error
}

// Session is returned by Register and Login.
type Session struct {
	AccessToken string       `json:"access_token"`
	User        *models.User `json:"user"`
}

type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// ProfileInput holds the editable profile fields. Nil fields are left unchanged.
type ProfileInput struct {
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	DisplayName *string `json:"displayName"`
}

type Service struct {
	users      UserStore
	events     EventRecorder
	tokens     *Tokens
	bcryptCost int
	logger     *logger.Logger
	now        func() time.Time
}

func NewService(users UserStore, events EventRecorder, tokens *Tokens, bcryptCost int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		users:      users,
		events:     events,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		logger:     log.Named("auth"),
		now:        time.Now,
	}
}

func (s *Service) Tokens() *Tokens { return s.tokens }

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	u, err := s.createUser(ctx, in, models.RoleUser)
	if err != nil {
		return nil, err
	}
	s.record(ctx, u.ID, models.EventRegister, nil)
	s.logger.Infow("user registered", "userId", u.ID)
	return s.session(u)
}

// CreateAdmin creates an admin account, or promotes the existing account with
// that email.
func (s *Service) CreateAdmin(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.createUser(ctx, RegisterInput{Email: email, Password: password, FirstName: "Admin"}, models.RoleAdmin)
	if apperr.Is(err, apperr.KindStateConflict) {
		existing, lookupErr := s.users.ByEmail(ctx, email)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if err := s.users.SetRole(ctx, existing.ID, models.RoleAdmin); err != nil {
			return nil, err
		}
		existing.Role = models.RoleAdmin
		return existing, nil
	}
	return u, err
}

func (s *Service) createUser(ctx context.Context, in RegisterInput, role models.Role) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	details := map[string]string{}
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		details["email"] = "invalid email"
	}
	if len(in.Password) < minPasswordLength {
		details["password"] = fmt.Sprintf("must be at least %d characters", minPasswordLength)
	}
	if len(details) > 0 {
		return nil, apperr.Validation("invalid registration", details)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	u := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    first,
		LastName:     last,
		DisplayName:  strings.TrimSpace(first + " " + last),
		Role:         role,
		Status:       models.StatusActive,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.ByEmail(ctx, email)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Auth("invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, apperr.Auth("invalid credentials")
	}
	if !u.Active() {
		return nil, apperr.Auth("account suspended")
	}

	now := s.now().UTC()
	if err := s.users.TouchLogin(ctx, u.ID, now); err != nil {
		s.logger.Warnw("failed to update last login", "userId", u.ID, "error", err)
	} else {
		u.LastLoginAt = &now
	}
	s.record(ctx, u.ID, models.EventLogin, nil)
	return s.session(u)
}

// Authenticate resolves a bearer token to the current database user.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	id, _, err := s.tokens.Parse(token)
	if err != nil {
		return nil, apperr.Auth("invalid token")
	}
	u, err := s.users.ByID(ctx, id)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Auth("user no longer exists")
	}
	if err != nil {
		return nil, err
	}
	if !u.Active() {
		return nil, apperr.Auth("account suspended")
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	return s.users.List(ctx, limit, offset)
}

// SetStatus suspends or reactivates an account. Admins cannot change their
// own status.
func (s *Service) SetStatus(ctx context.Context, adminID, userID uuid.UUID, status models.UserStatus) (*models.User, error) {
	if status != models.StatusActive && status != models.StatusSuspended {
		return nil, apperr.Validation("invalid status", map[string]string{"status": "must be active or suspended"})
	}
	if adminID == userID {
		return nil, apperr.Validation("cannot change your own status", nil)
	}
	u, err := s.users.SetStatus(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	typ := models.EventAccountActivated
	if status == models.StatusSuspended {
		typ = models.EventAccountSuspended
	}
	s.record(ctx, userID, typ, map[string]interface{}{"adminId": adminID.String()})
	s.logger.Infow("user status changed", "userId", userID, "status", status, "adminId", adminID)
	return u, nil
}

// UpdateProfile edits the caller's names.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileInput) (*models.User, error) {
	fields := map[string]interface{}{}
	details := map[string]string{}
	field := func(name, column string, v *string, max int, required bool) {
		if v == nil {
			return
		}
		val := strings.TrimSpace(*v)
		switch n := len([]rune(val)); {
		case required && n == 0:
			details[name] = "must not be empty"
		case n > max:
			details[name] = fmt.Sprintf("at most %d characters", max)
		default:
			fields[column] = val
		}
	}
	field("firstName", "first_name", in.FirstName, 100, false)
	field("lastName", "last_name", in.LastName, 100, false)
	field("displayName", "display_name", in.DisplayName, 200, true)
	if len(details) > 0 {
		return nil, apperr.Validation("invalid profile", details)
	}
	if len(fields) == 0 {
		return nil, apperr.Validation("nothing to update", nil)
	}

	u, err := s.users.UpdateProfile(ctx, userID, fields)
	if err != nil {
		return nil, err
	}
	changed := make([]string, 0, len(fields))
	for col := range fields {
		changed = append(changed, col)
	}
	s.record(ctx, userID, models.EventProfileUpdated, map[string]interface{}{"fields": changed})
	return u, nil
}

func (s *Service) session(u *models.User) (*Session, error) {
	token, err := s.tokens.Sign(u)
	if err != nil {
		return nil, apperr.Internal("issue token", err)
	}
	return &Session{AccessToken: token, User: u}, nil
}

func (s *Service) record(ctx context.Context, userID uuid.UUID, typ models.EventType, meta map[string]interface{}) {
	if s.events == nil {
		return
	}
	source := models.SourceDashboard
	if typ == models.EventAccountActivated || typ == models.EventAccountSuspended {
		source = models.SourceAdmin
	}
	if err := s.events.Record(ctx, userID, typ, source, meta); err != nil {
		s.logger.Warnw("failed to record event", "type", typ, "userId", userID, "error", err)
	}
}
