package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/campuskubo/internal/email"
	"github.com/dukerupert/campuskubo/internal/model"
	"github.com/dukerupert/campuskubo/internal/password"
	"github.com/dukerupert/campuskubo/internal/store"
)

const DefaultResetTTL = 24 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("reset token is invalid, expired or already used")
	ErrUserNotFound       = errors.New("user not found")
)

// ValidationError carries a user-facing message for rejected input.
type ValidationError struct {
	Field   string
	Message string
	Rules   *PasswordRules
}

func (e *ValidationError) Error() string { return e.Message }

type Service struct {
	users    *store.UserStore
	resets   *store.PasswordResetStore
	activity *store.ActivityStore
	mailer   *email.Client
	resetTTL time.Duration
	logger   *slog.Logger

	// read on every password check, so admin changes apply at once
	minLength func() int

	// compared against when the email is unknown
	dummyHash string
}

type Option func(*Service)

func WithMailer(c *email.Client) Option {
	return func(s *Service) { s.mailer = c }
}

func WithResetTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithMinPasswordLength sets where the minimum password length is read from.
func WithMinPasswordLength(f func() int) Option {
	return func(s *Service) { s.minLength = f }
}

func NewService(users *store.UserStore, resets *store.PasswordResetStore, activity *store.ActivityStore, logger *slog.Logger, opts ...Option) (*Service, error) {
	dummy, err := password.Hash("campuskubo-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("hash dummy password: %w", err)
	}
	s := &Service{
		users:     users,
		resets:    resets,
		activity:  activity,
		resetTTL:  DefaultResetTTL,
		logger:    logger,
		dummyHash: dummy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) record(userID *int64, action, details string) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Log(userID, action, details); err != nil {
		s.logger.Error("record activity", "action", action, "error", err)
	}
}

func (s *Service) validatePassword(pw string) error {
	minLen := minPasswordLength
	if s.minLength != nil {
		minLen = s.minLength()
	}
	ok, reason, rules := ValidatePasswordMin(pw, minLen)
	if !ok {
		return &ValidationError{Field: "password", Message: reason, Rules: &rules}
	}
	return nil
}

// Register creates an active account. The password is hashed before it is stored.
func (s *Service) Register(emailAddr, pw string, role model.Role, fullName string) (*model.User, error) {
	emailAddr = strings.TrimSpace(emailAddr)
	fullName = strings.TrimSpace(fullName)

	if fullName == "" {
		return nil, &ValidationError{Field: "full_name", Message: "Full name is required"}
	}
	if ok, reason := ValidateEmail(emailAddr); !ok {
		return nil, &ValidationError{Field: "email", Message: reason}
	}
	if err := s.validatePassword(pw); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, &ValidationError{Field: "role", Message: "Role must be one of tenant, pm, admin"}
	}

	hash, err := password.Hash(pw)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(fullName, emailAddr, hash, role)
	if errors.Is(err, store.ErrDuplicateEmail) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.record(&user.ID, model.ActionRegister, string(user.Role))
	s.logger.Info("user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// Login returns the active user matching the credentials. Unknown emails and
// wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(emailAddr, pw string) (*model.User, error) {
	user, err := s.users.GetActiveByEmail(emailAddr)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		password.Verify(s.dummyHash, pw)
		s.record(nil, model.ActionLoginFailed, strings.ToLower(strings.TrimSpace(emailAddr)))
		return nil, ErrInvalidCredentials
	}
	if !password.Verify(user.PasswordHash, pw) {
		s.record(&user.ID, model.ActionLoginFailed, "wrong password")
		return nil, ErrInvalidCredentials
	}

	if password.NeedsRehash(user.PasswordHash) {
		s.upgradeHash(user, pw)
	}

	s.record(&user.ID, model.ActionLogin, "")
	return user, nil
}

// Logout records the end of a session. The session itself is cleared by the caller.
func (s *Service) Logout(userID int64) {
	s.record(&userID, model.ActionLogout, "")
}

// upgradeHash is best effort: a failure leaves the old hash in place.
func (s *Service) upgradeHash(user *model.User, pw string) {
	hash, err := password.Hash(pw)
	if err != nil {
		s.logger.Error("rehash password", "user_id", user.ID, "error", err)
		return
	}
	if _, err := s.users.UpdatePassword(user.ID, hash); err != nil {
		s.logger.Error("store upgraded hash", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	s.logger.Info("password hash upgraded", "user_id", user.ID)
}

// RequestPasswordReset issues a reset token for an active user and mails it
// when a mailer is configured. Unknown or inactive emails return "" and no error.
func (s *Service) RequestPasswordReset(emailAddr string) (string, error) {
	user, err := s.users.GetActiveByEmail(emailAddr)
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return "", nil
	}

	t, err := s.resets.Create(user.ID, s.resetTTL)
	if err != nil {
		return "", fmt.Errorf("create reset token: %w", err)
	}
	s.record(&user.ID, model.ActionPasswordResetIssued, "")

	if s.mailer.Configured() {
		if err := s.mailer.SendPasswordReset(user.Email, t.Token, s.resetTTL); err != nil {
			s.logger.Error("send password reset", "user_id", user.ID, "error", err)
		}
	} else {
		s.logger.Warn("mail not configured, password reset not sent", "user_id", user.ID)
	}
	return t.Token, nil
}

// ResetPasswordWithToken redeems a single-use token and sets the new password.
func (s *Service) ResetPasswordWithToken(token, newPassword string) error {
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	userID, err := s.resets.Redeem(token, hash)
	if errors.Is(err, store.ErrTokenInvalid) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("redeem reset token: %w", err)
	}

	s.record(&userID, model.ActionPasswordReset, "")
	return nil
}

// ChangePassword requires the current password of an active user.
func (s *Service) ChangePassword(userID int64, current, newPassword string) error {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil || !user.IsActive {
		return ErrUserNotFound
	}
	if !password.Verify(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.users.UpdatePassword(userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.record(&userID, model.ActionPasswordChanged, "")
	return nil
}

// Deactivate blocks future logins. Existing sessions are rejected by the
// active-user check in the auth middleware.
func (s *Service) Deactivate(actorID, userID int64) error {
	return s.setActive(actorID, userID, false)
}

func (s *Service) Activate(actorID, userID int64) error {
	return s.setActive(actorID, userID, true)
}

func (s *Service) setActive(actorID, userID int64, active bool) error {
	err := s.users.SetActive(userID, active)
	if errors.Is(err, store.ErrUserNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	action := model.ActionUserDeactivated
	if active {
		action = model.ActionUserActivated
	}
	s.record(&actorID, action, fmt.Sprintf("user_id=%d", userID))
	return nil
}

// User returns the user by id, or nil when absent.
func (s *Service) User(id int64) (*model.User, error) {
	return s.users.GetByID(id)
}

// EnsureAdmin creates the bootstrap admin account when no user holds emailAddr.
// It reports whether an account was created.
func (s *Service) EnsureAdmin(emailAddr, pw, fullName string) (bool, error) {
	existing, err := s.users.GetByEmail(emailAddr)
	if err != nil {
		return false, fmt.Errorf("lookup admin: %w", err)
	}
	if existing != nil {
		return false, nil
	}
	if _, err := s.Register(emailAddr, pw, model.RoleAdmin, fullName); err != nil {
		return false, err
	}
	return true, nil
}
