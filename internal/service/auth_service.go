package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"google.golang.org/api/idtoken"

	"github.com/binarkredit/kredit-api/internal/domain"
	"github.com/binarkredit/kredit-api/internal/media"
	"github.com/binarkredit/kredit-api/internal/repository/ports"
	"github.com/binarkredit/kredit-api/internal/util"
)

var (
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrEmailAlreadyUsed       = errors.New("email already registered")
	ErrUsernameAlreadyUsed    = errors.New("username already taken")
	ErrPasswordTooWeak        = errors.New("password does not meet policy")
	ErrUserNotFound           = errors.New("user not found")
	ErrUserInactive           = errors.New("user account is inactive")
	ErrResetTokenInvalid      = errors.New("reset token invalid")
	ErrResetTokenExpired      = errors.New("reset token expired")
	ErrCredentialUpdateFailed = errors.New("credential update failed")
	ErrAvatarInvalid          = errors.New("avatar upload rejected")
)

// PasswordResetSender delivers the plaintext reset secret out of band.
type PasswordResetSender interface {
	SendPasswordReset(ctx context.Context, email, secret string) error
}

// HTTPDoer is the subset of http.Client the service needs; tests swap it out.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AuthResult bundles a user with a freshly issued session token.
type AuthResult struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// AvatarUpload carries one multipart avatar file.
type AvatarUpload struct {
	Reader      io.Reader
	Size        int64
	FileName    string
	ContentType string
}

type AuthServiceConfig struct {
	GoogleAudience  string
	AvatarBucket    string
	AvatarMaxBytes  int64
	AvatarMaxDim    int
	ResetTTL        time.Duration
}

const (
	defaultResetTTL       = 30 * time.Minute
	defaultAvatarMaxBytes = int64(5 * 1024 * 1024)
	defaultAvatarMaxDim   = 1024
)

var avatarAllowedMIMEs = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type AuthService struct {
	users    ports.UserRepository
	roles    ports.RoleRepository
	sessions ports.SessionRepository
	resets   ports.PasswordResetRepository
	storage  ports.ObjectStorage
	mailer   PasswordResetSender
	jwt      *util.JWTManager

	googleAud      string
	avatarBucket   string
	avatarMaxBytes int64
	avatarMaxDim   int
	resetTTL       time.Duration

	processor       media.Processor
	httpClient      HTTPDoer
	validateIDToken func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
	now             func() time.Time
}

func NewAuthService(
	users ports.UserRepository,
	roles ports.RoleRepository,
	sessions ports.SessionRepository,
	resets ports.PasswordResetRepository,
	storage ports.ObjectStorage,
	mailer PasswordResetSender,
	processor media.Processor,
	jwtManager *util.JWTManager,
	cfg AuthServiceConfig,
) *AuthService {
	resetTTL := cfg.ResetTTL
	if resetTTL <= 0 {
		resetTTL = defaultResetTTL
	}
	maxBytes := cfg.AvatarMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultAvatarMaxBytes
	}
	maxDim := cfg.AvatarMaxDim
	if maxDim <= 0 {
		maxDim = defaultAvatarMaxDim
	}

	return &AuthService{
		users:           users,
		roles:           roles,
		sessions:        sessions,
		resets:          resets,
		storage:         storage,
		mailer:          mailer,
		jwt:             jwtManager,
		googleAud:       cfg.GoogleAudience,
		avatarBucket:    cfg.AvatarBucket,
		avatarMaxBytes:  maxBytes,
		avatarMaxDim:    maxDim,
		resetTTL:        resetTTL,
		processor:       processor,
		httpClient:      http.DefaultClient,
		validateIDToken: idtoken.Validate,
		now:             time.Now,
	}
}

// RegisterWithEmail creates a self-service account with the default employee
// role and logs it in.
func (s *AuthService) RegisterWithEmail(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if err := util.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordTooWeak, err)
	}
	hash, salt, err := util.DerivePassword(password)
	if err != nil {
		return nil, fmt.Errorf("derive password: %w", err)
	}

	user, err := s.users.CreateEmailUser(ctx, email, hash, salt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailAlreadyUsed
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.assignDefaultRole(ctx, user.ID); err != nil {
		return nil, err
	}
	user, err = s.loadUserWithRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, user)
}

// CreateUser is the admin-facing creation path with explicit username,
// activation flag and branch assignment.
func (s *AuthService) CreateUser(ctx context.Context, username, email, password string, isActive bool, branchID *uuid.UUID, roleName string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if err := util.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordTooWeak, err)
	}
	hash, salt, err := util.DerivePassword(password)
	if err != nil {
		return nil, fmt.Errorf("derive password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, username, email, hash, salt, isActive, branchID)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "username") {
				return nil, ErrUsernameAlreadyUsed
			}
			return nil, ErrEmailAlreadyUsed
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if roleName == "" {
		roleName = domain.RoleEmployee
	}
	role, err := s.roles.GetOrCreateRole(ctx, roleName, "")
	if err != nil {
		return nil, fmt.Errorf("resolve role: %w", err)
	}
	if err := s.roles.AssignUserRole(ctx, user.ID, role.ID); err != nil {
		return nil, fmt.Errorf("assign role: %w", err)
	}
	return s.loadUserWithRoles(ctx, user.ID)
}

// Login accepts a username or an email as identifier.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	user, err := s.resolveIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !util.VerifyPassword(password, user.PasswordSalt, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	user, err = s.loadUserWithRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, user)
}

func (s *AuthService) LoginWithGoogle(ctx context.Context, idTok string) (*AuthResult, error) {
	payload, err := s.validateIDToken(ctx, idTok, s.googleAud)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	var fullName *string
	if name, _ := payload.Claims["name"].(string); name != "" {
		fullName = &name
	}

	user, err := s.users.UpsertGoogleUser(ctx, normalizeEmail(email), fullName, nil)
	if err != nil {
		return nil, fmt.Errorf("upsert google user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	if err := s.assignDefaultRole(ctx, user.ID); err != nil {
		return nil, err
	}
	if picture, _ := payload.Claims["picture"].(string); picture != "" && user.ImageURL == nil {
		s.cacheGoogleProfileImage(ctx, user.ID, picture)
	}
	user, err = s.loadUserWithRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, user)
}

// Authenticate validates a bearer token against both the JWT signature and
// the session table, then returns the user with roles loaded.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := s.jwt.Parse(token)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	session, err := s.sessions.FindActiveSession(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session.UserID != claims.UserID {
		return nil, ErrInvalidCredentials
	}
	user, err := s.loadUserWithRoles(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.sessions.DeactivateSession(ctx, token)
}

func (s *AuthService) IsAdmin(ctx context.Context, user *domain.User) (bool, error) {
	if user == nil {
		return false, nil
	}
	if len(user.Roles) == 0 {
		roles, err := s.roles.ListByUser(ctx, user.ID)
		if err != nil {
			return false, fmt.Errorf("list roles: %w", err)
		}
		user.Roles = roles
	}
	return user.HasRole(domain.RoleAdmin), nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("find user: %w", err)
	}
	if !util.VerifyPassword(currentPassword, user.PasswordSalt, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := util.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordTooWeak, err)
	}
	hash, salt, err := util.DerivePassword(newPassword)
	if err != nil {
		return fmt.Errorf("derive password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, salt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// RequestPasswordReset issues a fresh reset token and mails the plaintext
// secret. Unknown emails return success so callers cannot probe the user
// directory. Issuing supersedes any still-active token for the same user, so
// at most one token per user can ever be consumed.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("find user: %w", err)
	}

	now := s.now()
	if err := s.resets.InvalidateByUser(ctx, user.ID, now); err != nil {
		return fmt.Errorf("invalidate prior tokens: %w", err)
	}

	secret, digest, err := util.NewResetSecret()
	if err != nil {
		return fmt.Errorf("generate reset secret: %w", err)
	}
	if _, err := s.resets.Create(ctx, user.ID, digest, now, now.Add(s.resetTTL)); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, secret); err != nil {
		// The secret never reached the user; burn the token rather than
		// leave an undeliverable credential outstanding.
		if invErr := s.resets.InvalidateByUser(ctx, user.ID, s.now()); invErr != nil {
			log.Printf("invalidate reset token after mail failure: %v", invErr)
		}
		return fmt.Errorf("send reset mail: %w", err)
	}
	return nil
}

// ValidateResetToken is the read-only lookup used before showing the
// new-password form. Unknown, consumed and expired secrets are
// indistinguishable to the caller.
func (s *AuthService) ValidateResetToken(ctx context.Context, secret string) error {
	_, err := s.resets.FindActiveBySecret(ctx, util.HashResetSecret(secret), s.now())
	if err != nil {
		if errors.Is(err, ports.ErrResetTokenNotFound) || errors.Is(err, ports.ErrResetTokenExpired) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("lookup reset token: %w", err)
	}
	return nil
}

// ConfirmPasswordReset consumes the token and rewrites the password in one
// storage transaction, then logs the user in. A lost race or a reused secret
// surfaces as ErrResetTokenInvalid; a credential-update failure leaves the
// token active so the user can retry.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, secret, newPassword string) (*AuthResult, error) {
	if err := util.ValidatePassword(newPassword); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordTooWeak, err)
	}
	hash, salt, err := util.DerivePassword(newPassword)
	if err != nil {
		return nil, fmt.Errorf("derive password: %w", err)
	}

	token, err := s.resets.Consume(ctx, util.HashResetSecret(secret), s.now(), hash, salt)
	if err != nil {
		switch {
		case errors.Is(err, ports.ErrResetTokenNotFound):
			return nil, ErrResetTokenInvalid
		case errors.Is(err, ports.ErrResetTokenExpired):
			return nil, ErrResetTokenExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrCredentialUpdateFailed, err)
		}
	}

	user, err := s.loadUserWithRoles(ctx, token.UserID)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, user)
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID uuid.UUID, fullName, username *string) (*domain.User, error) {
	fullName = trimPtr(fullName)
	username = trimPtr(username)
	user, err := s.users.UpdateProfile(ctx, userID, fullName, username, nil)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameAlreadyUsed
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	user.Roles, err = s.roles.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return user, nil
}

// UploadAvatar downsizes the image and stores it in object storage, then
// records the public URL on the profile.
func (s *AuthService) UploadAvatar(ctx context.Context, userID uuid.UUID, upload AvatarUpload) (*domain.User, error) {
	ext, ok := avatarAllowedMIMEs[strings.ToLower(strings.TrimSpace(upload.ContentType))]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrAvatarInvalid, upload.ContentType)
	}
	if upload.Size <= 0 || upload.Size > s.avatarMaxBytes {
		return nil, fmt.Errorf("%w: size %d out of bounds", ErrAvatarInvalid, upload.Size)
	}

	processed, err := s.processor.Process(ctx, media.Upload{
		Reader:      upload.Reader,
		Size:        upload.Size,
		FileName:    upload.FileName,
		ContentType: upload.ContentType,
	}, s.avatarMaxDim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvatarInvalid, err)
	}

	objectName := fmt.Sprintf("avatars/%s/%s%s", userID, uuid.NewString(), ext)
	url, err := s.storage.Upload(ctx, s.avatarBucket, objectName, processed.ContentType,
		bytes.NewReader(processed.Bytes), int64(len(processed.Bytes)))
	if err != nil {
		return nil, fmt.Errorf("upload avatar: %w", err)
	}

	user, err := s.users.UpdateProfile(ctx, userID, nil, nil, &url)
	if err != nil {
		return nil, fmt.Errorf("save avatar url: %w", err)
	}
	return user, nil
}

func (s *AuthService) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.loadUserWithRoles(ctx, id)
}

func (s *AuthService) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for i := range users {
		roles, err := s.roles.ListByUser(ctx, users[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list roles: %w", err)
		}
		users[i].Roles = roles
	}
	return users, nil
}

func (s *AuthService) SetUserActive(ctx context.Context, id uuid.UUID, isActive bool) error {
	if err := s.users.SetActive(ctx, id, isActive); err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return nil
}

func (s *AuthService) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *AuthService) resolveIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	identifier = strings.TrimSpace(identifier)
	var (
		user *domain.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.users.FindByEmail(ctx, normalizeEmail(identifier))
	} else {
		user, err = s.users.FindByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (s *AuthService) startSession(ctx context.Context, user *domain.User) (*AuthResult, error) {
	token, expiresAt, err := s.jwt.Generate(user.ID, user.Email, user.Username, user.RoleNames())
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	if _, err := s.sessions.CreateSession(ctx, user.ID, token, expiresAt); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *AuthService) assignDefaultRole(ctx context.Context, userID uuid.UUID) error {
	role, err := s.roles.GetOrCreateRole(ctx, domain.RoleEmployee, "default role")
	if err != nil {
		return fmt.Errorf("resolve default role: %w", err)
	}
	if err := s.roles.AssignUserRole(ctx, userID, role.ID); err != nil {
		return fmt.Errorf("assign default role: %w", err)
	}
	return nil
}

func (s *AuthService) loadUserWithRoles(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	user.Roles, err = s.roles.ListByUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return user, nil
}

// cacheGoogleProfileImage copies the Google avatar into our own storage so
// profile pictures do not depend on Google URLs staying valid. Best effort.
func (s *AuthService) cacheGoogleProfileImage(ctx context.Context, userID uuid.UUID, pictureURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pictureURL, nil)
	if err != nil {
		return
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.avatarMaxBytes))
	if err != nil || len(data) == 0 {
		return
	}
	contentType := resp.Header.Get("Content-Type")
	ext, ok := avatarAllowedMIMEs[contentType]
	if !ok {
		ext = filepath.Ext(pictureURL)
		if ext == "" {
			return
		}
	}
	objectName := fmt.Sprintf("avatars/%s/google%s", userID, ext)
	url, err := s.storage.Upload(ctx, s.avatarBucket, objectName, contentType, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		log.Printf("cache google avatar: %v", err)
		return
	}
	if _, err := s.users.UpdateProfile(ctx, userID, nil, nil, &url); err != nil {
		log.Printf("save cached avatar url: %v", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func trimPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
