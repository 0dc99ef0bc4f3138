package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/binarkredit/kredit-api/internal/domain"
	"github.com/binarkredit/kredit-api/internal/media"
	"github.com/binarkredit/kredit-api/internal/repository/ports"
	"github.com/binarkredit/kredit-api/internal/util"
)

type fakeUserRepo struct {
	createEmailEmail  string
	createEmailHash   []byte
	createEmailSalt   []byte
	createEmailResult *domain.User
	createEmailErr    error

	createUserResult *domain.User
	createUserErr    error

	upsertGoogleEmail  string
	upsertGoogleResult *domain.User
	upsertGoogleErr    error

	findByEmailInput  string
	findByEmailResult *domain.User
	findByEmailErr    error

	findByUsernameInput  string
	findByUsernameResult *domain.User
	findByUsernameErr    error

	findByIDInput  uuid.UUID
	findByIDResult *domain.User
	findByIDErr    error

	updateProfileResult *domain.User
	updateProfileErr    error

	updatePasswordInput struct {
		id   uuid.UUID
		hash []byte
		salt []byte
	}
	updatePasswordErr error

	setActiveInputs []struct {
		id       uuid.UUID
		isActive bool
	}

	listInputs []struct {
		limit  int
		offset int
	}
	listResult []domain.User
	listErr    error

	deleteInput uuid.UUID
	deleteErr   error
}

func (f *fakeUserRepo) CreateEmailUser(ctx context.Context, email string, passwordHash, passwordSalt []byte) (*domain.User, error) {
	f.createEmailEmail = email
	f.createEmailHash = append([]byte(nil), passwordHash...)
	f.createEmailSalt = append([]byte(nil), passwordSalt...)
	return f.createEmailResult, f.createEmailErr
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, username, email string, passwordHash, passwordSalt []byte, isActive bool, branchID *uuid.UUID) (*domain.User, error) {
	return f.createUserResult, f.createUserErr
}

func (f *fakeUserRepo) UpsertGoogleUser(ctx context.Context, email string, fullName *string, imageURL *string) (*domain.User, error) {
	f.upsertGoogleEmail = email
	return f.upsertGoogleResult, f.upsertGoogleErr
}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	f.findByEmailInput = email
	return f.findByEmailResult, f.findByEmailErr
}

func (f *fakeUserRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	f.findByUsernameInput = username
	return f.findByUsernameResult, f.findByUsernameErr
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	f.findByIDInput = id
	return f.findByIDResult, f.findByIDErr
}

func (f *fakeUserRepo) UpdateProfile(ctx context.Context, id uuid.UUID, fullName *string, username *string, imageURL *string) (*domain.User, error) {
	return f.updateProfileResult, f.updateProfileErr
}

func (f *fakeUserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash, passwordSalt []byte) error {
	f.updatePasswordInput = struct {
		id   uuid.UUID
		hash []byte
		salt []byte
	}{
		id:   id,
		hash: append([]byte(nil), passwordHash...),
		salt: append([]byte(nil), passwordSalt...),
	}
	return f.updatePasswordErr
}

func (f *fakeUserRepo) SetActive(ctx context.Context, id uuid.UUID, isActive bool) error {
	f.setActiveInputs = append(f.setActiveInputs, struct {
		id       uuid.UUID
		isActive bool
	}{id: id, isActive: isActive})
	return nil
}

func (f *fakeUserRepo) List(ctx context.Context, limit, offset int) ([]domain.User, error) {
	f.listInputs = append(f.listInputs, struct {
		limit  int
		offset int
	}{limit: limit, offset: offset})
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.User(nil), f.listResult...), nil
}

func (f *fakeUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	f.deleteInput = id
	return f.deleteErr
}

type fakeRoleRepo struct {
	roleErr error

	assignedPairs []struct {
		userID uuid.UUID
		roleID uuid.UUID
	}
	assignErr error

	rolesByUser map[uuid.UUID][]domain.Role
}

func (f *fakeRoleRepo) GetOrCreateRole(ctx context.Context, name, description string) (*domain.Role, error) {
	if f.roleErr != nil {
		return nil, f.roleErr
	}
	return &domain.Role{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)), Name: name}, nil
}

func (f *fakeRoleRepo) FindByName(ctx context.Context, name string) (*domain.Role, error) {
	return &domain.Role{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)), Name: name}, nil
}

func (f *fakeRoleRepo) AssignUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	f.assignedPairs = append(f.assignedPairs, struct {
		userID uuid.UUID
		roleID uuid.UUID
	}{userID: userID, roleID: roleID})
	return f.assignErr
}

func (f *fakeRoleRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Role, error) {
	if f.rolesByUser == nil {
		return nil, nil
	}
	return f.rolesByUser[userID], nil
}

type fakeSessionRepo struct {
	createdSessions []struct {
		userID    uuid.UUID
		token     string
		expiresAt time.Time
	}
	createErr error

	findActiveToken  string
	findActiveResult *domain.Session
	findActiveErr    error

	deactivatedToken string
	deactivateErr    error
}

func (f *fakeSessionRepo) CreateSession(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) (*domain.Session, error) {
	f.createdSessions = append(f.createdSessions, struct {
		userID    uuid.UUID
		token     string
		expiresAt time.Time
	}{userID: userID, token: token, expiresAt: expiresAt})
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.Session{ID: 1, UserID: userID, Token: token, ExpiresAt: expiresAt, IsActive: true}, nil
}

func (f *fakeSessionRepo) DeactivateSession(ctx context.Context, token string) error {
	f.deactivatedToken = token
	return f.deactivateErr
}

func (f *fakeSessionRepo) FindActiveSession(ctx context.Context, token string) (*domain.Session, error) {
	f.findActiveToken = token
	if f.findActiveErr != nil {
		return nil, f.findActiveErr
	}
	if f.findActiveResult != nil {
		return f.findActiveResult, nil
	}
	return nil, sql.ErrNoRows
}

type fakeStorage struct {
	uploads []struct {
		bucket      string
		objectName  string
		contentType string
		size        int64
	}
	uploadErr error
}

func (f *fakeStorage) Upload(ctx context.Context, bucket, objectName, contentType string, reader io.Reader, size int64) (string, error) {
	f.uploads = append(f.uploads, struct {
		bucket      string
		objectName  string
		contentType string
		size        int64
	}{bucket: bucket, objectName: objectName, contentType: contentType, size: size})
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "https://cdn.example.com/" + objectName, nil
}

type fakeMailer struct {
	sent []struct {
		email  string
		secret string
	}
	err error
}

func (f *fakeMailer) SendPasswordReset(ctx context.Context, email, secret string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, struct {
		email  string
		secret string
	}{email: email, secret: secret})
	return nil
}

type fakeProcessor struct{}

func (fakeProcessor) Process(ctx context.Context, upload media.Upload, maxDimension int) (*media.Result, error) {
	return &media.Result{Bytes: []byte("img"), ContentType: upload.ContentType}, nil
}

// fakeResetRepo keeps real token state behind a mutex so the lifecycle
// invariants (single active token, exactly-once consume) can be exercised
// the same way the SQL layer enforces them.
type fakeResetRepo struct {
	mu     sync.Mutex
	nextID int64
	tokens []*domain.PasswordResetToken

	// appliedCredentials records the password updates that committed
	// alongside a consume.
	appliedCredentials map[uuid.UUID][]byte

	createErr     error
	invalidateErr error
	// credentialErr simulates the user-row update failing inside the consume
	// transaction: the whole transaction rolls back, the token stays active.
	credentialErr error
}

func newFakeResetRepo() *fakeResetRepo {
	return &fakeResetRepo{appliedCredentials: map[uuid.UUID][]byte{}}
}

func (f *fakeResetRepo) Create(ctx context.Context, userID uuid.UUID, secretHash []byte, issuedAt, expiresAt time.Time) (*domain.PasswordResetToken, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	token := &domain.PasswordResetToken{
		ID:         f.nextID,
		UserID:     userID,
		SecretHash: append([]byte(nil), secretHash...),
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
	}
	f.tokens = append(f.tokens, token)
	return token, nil
}

func (f *fakeResetRepo) InvalidateByUser(ctx context.Context, userID uuid.UUID, now time.Time) error {
	if f.invalidateErr != nil {
		return f.invalidateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, token := range f.tokens {
		if token.UserID == userID && token.Status(now) == domain.ResetTokenActive {
			consumedAt := now
			token.ConsumedAt = &consumedAt
		}
	}
	return nil
}

func (f *fakeResetRepo) FindActiveBySecret(ctx context.Context, secretHash []byte, now time.Time) (*domain.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := f.lookupLocked(secretHash)
	if token == nil || token.Status(now) != domain.ResetTokenActive {
		return nil, ports.ErrResetTokenNotFound
	}
	copied := *token
	return &copied, nil
}

func (f *fakeResetRepo) Consume(ctx context.Context, secretHash []byte, now time.Time, passwordHash, passwordSalt []byte) (*domain.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := f.lookupLocked(secretHash)
	if token == nil {
		return nil, ports.ErrResetTokenNotFound
	}
	switch token.Status(now) {
	case domain.ResetTokenConsumed:
		return nil, ports.ErrResetTokenNotFound
	case domain.ResetTokenExpired:
		return nil, ports.ErrResetTokenExpired
	}
	if f.credentialErr != nil {
		return nil, f.credentialErr
	}
	consumedAt := now
	token.ConsumedAt = &consumedAt
	f.appliedCredentials[token.UserID] = append([]byte(nil), passwordHash...)
	copied := *token
	return &copied, nil
}

func (f *fakeResetRepo) SweepExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	kept := f.tokens[:0]
	var removed int64
	for _, token := range f.tokens {
		terminal := token.ConsumedAt != nil && token.ConsumedAt.Before(cutoff) ||
			token.ConsumedAt == nil && token.ExpiresAt.Before(cutoff)
		if terminal {
			removed++
			continue
		}
		kept = append(kept, token)
	}
	f.tokens = kept
	return removed, nil
}

func (f *fakeResetRepo) lookupLocked(secretHash []byte) *domain.PasswordResetToken {
	for _, token := range f.tokens {
		if string(token.SecretHash) == string(secretHash) {
			return token
		}
	}
	return nil
}

func (f *fakeResetRepo) activeCount(userID uuid.UUID, now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, token := range f.tokens {
		if token.UserID == userID && token.Status(now) == domain.ResetTokenActive {
			count++
		}
	}
	return count
}

func newAuthServiceForTests(users *fakeUserRepo, roles *fakeRoleRepo, sessions *fakeSessionRepo, resets *fakeResetRepo, storage *fakeStorage, mailer *fakeMailer) *AuthService {
	if resets == nil {
		resets = newFakeResetRepo()
	}
	if mailer == nil {
		mailer = &fakeMailer{}
	}
	return NewAuthService(users, roles, sessions, resets, storage, mailer, fakeProcessor{}, util.NewJWTManager("test-secret", time.Hour), AuthServiceConfig{
		AvatarBucket: "avatars",
		ResetTTL:     30 * time.Minute,
	})
}

func activeUser(email string) *domain.User {
	return &domain.User{ID: uuid.New(), Email: email, IsActive: true, CreatedAt: time.Now(), UpdatedAt: time.Now()}
}

func TestRegisterWithEmailSuccess(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	userRepo := &fakeUserRepo{
		createEmailResult: &domain.User{ID: userID, Email: "test@example.com", IsActive: true},
		findByIDResult:    &domain.User{ID: userID, Email: "test@example.com", IsActive: true},
	}
	roleRepo := &fakeRoleRepo{rolesByUser: map[uuid.UUID][]domain.Role{
		userID: {{Name: domain.RoleEmployee}},
	}}
	sessionRepo := &fakeSessionRepo{}
	svc := newAuthServiceForTests(userRepo, roleRepo, sessionRepo, nil, &fakeStorage{}, nil)

	result, err := svc.RegisterWithEmail(ctx, " Test@Example.com ", "StrongPass12")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if userRepo.createEmailEmail != "test@example.com" {
		t.Fatalf("email should be normalized, got %q", userRepo.createEmailEmail)
	}
	if len(userRepo.createEmailHash) == 0 || len(userRepo.createEmailSalt) == 0 {
		t.Fatal("expected password hash and salt to be set")
	}
	if len(roleRepo.assignedPairs) != 1 {
		t.Fatalf("expected default role assignment, got %d", len(roleRepo.assignedPairs))
	}
	if len(sessionRepo.createdSessions) != 1 {
		t.Fatalf("expected session to be created, got %d", len(sessionRepo.createdSessions))
	}
	if !result.User.HasRole(domain.RoleEmployee) {
		t.Fatal("expected resulting user to carry the default role")
	}
	if result.Token == "" {
		t.Fatal("expected JWT token in result")
	}
}

func TestRegisterWithEmailWeakPassword(t *testing.T) {
	userRepo := &fakeUserRepo{}
	svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, &fakeSessionRepo{}, nil, &fakeStorage{}, nil)

	_, err := svc.RegisterWithEmail(context.Background(), "weak@example.com", "lowercase1")
	if !errors.Is(err, ErrPasswordTooWeak) {
		t.Fatalf("expected ErrPasswordTooWeak, got %v", err)
	}
	if len(userRepo.createEmailHash) != 0 {
		t.Fatal("expected no password hash to be stored for invalid password")
	}
}

func TestRegisterWithEmailEmailExists(t *testing.T) {
	userRepo := &fakeUserRepo{createEmailErr: &pgconn.PgError{Code: "23505"}}
	sessionRepo := &fakeSessionRepo{}
	svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, sessionRepo, nil, &fakeStorage{}, nil)

	_, err := svc.RegisterWithEmail(context.Background(), "duplicate@example.com", "StrongPass12")
	if !errors.Is(err, ErrEmailAlreadyUsed) {
		t.Fatalf("expected ErrEmailAlreadyUsed, got %v", err)
	}
	if len(sessionRepo.createdSessions) != 0 {
		t.Fatal("expected no session to be created on error")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	t.Run("user not found", func(t *testing.T) {
		userRepo := &fakeUserRepo{findByUsernameErr: sql.ErrNoRows}
		svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, &fakeSessionRepo{}, nil, &fakeStorage{}, nil)

		_, err := svc.Login(context.Background(), "ghost", "password")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("password mismatch", func(t *testing.T) {
		hash, salt, _ := util.DerivePassword("different")
		user := activeUser("test@example.com")
		user.PasswordHash, user.PasswordSalt = hash, salt
		userRepo := &fakeUserRepo{findByEmailResult: user}
		svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, &fakeSessionRepo{}, nil, &fakeStorage{}, nil)

		_, err := svc.Login(context.Background(), "test@example.com", "password")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestLoginResolvesIdentifier(t *testing.T) {
	hash, salt, _ := util.DerivePassword("right-password")
	user := activeUser("test@example.com")
	user.PasswordHash, user.PasswordSalt = hash, salt
	userRepo := &fakeUserRepo{findByEmailResult: user, findByUsernameResult: user, findByIDResult: user}
	sessionRepo := &fakeSessionRepo{}
	svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, sessionRepo, nil, &fakeStorage{}, nil)

	if _, err := svc.Login(context.Background(), " Test@Example.com ", "right-password"); err != nil {
		t.Fatalf("expected login by email to succeed, got %v", err)
	}
	if userRepo.findByEmailInput != "test@example.com" {
		t.Fatalf("expected email lookup, got %q", userRepo.findByEmailInput)
	}

	if _, err := svc.Login(context.Background(), "andi.w", "right-password"); err != nil {
		t.Fatalf("expected login by username to succeed, got %v", err)
	}
	if userRepo.findByUsernameInput != "andi.w" {
		t.Fatalf("expected username lookup, got %q", userRepo.findByUsernameInput)
	}
	if len(sessionRepo.createdSessions) != 2 {
		t.Fatalf("expected two sessions, got %d", len(sessionRepo.createdSessions))
	}
}

func TestLoginInactiveUser(t *testing.T) {
	hash, salt, _ := util.DerivePassword("right-password")
	user := activeUser("off@example.com")
	user.IsActive = false
	user.PasswordHash, user.PasswordSalt = hash, salt
	userRepo := &fakeUserRepo{findByEmailResult: user}
	svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, &fakeSessionRepo{}, nil, &fakeStorage{}, nil)

	_, err := svc.Login(context.Background(), "off@example.com", "right-password")
	if !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("success when current password matches", func(t *testing.T) {
		hash, salt, _ := util.DerivePassword("OldPass12")
		user := &domain.User{ID: uuid.New(), PasswordHash: hash, PasswordSalt: salt}
		repo := &fakeUserRepo{findByIDResult: user}
		svc := newAuthServiceForTests(repo, &fakeRoleRepo{}, &fakeSessionRepo{}, nil, &fakeStorage{}, nil)

		if err := svc.ChangePassword(ctx, user.ID, "OldPass12", "NewPassword1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if repo.updatePasswordInput.id != user.ID {
			t.Fatalf("expected password update for user %s", user.ID)
		}
		if string(repo.updatePasswordInput.hash) == string(hash) {
			t.Fatal("expected new hash to differ from old hash")
		}
	})

	t.Run("wrong current password", func(t *testing.T) {
		hash, salt, _ := util.DerivePassword("OldPass12")
		user := &domain.User{ID: uuid.New(), PasswordHash: hash, PasswordSalt: salt}
		repo := &fakeUserRepo{findByIDResult: user}
		svc := newAuthServiceForTests(repo, &fakeRoleRepo{}, &fakeSessionRepo{}, nil, &fakeStorage{}, nil)

		err := svc.ChangePassword(ctx, user.ID, "wrong", "NewPassword1")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
		if len(repo.updatePasswordInput.hash) != 0 {
			t.Fatal("expected no password update on mismatch")
		}
	})
}

func TestAuthenticate(t *testing.T) {
	user := activeUser("auth@example.com")
	userRepo := &fakeUserRepo{findByIDResult: user}
	sessionRepo := &fakeSessionRepo{}
	svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, sessionRepo, nil, &fakeStorage{}, nil)

	result, err := svc.startSession(context.Background(), user)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	sessionRepo.findActiveResult = &domain.Session{UserID: user.ID, Token: result.Token, IsActive: true}

	got, err := svc.Authenticate(context.Background(), result.Token)
	if err != nil {
		t.Fatalf("expected authentication to succeed, got %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, got.ID)
	}

	t.Run("revoked session", func(t *testing.T) {
		sessionRepo.findActiveResult = nil
		sessionRepo.findActiveErr = sql.ErrNoRows
		if _, err := svc.Authenticate(context.Background(), result.Token); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := svc.Authenticate(context.Background(), "not-a-jwt"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestLogoutDeactivatesSession(t *testing.T) {
	sessionRepo := &fakeSessionRepo{}
	svc := newAuthServiceForTests(&fakeUserRepo{}, &fakeRoleRepo{}, sessionRepo, nil, &fakeStorage{}, nil)

	if err := svc.Logout(context.Background(), "the-token"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sessionRepo.deactivatedToken != "the-token" {
		t.Fatalf("expected session deactivation, got %q", sessionRepo.deactivatedToken)
	}
}

func TestRequestPasswordReset(t *testing.T) {
	ctx := context.Background()
	user := activeUser("reset@example.com")

	t.Run("issues token and mails secret", func(t *testing.T) {
		userRepo := &fakeUserRepo{findByEmailResult: user}
		resets := newFakeResetRepo()
		mailer := &fakeMailer{}
		svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, &fakeSessionRepo{}, resets, &fakeStorage{}, mailer)

		if err := svc.RequestPasswordReset(ctx, user.Email); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := resets.activeCount(user.ID, time.Now()); got != 1 {
			t.Fatalf("expected one active token, got %d", got)
		}
		if len(mailer.sent) != 1 || mailer.sent[0].email != user.Email {
			t.Fatalf("expected reset mail to %s", user.Email)
		}
		if mailer.sent[0].secret == "" {
			t.Fatal("expected plaintext secret in mail")
		}
		// Only the digest may be stored.
		stored := resets.tokens[0].SecretHash
		if string(stored) == mailer.sent[0].secret {
			t.Fatal("plaintext secret must not be persisted")
		}
		if string(stored) != string(util.HashResetSecret(mailer.sent[0].secret)) {
			t.Fatal("stored digest must match the mailed secret")
		}
	})

	t.Run("reissue supersedes the previous token", func(t *testing.T) {
		userRepo := &fakeUserRepo{findByEmailResult: user}
		resets := newFakeResetRepo()
		mailer := &fakeMailer{}
		svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, &fakeSessionRepo{}, resets, &fakeStorage{}, mailer)

		if err := svc.RequestPasswordReset(ctx, user.Email); err != nil {
			t.Fatalf("first request: %v", err)
		}
		if err := svc.RequestPasswordReset(ctx, user.Email); err != nil {
			t.Fatalf("second request: %v", err)
		}
		if got := resets.activeCount(user.ID, time.Now()); got != 1 {
			t.Fatalf("expected exactly one active token after reissue, got %d", got)
		}
		// The first secret must no longer validate.
		first := mailer.sent[0].secret
		if err := svc.ValidateResetToken(ctx, first); !errors.Is(err, ErrResetTokenInvalid) {
			t.Fatalf("expected superseded secret to be invalid, got %v", err)
		}
		second := mailer.sent[1].secret
		if err := svc.ValidateResetToken(ctx, second); err != nil {
			t.Fatalf("expected fresh secret to validate, got %v", err)
		}
	})

	t.Run("unknown email reports success", func(t *testing.T) {
		userRepo := &fakeUserRepo{findByEmailErr: sql.ErrNoRows}
		resets := newFakeResetRepo()
		mailer := &fakeMailer{}
		svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, &fakeSessionRepo{}, resets, &fakeStorage{}, mailer)

		if err := svc.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
			t.Fatalf("expected nil for unknown email, got %v", err)
		}
		if len(resets.tokens) != 0 || len(mailer.sent) != 0 {
			t.Fatal("expected no token and no mail for unknown email")
		}
	})

	t.Run("mail failure burns the token", func(t *testing.T) {
		userRepo := &fakeUserRepo{findByEmailResult: user}
		resets := newFakeResetRepo()
		mailer := &fakeMailer{err: errors.New("smtp down")}
		svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, &fakeSessionRepo{}, resets, &fakeStorage{}, mailer)

		if err := svc.RequestPasswordReset(ctx, user.Email); err == nil {
			t.Fatal("expected error when mailer fails")
		}
		if got := resets.activeCount(user.ID, time.Now()); got != 0 {
			t.Fatalf("expected undeliverable token to be invalidated, got %d active", got)
		}
	})
}

func TestValidateResetToken(t *testing.T) {
	ctx := context.Background()
	user := activeUser("reset@example.com")
	userRepo := &fakeUserRepo{findByEmailResult: user}
	resets := newFakeResetRepo()
	mailer := &fakeMailer{}
	svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, &fakeSessionRepo{}, resets, &fakeStorage{}, mailer)

	if err := svc.RequestPasswordReset(ctx, user.Email); err != nil {
		t.Fatalf("request: %v", err)
	}
	secret := mailer.sent[0].secret

	if err := svc.ValidateResetToken(ctx, secret); err != nil {
		t.Fatalf("expected active secret to validate, got %v", err)
	}
	if err := svc.ValidateResetToken(ctx, "bogus-secret"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid for unknown secret, got %v", err)
	}

	t.Run("expired secret is invalid", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().Add(time.Hour) }
		defer func() { svc.now = time.Now }()
		if err := svc.ValidateResetToken(ctx, secret); !errors.Is(err, ErrResetTokenInvalid) {
			t.Fatalf("expected ErrResetTokenInvalid after expiry, got %v", err)
		}
	})

	t.Run("validation does not consume", func(t *testing.T) {
		if got := resets.activeCount(user.ID, time.Now()); got != 1 {
			t.Fatalf("expected token to stay active after validation, got %d", got)
		}
	})
}

func TestConfirmPasswordReset(t *testing.T) {
	ctx := context.Background()

	issue := func(t *testing.T, resets *fakeResetRepo, user *domain.User) (svc *AuthService, secret string, sessions *fakeSessionRepo) {
		t.Helper()
		userRepo := &fakeUserRepo{findByEmailResult: user, findByIDResult: user}
		mailer := &fakeMailer{}
		sessions = &fakeSessionRepo{}
		svc = newAuthServiceForTests(userRepo, &fakeRoleRepo{}, sessions, resets, &fakeStorage{}, mailer)
		if err := svc.RequestPasswordReset(ctx, user.Email); err != nil {
			t.Fatalf("request: %v", err)
		}
		return svc, mailer.sent[0].secret, sessions
	}

	t.Run("success consumes token and logs in", func(t *testing.T) {
		user := activeUser("reset@example.com")
		resets := newFakeResetRepo()
		svc, secret, sessions := issue(t, resets, user)

		result, err := svc.ConfirmPasswordReset(ctx, secret, "FreshPass12")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Token == "" {
			t.Fatal("expected auto-login token")
		}
		if len(sessions.createdSessions) != 1 {
			t.Fatalf("expected one session, got %d", len(sessions.createdSessions))
		}
		if len(resets.appliedCredentials[user.ID]) == 0 {
			t.Fatal("expected credentials to be updated with the consume")
		}
		if got := resets.activeCount(user.ID, time.Now()); got != 0 {
			t.Fatalf("expected token to be consumed, got %d active", got)
		}

		// Exactly once: the same secret cannot be consumed again.
		if _, err := svc.ConfirmPasswordReset(ctx, secret, "OtherPass12"); !errors.Is(err, ErrResetTokenInvalid) {
			t.Fatalf("expected second confirm to fail with ErrResetTokenInvalid, got %v", err)
		}
	})

	t.Run("weak password rejected before consume", func(t *testing.T) {
		user := activeUser("reset@example.com")
		resets := newFakeResetRepo()
		svc, secret, _ := issue(t, resets, user)

		if _, err := svc.ConfirmPasswordReset(ctx, secret, "weakpassword"); !errors.Is(err, ErrPasswordTooWeak) {
			t.Fatalf("expected ErrPasswordTooWeak, got %v", err)
		}
		if got := resets.activeCount(user.ID, time.Now()); got != 1 {
			t.Fatalf("expected token to survive a weak-password attempt, got %d active", got)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		user := activeUser("reset@example.com")
		resets := newFakeResetRepo()
		svc, secret, _ := issue(t, resets, user)

		svc.now = func() time.Time { return time.Now().Add(time.Hour) }
		if _, err := svc.ConfirmPasswordReset(ctx, secret, "FreshPass12"); !errors.Is(err, ErrResetTokenExpired) {
			t.Fatalf("expected ErrResetTokenExpired, got %v", err)
		}
		if len(resets.appliedCredentials[user.ID]) != 0 {
			t.Fatal("expected no credential update for expired token")
		}
	})

	t.Run("credential failure leaves token active for retry", func(t *testing.T) {
		user := activeUser("reset@example.com")
		resets := newFakeResetRepo()
		svc, secret, _ := issue(t, resets, user)

		resets.credentialErr = errors.New("user row locked")
		if _, err := svc.ConfirmPasswordReset(ctx, secret, "FreshPass12"); !errors.Is(err, ErrCredentialUpdateFailed) {
			t.Fatalf("expected ErrCredentialUpdateFailed, got %v", err)
		}
		if got := resets.activeCount(user.ID, time.Now()); got != 1 {
			t.Fatalf("expected token to stay active after rollback, got %d", got)
		}

		resets.credentialErr = nil
		if _, err := svc.ConfirmPasswordReset(ctx, secret, "FreshPass12"); err != nil {
			t.Fatalf("expected retry with same secret to succeed, got %v", err)
		}
	})
}

func TestConfirmPasswordResetConcurrent(t *testing.T) {
	ctx := context.Background()
	user := activeUser("race@example.com")
	userRepo := &fakeUserRepo{findByEmailResult: user, findByIDResult: user}
	resets := newFakeResetRepo()
	mailer := &fakeMailer{}
	svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, &fakeSessionRepo{}, resets, &fakeStorage{}, mailer)

	if err := svc.RequestPasswordReset(ctx, user.Email); err != nil {
		t.Fatalf("request: %v", err)
	}
	secret := mailer.sent[0].secret

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ConfirmPasswordReset(ctx, secret, "FreshPass12")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrResetTokenInvalid):
		default:
			t.Fatalf("unexpected error from losing confirm: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning confirm, got %d", winners)
	}
}

func TestSweepExpiredKeepsActiveTokens(t *testing.T) {
	ctx := context.Background()
	user := activeUser("sweep@example.com")
	userRepo := &fakeUserRepo{findByEmailResult: user}
	resets := newFakeResetRepo()
	mailer := &fakeMailer{}
	svc := newAuthServiceForTests(userRepo, &fakeRoleRepo{}, &fakeSessionRepo{}, resets, &fakeStorage{}, mailer)

	// One long-dead token, one freshly issued one.
	dead := time.Now().Add(-48 * time.Hour)
	if _, err := resets.Create(ctx, user.ID, util.HashResetSecret("old"), dead, dead.Add(time.Minute)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.RequestPasswordReset(ctx, user.Email); err != nil {
		t.Fatalf("request: %v", err)
	}

	sweeper := NewResetSweeper(resets, time.Hour, 24*time.Hour)
	removed, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one token swept, got %d", removed)
	}
	if err := svc.ValidateResetToken(ctx, mailer.sent[0].secret); err != nil {
		t.Fatalf("expected active token to survive the sweep, got %v", err)
	}
}

func TestListUsersClampsPagination(t *testing.T) {
	repo := &fakeUserRepo{listResult: []domain.User{*activeUser("a@example.com")}}
	svc := newAuthServiceForTests(repo, &fakeRoleRepo{}, &fakeSessionRepo{}, nil, &fakeStorage{}, nil)

	if _, err := svc.ListUsers(context.Background(), -5, -1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.listInputs) != 1 || repo.listInputs[0].limit != 20 || repo.listInputs[0].offset != 0 {
		t.Fatalf("expected clamped pagination, got %+v", repo.listInputs)
	}
}

func TestDeleteUser(t *testing.T) {
	repo := &fakeUserRepo{}
	svc := newAuthServiceForTests(repo, &fakeRoleRepo{}, &fakeSessionRepo{}, nil, &fakeStorage{}, nil)

	id := uuid.New()
	if err := svc.DeleteUser(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.deleteInput != id {
		t.Fatalf("expected delete for %s, got %s", id, repo.deleteInput)
	}
}
