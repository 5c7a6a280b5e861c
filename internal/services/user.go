package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tubeshelf/accounts/internal/media"
	"github.com/tubeshelf/accounts/internal/metrics"
	"github.com/tubeshelf/accounts/internal/store"
	"github.com/tubeshelf/accounts/types"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

const (
	avatarFolder     = "avatars"
	coverImageFolder = "cover-images"

	uploadKindAvatar     = "avatar"
	uploadKindCoverImage = "cover_image"

	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72

	publishTimeout = 5 * time.Second
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateAccount(ctx context.Context, id, fullName, email string) (types.User, error)
	UpdateAvatar(ctx context.Context, id, url string) (types.User, error)
	UpdateCoverImage(ctx context.Context, id, url string) (types.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) (types.User, error)
	SetRefreshToken(ctx context.Context, id, token string) error
	SwapRefreshToken(ctx context.Context, id, current, next string) error
}

// MediaUploader moves a spooled local file to the media host.
type MediaUploader interface {
	Upload(ctx context.Context, localPath, folder string) (media.Asset, error)
	Remove(ctx context.Context, asset media.Asset) error
}

// EventPublisher emits account events.
type EventPublisher interface {
	Publish(ctx context.Context, event types.AccountEvent) error
}

// RegisterInput carries the registration form. File fields are paths of
// parts already spooled to local disk.
type RegisterInput struct {
	FullName       string
	Email          string
	Username       string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

type LoginInput struct {
	Username string
	Email    string
	Password string
}

type LoginResult struct {
	User   types.User
	Tokens types.TokenPair
}

// Option configures optional UserService collaborators.
type Option func(*UserService)

func WithEvents(publisher EventPublisher) Option {
	return func(s *UserService) { s.events = publisher }
}

func WithMetrics(recorder metrics.Recorder) Option {
	return func(s *UserService) { s.metrics = recorder }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *UserService) { s.logger = logger }
}

func WithBcryptCost(cost int) Option {
	return func(s *UserService) { s.bcryptCost = cost }
}

// UserService encapsulates the account use-cases.
type UserService struct {
	repo       UserRepository
	tokens     *TokenService
	uploader   MediaUploader
	events     EventPublisher
	metrics    metrics.Recorder
	logger     *slog.Logger
	bcryptCost int
	now        func() time.Time
}

func NewUserService(repo UserRepository, tokens *TokenService, uploader MediaUploader, opts ...Option) *UserService {
	s := &UserService{
		repo:       repo,
		tokens:     tokens,
		uploader:   uploader,
		metrics:    metrics.Nop{},
		logger:     slog.Default(),
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bcryptCost < bcrypt.MinCost || s.bcryptCost > bcrypt.MaxCost {
		s.bcryptCost = bcrypt.DefaultCost
	}
	return s
}

// Register creates an account. The avatar is mandatory; a failed cover image
// upload leaves the cover empty.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (types.User, error) {
	defer media.Discard(in.AvatarPath, in.CoverImagePath)

	fullName := strings.TrimSpace(in.FullName)
	email := normalizeEmail(in.Email)
	username := normalizeUsername(in.Username)
	if fullName == "" || email == "" || username == "" || strings.TrimSpace(in.Password) == "" {
		return types.User{}, BadRequest("All fields are required")
	}
	if len(in.Password) > maxPasswordBytes {
		return types.User{}, BadRequest("Password must be at most 72 bytes")
	}

	if _, err := s.repo.FindByUsernameOrEmail(ctx, username, email); err == nil {
		return types.User{}, Conflict("User with email or username already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, InternalError("Failed to check existing users", err)
	}

	if strings.TrimSpace(in.AvatarPath) == "" {
		return types.User{}, BadRequest("Avatar file is required")
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return types.User{}, err
	}

	avatar, cover, err := s.uploadRegistrationImages(ctx, in.AvatarPath, in.CoverImagePath)
	if err != nil {
		return types.User{}, err
	}

	created, err := s.repo.Create(ctx, types.User{
		Username:     username,
		Email:        email,
		FullName:     fullName,
		Avatar:       avatar.URL,
		CoverImage:   cover.URL,
		PasswordHash: hash,
	})
	if err != nil {
		s.rollbackUploads(ctx, avatar, cover)
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, Conflict("User with email or username already exists")
		}
		return types.User{}, InternalError("Something went wrong while registering the user", err)
	}

	user, err := s.repo.GetByID(ctx, created.ID)
	if err != nil {
		return types.User{}, InternalError("Something went wrong while registering the user", err)
	}

	s.metrics.RecordRegistration()
	s.publish(ctx, types.EventUserRegistered, user, nil)
	return user.Public(), nil
}

func (s *UserService) uploadRegistrationImages(ctx context.Context, avatarPath, coverPath string) (media.Asset, media.Asset, error) {
	var avatar, cover media.Asset
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		asset, err := s.uploadImage(gctx, avatarPath, avatarFolder, uploadKindAvatar)
		if err != nil {
			return err
		}
		avatar = asset
		return nil
	})
	if strings.TrimSpace(coverPath) != "" {
		g.Go(func() error {
			asset, err := s.uploadImage(gctx, coverPath, coverImageFolder, uploadKindCoverImage)
			if err != nil {
				s.logger.WarnContext(ctx, "cover image upload failed, continuing without cover",
					slog.String("error", err.Error()),
				)
				return nil
			}
			cover = asset
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.rollbackUploads(ctx, cover)
		return media.Asset{}, media.Asset{}, ValidationError("Avatar file upload failed", err)
	}
	return avatar, cover, nil
}

// Login verifies credentials and issues a fresh token pair.
func (s *UserService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	username := normalizeUsername(in.Username)
	email := normalizeEmail(in.Email)
	if username == "" && email == "" {
		return LoginResult{}, BadRequest("username or email is required")
	}

	user, err := s.repo.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		s.metrics.RecordLogin(metrics.ResultFailure)
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, NotFound("User does not exist")
		}
		return LoginResult{}, InternalError("Failed to load user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		s.metrics.RecordLogin(metrics.ResultFailure)
		return LoginResult{}, Unauthorized("Invalid user credentials", nil)
	}

	pair, err := s.tokens.IssuePair(ctx, user)
	if err != nil {
		s.metrics.RecordLogin(metrics.ResultFailure)
		return LoginResult{}, err
	}

	s.metrics.RecordLogin(metrics.ResultSuccess)
	s.publish(ctx, types.EventUserLoggedIn, user, nil)
	return LoginResult{User: user.Public(), Tokens: pair}, nil
}

// Logout clears the stored refresh token. Repeating it is not an error.
func (s *UserService) Logout(ctx context.Context, user types.User) error {
	if err := s.repo.SetRefreshToken(ctx, user.ID, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
		return InternalError("Failed to log out", err)
	}
	s.publish(ctx, types.EventUserLoggedOut, user, nil)
	return nil
}

// Refresh exchanges the presented refresh token for a new pair. The
// presented token stops working once this returns successfully.
func (s *UserService) Refresh(ctx context.Context, presented string) (types.TokenPair, error) {
	pair, err := s.refresh(ctx, strings.TrimSpace(presented))
	if err != nil {
		s.metrics.RecordTokenRefresh(metrics.ResultFailure)
		return types.TokenPair{}, err
	}
	s.metrics.RecordTokenRefresh(metrics.ResultSuccess)
	return pair, nil
}

func (s *UserService) refresh(ctx context.Context, presented string) (types.TokenPair, error) {
	if presented == "" {
		return types.TokenPair{}, Unauthorized("Unauthorized request", nil)
	}

	claims, err := s.tokens.VerifyRefreshToken(presented)
	if err != nil {
		return types.TokenPair{}, Unauthorized("Invalid refresh token", err)
	}

	user, err := s.repo.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.TokenPair{}, Unauthorized("Invalid refresh token", err)
		}
		return types.TokenPair{}, InternalError("Failed to load user", err)
	}

	if subtle.ConstantTimeCompare([]byte(user.RefreshToken), []byte(presented)) != 1 {
		return types.TokenPair{}, Unauthorized("Refresh token is expired or used", ErrTokenRevoked)
	}

	pair, err := s.tokens.RotatePair(ctx, user, presented)
	if err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return types.TokenPair{}, Unauthorized("Refresh token is expired or used", err)
		}
		return types.TokenPair{}, err
	}
	return pair, nil
}

// Authenticate resolves an access token to the stripped user it belongs to.
func (s *UserService) Authenticate(ctx context.Context, accessToken string) (types.User, error) {
	if strings.TrimSpace(accessToken) == "" {
		return types.User{}, Unauthorized("Unauthorized request", nil)
	}
	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return types.User{}, Unauthorized("Invalid access token", err)
	}
	user, err := s.repo.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, Unauthorized("Invalid access token", err)
		}
		return types.User{}, InternalError("Failed to load user", err)
	}
	return user.Public(), nil
}

// Current returns the stripped record of userID.
func (s *UserService) Current(ctx context.Context, userID string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return types.User{}, mapLookupError(err)
	}
	return user.Public(), nil
}

// ChangePassword replaces the password hash. Existing tokens stay valid.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return BadRequest("New password is required")
	}
	if len(newPassword) > maxPasswordBytes {
		return BadRequest("Password must be at most 72 bytes")
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return mapLookupError(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return BadRequest("Invalid old password")
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	updated, err := s.repo.UpdatePassword(ctx, userID, hash)
	if err != nil {
		return mapLookupError(err)
	}

	s.publish(ctx, types.EventUserPasswordChanged, updated, nil)
	return nil
}

// UpdateAccount overwrites full name and email.
func (s *UserService) UpdateAccount(ctx context.Context, userID, fullName, email string) (types.User, error) {
	fullName = strings.TrimSpace(fullName)
	email = normalizeEmail(email)
	if fullName == "" || email == "" {
		return types.User{}, BadRequest("All fields are required")
	}

	updated, err := s.repo.UpdateAccount(ctx, userID, fullName, email)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, Conflict("Email is already in use")
		}
		return types.User{}, mapLookupError(err)
	}

	s.publish(ctx, types.EventUserAccountUpdated, updated, nil)
	return updated.Public(), nil
}

func (s *UserService) UpdateAvatar(ctx context.Context, userID, localPath string) (types.User, error) {
	return s.replaceImage(ctx, userID, localPath, imageTarget{
		kind:    uploadKindAvatar,
		folder:  avatarFolder,
		missing: "Avatar file is missing",
		failed:  "Error while uploading avatar",
		event:   types.EventUserAvatarUpdated,
		current: func(u types.User) string { return u.Avatar },
		update:  s.repo.UpdateAvatar,
	})
}

func (s *UserService) UpdateCoverImage(ctx context.Context, userID, localPath string) (types.User, error) {
	return s.replaceImage(ctx, userID, localPath, imageTarget{
		kind:    uploadKindCoverImage,
		folder:  coverImageFolder,
		missing: "Cover image file is missing",
		failed:  "Error while uploading cover image",
		event:   types.EventUserCoverImageUpdated,
		current: func(u types.User) string { return u.CoverImage },
		update:  s.repo.UpdateCoverImage,
	})
}

type imageTarget struct {
	kind    string
	folder  string
	missing string
	failed  string
	event   types.AccountEventType
	current func(types.User) string
	update  func(ctx context.Context, id, url string) (types.User, error)
}

// replaceImage uploads a new image and points the user at it. The previous
// asset is left in place and reported on the event.
func (s *UserService) replaceImage(ctx context.Context, userID, localPath string, target imageTarget) (types.User, error) {
	if strings.TrimSpace(localPath) == "" {
		return types.User{}, BadRequest(target.missing)
	}
	defer media.Discard(localPath)

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return types.User{}, mapLookupError(err)
	}
	previous := target.current(user)

	asset, err := s.uploadImage(ctx, localPath, target.folder, target.kind)
	if err != nil {
		return types.User{}, ValidationError(target.failed, err)
	}

	updated, err := target.update(ctx, userID, asset.URL)
	if err != nil {
		s.rollbackUploads(ctx, asset)
		return types.User{}, mapLookupError(err)
	}

	s.publish(ctx, target.event, updated, map[string]string{"previous_url": previous})
	return updated.Public(), nil
}

func (s *UserService) uploadImage(ctx context.Context, localPath, folder, kind string) (media.Asset, error) {
	asset, err := s.uploader.Upload(ctx, localPath, folder)
	if err == nil && asset.URL == "" {
		err = errors.New("media host returned no url")
	}
	if err != nil {
		s.metrics.RecordUpload(kind, metrics.ResultFailure)
		return media.Asset{}, err
	}
	s.metrics.RecordUpload(kind, metrics.ResultSuccess)
	return asset, nil
}

func (s *UserService) rollbackUploads(ctx context.Context, assets ...media.Asset) {
	for _, asset := range assets {
		if asset.Key == "" {
			continue
		}
		if err := s.uploader.Remove(context.WithoutCancel(ctx), asset); err != nil {
			s.logger.WarnContext(ctx, "failed to remove orphaned upload",
				slog.String("key", asset.Key),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *UserService) hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", InternalError("Failed to hash password", err)
	}
	return string(hashed), nil
}

// publish sends an account event. Failures are logged and counted only.
func (s *UserService) publish(ctx context.Context, eventType types.AccountEventType, user types.User, attrs map[string]string) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := types.AccountEvent{
		Type:       eventType,
		UserID:     user.ID,
		Username:   user.Username,
		OccurredAt: s.now().UTC(),
		Attributes: attrs,
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.metrics.RecordEventPublishFailure()
		s.logger.WarnContext(ctx, "failed to publish account event",
			slog.String("type", string(eventType)),
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

func mapLookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return NotFound("User does not exist")
	}
	return InternalError("Failed to access user record", err)
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
