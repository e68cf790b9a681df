package main

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type UserServiceProvider interface {
	Signup(ctx context.Context, email, password string) (User, error)
	Login(ctx context.Context, email, password string) (Session, error)
	Verify(token string) (string, error)
	GetProfile(ctx context.Context, userID string) (User, error)
	UpdateProfileImage(ctx context.Context, userID string, upload *ImageUpload) (User, error)
}

// Session is handed to a user after a successful login.
type Session struct {
	UserID    string `json:"userId"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"` // seconds
}

var (
	errInvalidEmail    = errors.New("email is not valid")
	errMissingImage    = missingFieldError("image")
	errMissingPassword = missingFieldError("password")
)

type UserService struct {
	logger     *zap.Logger
	clock      Clocker
	idsHandler UIDHandler
	storage    UserStorage
	tokens     TokenManager
	janitor    *ImageJanitor
	bcryptCost int
}

func NewUserService(logger *zap.Logger, config *AuthConfig, clock Clocker, idsHandler UIDHandler, storage UserStorage, tokens TokenManager, janitor *ImageJanitor) UserServiceProvider {
	cost := config.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &UserService{
		logger:     logger,
		clock:      clock,
		idsHandler: idsHandler,
		storage:    storage,
		tokens:     tokens,
		janitor:    janitor,
		bcryptCost: cost,
	}
}

// Signup registers a new account. Emails are compared case-insensitively.
func (us *UserService) Signup(ctx context.Context, email, password string) (User, error) {
	email = NormalizeEmail(email)
	var errs []error
	switch {
	case email == "":
		errs = append(errs, missingFieldError("email"))
	case !strings.Contains(email, "@"):
		errs = append(errs, errInvalidEmail)
	}
	if password == "" {
		errs = append(errs, errMissingPassword)
	}
	if len(errs) > 0 {
		return User{}, &ValidationError{Fields: errs}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), us.bcryptCost)
	if err != nil {
		return User{}, err
	}
	user := User{
		ID:           us.idsHandler.Generate(UserIDPrefix),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    us.clock.Now(),
	}
	if err = us.storage.Add(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Login checks the credentials and issues a token. Unknown emails and
// wrong passwords produce the same error.
func (us *UserService) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := us.storage.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	token, expires, err := us.tokens.Generate(user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:    user.ID,
		Token:     token,
		ExpiresIn: int64(expires.Sub(us.clock.Now()).Seconds()),
	}, nil
}

// Verify resolves a token to the user id it was issued for.
func (us *UserService) Verify(token string) (string, error) {
	return us.tokens.Verify(token)
}

func (us *UserService) GetProfile(ctx context.Context, userID string) (User, error) {
	if userID == "" {
		return User{}, ErrUnauthenticated
	}
	return us.storage.GetOne(ctx, userID)
}

// UpdateProfileImage swaps the profile picture with the same ordering as
// book covers: store the new file, commit the record, release the old file.
func (us *UserService) UpdateProfileImage(ctx context.Context, userID string, upload *ImageUpload) (User, error) {
	if userID == "" {
		return User{}, ErrUnauthenticated
	}
	if upload == nil {
		return User{}, &ValidationError{Fields: []error{errMissingImage}}
	}
	if _, err := us.storage.GetOne(ctx, userID); err != nil {
		return User{}, err
	}

	ref, err := us.janitor.Ingest(ctx, upload)
	if err != nil {
		return User{}, err
	}

	var previous string
	user, err := us.storage.Update(ctx, userID, func(u *User) error {
		previous = u.ProfileImage
		u.ProfileImage = ref
		return nil
	})
	if err != nil {
		us.janitor.Discard(ctx, ref)
		return User{}, err
	}
	if previous != ref {
		us.janitor.Schedule(ctx, previous)
	}
	return user, nil
}
