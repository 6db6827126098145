package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"kanban-api/domain"
)

const minPasswordLength = 8

// UserStore persists accounts.
type UserStore interface {
	InsertUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
}

// Session is an issued sign-in. Token is presented as a bearer token.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Claims are the verified contents of a session token.
type Claims struct {
	UserID    string
	SessionID string
}

type credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=8"`
}

// Service signs users up and manages their sessions. A token stays valid
// only while its session key exists in Redis.
type Service struct {
	users   UserStore
	redis   *redis.Client
	secret  []byte
	ttl     time.Duration
	limiter *loginLimiter
	parser  *jwt.Parser
	log     *log.Logger
	now     func() time.Time
	cost    int
}

// NewService creates a Service issuing HS256 session tokens signed with
// secret.
func NewService(users UserStore, client *redis.Client, secret []byte, ttl time.Duration, logger *log.Logger) *Service {
	if users == nil || client == nil {
		panic("identity.NewService: users and redis are required")
	}
	if len(secret) == 0 {
		panic("identity.NewService: empty session secret")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		users:   users,
		redis:   client,
		secret:  secret,
		ttl:     ttl,
		limiter: &loginLimiter{redis: client, max: defaultMaxFailures, window: defaultFailureWindow},
		parser:  jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
		log:     logger,
		now:     time.Now,
		cost:    bcrypt.DefaultCost,
	}
}

func sessionKey(id string) string { return "session:" + id }

func normaliseEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func validateCredentials(email, password string) error {
	err := domain.Validate(credentials{Email: email, Password: password})
	if err == nil {
		return nil
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		switch verr.Field {
		case "email":
			return validationError(msgInvalidEmail)
		case "password":
			return validationError(msgShortPassword)
		}
	}
	return validationError(msgInvalidInput)
}

// SignUp creates an account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password, name string) (domain.User, Session, error) {
	email = normaliseEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return domain.User{}, Session{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.User{}, Session{}, validationError(msgInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return domain.User{}, Session{}, newError(KindUnknown, err)
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		CreatedAt:    s.now().UTC(),
		PasswordHash: hash,
	}
	if err := s.users.InsertUser(ctx, u); err != nil {
		if errors.Is(err, domain.ErrUserExists) {
			return domain.User{}, Session{}, newError(KindConflict, err)
		}
		s.log.WithError(err).Error("sign up failed")
		return domain.User{}, Session{}, newError(KindUnknown, err)
	}
	sess, err := s.CreateSession(ctx, email, password)
	if err != nil {
		return domain.User{}, Session{}, err
	}
	return u, sess, nil
}

// CreateSession verifies the credentials and issues a session.
func (s *Service) CreateSession(ctx context.Context, email, password string) (Session, error) {
	email = normaliseEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return Session{}, err
	}
	blocked, err := s.limiter.Blocked(ctx, email)
	if err != nil {
		s.log.WithError(err).Warn("login limiter unavailable")
	}
	if blocked {
		return Session{}, newError(KindRateLimited, nil)
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.WithError(err).Error("failed to load user")
		return Session{}, newError(KindUnknown, err)
	}
	if err != nil || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		if ferr := s.limiter.Fail(ctx, email); ferr != nil {
			s.log.WithError(ferr).Warn("failed to record login failure")
		}
		return Session{}, newError(KindInvalidCredentials, err)
	}
	s.limiter.Reset(ctx, email)
	return s.issue(ctx, u.ID)
}

func (s *Service) issue(ctx context.Context, userID string) (Session, error) {
	now := s.now()
	sess := Session{ID: uuid.NewString(), UserID: userID, ExpiresAt: now.Add(s.ttl).UTC()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"sid": sess.ID,
		"iat": now.Unix(),
		"exp": sess.ExpiresAt.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return Session{}, newError(KindUnknown, err)
	}
	if err := s.redis.Set(ctx, sessionKey(sess.ID), userID, s.ttl).Err(); err != nil {
		s.log.WithError(err).Error("failed to store session")
		return Session{}, newError(KindUnknown, err)
	}
	sess.Token = signed
	return sess, nil
}

// Verify checks the token signature, expiry and that its session is still
// active.
func (s *Service) Verify(ctx context.Context, token string) (Claims, error) {
	parsed, err := s.parser.Parse(token, func(*jwt.Token) (any, error) { return s.secret, nil })
	if err != nil {
		return Claims{}, newError(KindUnauthorized, err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, newError(KindUnauthorized, errors.New("invalid claims"))
	}
	sub, _ := mc["sub"].(string)
	sid, _ := mc["sid"].(string)
	if sub == "" || sid == "" {
		return Claims{}, newError(KindUnauthorized, errors.New("missing sub or sid"))
	}
	owner, err := s.redis.Get(ctx, sessionKey(sid)).Result()
	if errors.Is(err, redis.Nil) {
		return Claims{}, newError(KindUnauthorized, errors.New("session not found"))
	}
	if err != nil {
		return Claims{}, newError(KindUnknown, err)
	}
	if owner != sub {
		return Claims{}, newError(KindUnauthorized, errors.New("session owner mismatch"))
	}
	return Claims{UserID: sub, SessionID: sid}, nil
}

// CurrentUser returns the account signed in with token.
func (s *Service) CurrentUser(ctx context.Context, token string) (domain.User, error) {
	c, err := s.Verify(ctx, token)
	if err != nil {
		return domain.User{}, err
	}
	u, err := s.users.GetUser(ctx, c.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, newError(KindUnauthorized, err)
	}
	if err != nil {
		return domain.User{}, newError(KindUnknown, err)
	}
	return u, nil
}

// DeleteSession signs the token's session out.
func (s *Service) DeleteSession(ctx context.Context, token string) error {
	c, err := s.Verify(ctx, token)
	if err != nil {
		return err
	}
	if err := s.redis.Del(ctx, sessionKey(c.SessionID)).Err(); err != nil {
		return newError(KindUnknown, err)
	}
	return nil
}
