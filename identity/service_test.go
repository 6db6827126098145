package identity

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"kanban-api/domain"
)

type fakeUsers struct {
	byID    map[string]domain.User
	byEmail map[string]string
	err     error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]domain.User{}, byEmail: map[string]string{}}
}

func (f *fakeUsers) InsertUser(_ context.Context, u domain.User) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.byEmail[u.Email]; ok {
		return domain.ErrUserExists
	}
	f.byID[u.ID] = u
	f.byEmail[u.Email] = u.ID
	return nil
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (domain.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	if f.err != nil {
		return domain.User{}, f.err
	}
	id, ok := f.byEmail[email]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return f.GetUser(ctx, id)
}

func newTestService(t *testing.T) (*Service, *fakeUsers, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger, _ := test.NewNullLogger()
	users := newFakeUsers()
	svc := NewService(users, client, []byte("session-secret"), time.Hour, logger)
	svc.cost = bcrypt.MinCost
	return svc, users, mr
}

func expectKind(t *testing.T, err error, kind Kind, code int) *Error {
	t.Helper()
	var ie *Error
	if !errors.As(err, &ie) {
		t.Fatalf("expected identity error, got %v", err)
	}
	if ie.Kind != kind || ie.Code != code {
		t.Fatalf("expected %s/%d, got %s/%d (%s)", kind, code, ie.Kind, ie.Code, ie.Message)
	}
	return ie
}

func TestSignUpSignsIn(t *testing.T) {
	svc, _, mr := newTestService(t)
	ctx := context.Background()

	u, sess, err := svc.SignUp(ctx, " Ana@Example.com ", "correct-horse", "Ana")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if u.Email != "ana@example.com" || sess.UserID != u.ID || sess.Token == "" {
		t.Fatalf("unexpected result: %+v %+v", u, sess)
	}
	if ttl := mr.TTL(sessionKey(sess.ID)); ttl != time.Hour {
		t.Fatalf("unexpected session ttl: %v", ttl)
	}

	current, err := svc.CurrentUser(ctx, sess.Token)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if current.ID != u.ID || current.Name != "Ana" {
		t.Fatalf("unexpected current user: %+v", current)
	}
}

func TestSignUpErrors(t *testing.T) {
	svc, users, _ := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.SignUp(ctx, "bo@example.com", "long-enough", "Bo"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		userName string
		kind     Kind
		code     int
		message  string
	}{
		{name: "bad email", email: "nope", password: "long-enough", userName: "X", kind: KindValidation, code: http.StatusBadRequest, message: "Please enter a valid email address"},
		{name: "short password", email: "x@example.com", password: "short", userName: "X", kind: KindValidation, code: http.StatusBadRequest, message: "Password must be at least 8 characters long"},
		{name: "missing name", email: "x@example.com", password: "long-enough", kind: KindValidation, code: http.StatusBadRequest, message: "Invalid input. Please check your information."},
		{name: "duplicate", email: "BO@example.com", password: "long-enough", userName: "Bo", kind: KindConflict, code: http.StatusConflict, message: "An account with this email already exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.SignUp(ctx, tt.email, tt.password, tt.userName)
			ie := expectKind(t, err, tt.kind, tt.code)
			if ie.Message != tt.message {
				t.Fatalf("unexpected message %q", ie.Message)
			}
		})
	}

	users.err = errors.New("table down")
	_, _, err := svc.SignUp(ctx, "new@example.com", "long-enough", "N")
	ie := expectKind(t, err, KindUnknown, http.StatusInternalServerError)
	if ie.Message != "An unexpected error occurred. Please try again." {
		t.Fatalf("unexpected message %q", ie.Message)
	}
}

func TestCreateSessionInvalidCredentials(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.SignUp(ctx, "cy@example.com", "long-enough", "Cy"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := svc.CreateSession(ctx, "cy@example.com", "wrong-password")
	ie := expectKind(t, err, KindInvalidCredentials, http.StatusUnauthorized)
	if ie.Message != "Invalid email or password" {
		t.Fatalf("unexpected message %q", ie.Message)
	}
	_, err = svc.CreateSession(ctx, "ghost@example.com", "long-enough")
	expectKind(t, err, KindInvalidCredentials, http.StatusUnauthorized)
}

func TestCreateSessionRateLimited(t *testing.T) {
	svc, _, mr := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.SignUp(ctx, "di@example.com", "long-enough", "Di"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i := 0; i < 5; i++ {
		_, err := svc.CreateSession(ctx, "di@example.com", "wrong-password")
		expectKind(t, err, KindInvalidCredentials, http.StatusUnauthorized)
	}
	_, err := svc.CreateSession(ctx, "di@example.com", "long-enough")
	ie := expectKind(t, err, KindRateLimited, http.StatusTooManyRequests)
	if ie.Message != "Too many requests. Please try again later." {
		t.Fatalf("unexpected message %q", ie.Message)
	}

	mr.FastForward(16 * time.Minute)
	if _, err := svc.CreateSession(ctx, "di@example.com", "long-enough"); err != nil {
		t.Fatalf("expected login after window, got %v", err)
	}
	if mr.Exists(failureKey("di@example.com")) {
		t.Fatalf("successful login should reset failures")
	}
}

func TestFailedLoginCounterExpires(t *testing.T) {
	svc, _, mr := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.SignUp(ctx, "ed@example.com", "long-enough", "Ed"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i := 0; i < 2; i++ {
		_, err := svc.CreateSession(ctx, "ed@example.com", "wrong-password")
		expectKind(t, err, KindInvalidCredentials, http.StatusUnauthorized)
	}
	key := failureKey("ed@example.com")
	if got, _ := mr.Get(key); got != "2" {
		t.Fatalf("expected 2 failures, got %q", got)
	}
	if ttl := mr.TTL(key); ttl != 15*time.Minute {
		t.Fatalf("failure counter must expire with the window, ttl %v", ttl)
	}
}

func TestDeleteSessionRevokesToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, sess, err := svc.SignUp(ctx, "ed@example.com", "long-enough", "Ed")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	other, err := svc.CreateSession(ctx, "ed@example.com", "long-enough")
	if err != nil {
		t.Fatalf("second session: %v", err)
	}

	if err := svc.DeleteSession(ctx, sess.Token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	_, err = svc.Verify(ctx, sess.Token)
	expectKind(t, err, KindUnauthorized, http.StatusUnauthorized)

	if c, err := svc.Verify(ctx, other.Token); err != nil || c.SessionID != other.ID {
		t.Fatalf("other session should stay valid: %+v %v", c, err)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u", "sid": "s", "exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	for _, tok := range []string{"", "not.a.token", signed} {
		_, err := svc.Verify(ctx, tok)
		expectKind(t, err, KindUnauthorized, http.StatusUnauthorized)
	}
}
