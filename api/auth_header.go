package api

import (
	"errors"
	"net/http"
	"time"
	"unsafe"

	"github.com/labstack/echo/v4"

	"kanban-api/identity"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
	errUnauthorized         = errors.New("unauthorized")
)

const userIDKey = "kanban.userID"

var bearerPrefix = [...]byte{'B', 'e', 'a', 'r', 'e', 'r', ' '}

func bearerTokenFromHeader(header http.Header) ([]byte, error) {
	values := header.Values(echo.HeaderAuthorization)
	if len(values) == 0 {
		return nil, errMissingAuthorization
	}
	return bearerTokenFromString(values[0])
}

func bearerTokenFromString(raw string) ([]byte, error) {
	start := 0
	end := len(raw)
	for start < end && raw[start] == ' ' {
		start++
	}
	for end > start && raw[end-1] == ' ' {
		end--
	}
	if start >= end {
		return nil, errMissingAuthorization
	}
	tokenBytes := readOnlyBytes(raw[start:end])
	if len(tokenBytes) <= len(bearerPrefix) || !hasBearerPrefix(tokenBytes) {
		return nil, errBadAuthorization
	}
	tokenBytes = tokenBytes[len(bearerPrefix):]
	if countByte(tokenBytes, '.') != 2 {
		return nil, errBadAuthorization
	}
	return tokenBytes, nil
}

func hasBearerPrefix(value []byte) bool {
	if len(value) < len(bearerPrefix) {
		return false
	}
	for i := range bearerPrefix {
		if value[i] != bearerPrefix[i] {
			return false
		}
	}
	return true
}

func countByte(buf []byte, target byte) int {
	count := 0
	for _, b := range buf {
		if b == target {
			count++
		}
	}
	return count
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// requireAuth resolves the caller and stores its user id on the context.
// Failures answer 401, or the status of an identity error.
func requireAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m := metricsFrom(c)
			start := time.Now()
			userID, err := auth.UserIDFromAuthHeader(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
			m.ObserveAuth(time.Since(start))
			if err != nil {
				status := http.StatusUnauthorized
				var ie *identity.Error
				if errors.As(err, &ie) {
					status = ie.Code
				}
				return writeErrorStatus(c, "auth", status, err)
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

func userIDFrom(c echo.Context) (string, error) {
	id, _ := c.Get(userIDKey).(string)
	if id == "" {
		return "", errUnauthorized
	}
	return id, nil
}
