package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"kanban-api/domain"
)

const streamKeepAlive = 25 * time.Second

var (
	sseData = []byte("data: ")
	sseEnd  = []byte("\n\n")
	ssePing = []byte(": ping\n\n")
)

// tokenFromQuery lets EventSource clients, which cannot set headers, pass
// their bearer token as ?token=.
func tokenFromQuery(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if req.Header.Get(echo.HeaderAuthorization) == "" {
			if token := c.QueryParam("token"); token != "" {
				req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
			}
		}
		return next(c)
	}
}

// streamBoard sends the board as a server-sent event on connect and again
// after every change to the user's tasks.
func streamBoard(svc TaskService, feed ChangeFeed) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := userIDFrom(c)
		if err != nil {
			return writeError(c, "auth", err)
		}
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return writeErrorStatus(c, "stream", http.StatusInternalServerError, errStreamUnsupported)
		}
		ctx := c.Request().Context()
		boardID := c.QueryParam("boardId")
		changes, cancel := feed.Subscribe(userID)
		defer cancel()

		h := c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		ticker := time.NewTicker(streamKeepAlive)
		defer ticker.Stop()
		for {
			recs, err := svc.ListTasks(ctx, userID, boardID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.Logger().Error(err)
				return nil
			}
			data, err := sonic.Marshal(domain.RecordsToViewFormat(recs))
			if err != nil {
				c.Logger().Error(err)
				return nil
			}
			if err := writeEvent(c.Response(), data); err != nil {
				return nil
			}
			flusher.Flush()

		wait:
			for {
				select {
				case <-ctx.Done():
					return nil
				case _, ok := <-changes:
					if !ok {
						return nil
					}
					break wait
				case <-ticker.C:
					if _, err := c.Response().Write(ssePing); err != nil {
						return nil
					}
					flusher.Flush()
				}
			}
		}
	}
}

func writeEvent(w *echo.Response, data []byte) error {
	for _, part := range [][]byte{sseData, data, sseEnd} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}
