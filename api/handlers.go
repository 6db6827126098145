package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/identity"
)

const (
	maxBodySize    = 1 << 20
	maxImageSize   = 5 << 20
	headerIdemKey  = "Idempotency-Key"
	headerIfMatch  = "If-Match"
	healthzTimeout = 2 * time.Second
)

var (
	errDuplicateRequest  = errors.New("duplicate request")
	errInvalidBody       = errors.New("invalid body")
	errStreamUnsupported = errors.New("stream unsupported")
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Tasks == nil || d.Summary == nil || d.Auth == nil {
		panic("api.Register: tasks, summary and auth are required")
	}
	if d.Log == nil {
		d.Log = log.StandardLogger()
	}
	e.JSONSerializer = SonicSerializer{}
	e.Use(ObserveRequests(d.Log))

	e.GET("/healthz", healthz(d.Health))

	if d.Identity != nil {
		e.POST("/api/auth/signup", signUp(d.Identity))
		e.POST("/api/auth/session", createSession(d.Identity))
		e.GET("/api/auth/session", currentUser(d.Identity))
		e.DELETE("/api/auth/session", deleteSession(d.Identity))
	}

	if d.Changes != nil {
		e.GET("/api/stream", streamBoard(d.Tasks, d.Changes), tokenFromQuery, requireAuth(d.Auth))
	}

	g := e.Group("/api", requireAuth(d.Auth))
	g.GET("/tasks", listTasks(d.Tasks))
	g.GET("/board", getBoard(d.Tasks))
	g.GET("/tasks/next-order", nextOrder(d.Tasks))
	g.POST("/tasks", createTask(d.Tasks, d.Deduper, d.Log))
	g.PATCH("/tasks/:id", updateTask(d.Tasks))
	g.DELETE("/tasks/:id", deleteTask(d.Tasks))
	g.POST("/tasks/:id/move", moveTask(d.Tasks))
	g.POST("/generate-summary", generateSummary(d.Summary))
	if d.Images != nil {
		g.POST("/images", uploadImage(d.Images))
		g.DELETE("/images/:id", deleteImage(d.Images))
	}
}

type tasksResponse struct {
	Tasks []domain.TaskRecord `json:"tasks"`
}

type orderResponse struct {
	Order int `json:"order"`
}

type duplicateResponse struct {
	Error string `json:"error"`
	ID    string `json:"id,omitempty"`
}

type createTaskRequest struct {
	Title       string        `json:"title"`
	Description *string       `json:"description,omitempty"`
	Status      domain.Status `json:"status"`
	Order       *int          `json:"order,omitempty"`
	ImageFileID *string       `json:"imageFileId,omitempty"`
	BoardID     *string       `json:"boardId,omitempty"`
}

type moveTaskRequest struct {
	Status  domain.Status `json:"status"`
	Order   *int          `json:"order,omitempty"`
	BoardID *string       `json:"boardId,omitempty"`
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type sessionRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpResponse struct {
	User    domain.User      `json:"user"`
	Session identity.Session `json:"session"`
}

type sessionResponse struct {
	Session identity.Session `json:"session"`
}

type userResponse struct {
	User domain.User `json:"user"`
}

type imageResponse struct {
	FileID string `json:"fileId"`
	URL    string `json:"url"`
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

func badBody(c echo.Context) error {
	return writeErrorStatus(c, "decode", http.StatusBadRequest, errInvalidBody)
}

func statusParam(raw string) (domain.Status, error) {
	s := domain.Status(strings.TrimSpace(raw))
	if !s.Valid() {
		return "", &domain.ValidationError{Field: "status", Message: "must be one of todo, inprogress, done"}
	}
	return s, nil
}

func healthz(check func(context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		if check == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthzTimeout)
		defer cancel()
		if err := check(ctx); err != nil {
			metricsFrom(c).Fail("health", err)
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "unhealthy"})
		}
		return c.NoContent(http.StatusOK)
	}
}

func listTasks(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := userIDFrom(c)
		if err != nil {
			return writeError(c, "auth", err)
		}
		m := metricsFrom(c)
		start := time.Now()
		recs, err := svc.ListTasks(c.Request().Context(), userID, c.QueryParam("boardId"))
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, "storage", err)
		}
		m.SetItemsReturned(len(recs))
		return c.JSON(http.StatusOK, tasksResponse{Tasks: recs})
	}
}

func getBoard(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := userIDFrom(c)
		if err != nil {
			return writeError(c, "auth", err)
		}
		m := metricsFrom(c)
		start := time.Now()
		recs, err := svc.ListTasks(c.Request().Context(), userID, c.QueryParam("boardId"))
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, "storage", err)
		}
		board := domain.RecordsToViewFormat(recs)
		m.SetItemsReturned(len(board.Tasks))
		return c.JSON(http.StatusOK, board)
	}
}

func nextOrder(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := userIDFrom(c)
		if err != nil {
			return writeError(c, "auth", err)
		}
		status, err := statusParam(c.QueryParam("status"))
		if err != nil {
			return writeError(c, "validate", err)
		}
		start := time.Now()
		order := svc.NextOrder(c.Request().Context(), userID, status, c.QueryParam("boardId"))
		metricsFrom(c).ObserveStore(time.Since(start))
		return c.JSON(http.StatusOK, orderResponse{Order: order})
	}
}

func createTask(svc TaskService, dedupe Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := userIDFrom(c)
		if err != nil {
			return writeError(c, "auth", err)
		}
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return badBody(c)
		}
		ctx := c.Request().Context()
		m := metricsFrom(c)

		key := strings.TrimSpace(c.Request().Header.Get(headerIdemKey))
		if dedupe == nil {
			key = ""
		}
		if key != "" {
			added, err := dedupe.Add(ctx, userID, key)
			if err != nil {
				return writeError(c, "idempotency", err)
			}
			if !added {
				id, _ := dedupe.Result(ctx, userID, key)
				m.Fail("idempotency", errDuplicateRequest)
				return c.JSON(http.StatusConflict, duplicateResponse{Error: errDuplicateRequest.Error(), ID: id})
			}
		}

		data := domain.CreateTaskData{
			Title:       req.Title,
			Description: req.Description,
			Status:      req.Status,
			ImageFileID: req.ImageFileID,
			BoardID:     req.BoardID,
		}
		start := time.Now()
		if req.Order != nil {
			data.Order = *req.Order
		} else if req.Status.Valid() {
			boardID := ""
			if req.BoardID != nil {
				boardID = *req.BoardID
			}
			data.Order = svc.NextOrder(ctx, userID, req.Status, boardID)
		}
		rec, err := svc.CreateTask(ctx, userID, data)
		m.ObserveStore(time.Since(start))
		if err != nil {
			if key != "" {
				if rerr := dedupe.Remove(ctx, userID, key); rerr != nil {
					logger.WithError(rerr).Warn("failed to release idempotency key")
				}
			}
			return writeError(c, "storage", err)
		}
		if key != "" {
			if cerr := dedupe.Complete(ctx, userID, key, rec.ID); cerr != nil {
				logger.WithError(cerr).Warn("failed to record idempotency result")
			}
		}
		return c.JSON(http.StatusCreated, rec)
	}
}

func updateTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := userIDFrom(c)
		if err != nil {
			return writeError(c, "auth", err)
		}
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return badBody(c)
		}
		patch.IfMatch = strings.TrimSpace(c.Request().Header.Get(headerIfMatch))

		start := time.Now()
		rec, err := svc.UpdateTask(c.Request().Context(), userID, c.Param("id"), patch)
		metricsFrom(c).ObserveStore(time.Since(start))
		if err != nil {
			if patch.IfMatch != "" && errors.Is(err, domain.ErrConflict) {
				return writeErrorStatus(c, "precondition", http.StatusPreconditionFailed, err)
			}
			return writeError(c, "storage", err)
		}
		if rec.ETag != "" {
			c.Response().Header().Set("ETag", rec.ETag)
		}
		return c.JSON(http.StatusOK, rec)
	}
}

func deleteTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := userIDFrom(c)
		if err != nil {
			return writeError(c, "auth", err)
		}
		start := time.Now()
		err = svc.DeleteTask(c.Request().Context(), userID, c.Param("id"))
		metricsFrom(c).ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, "storage", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func moveTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := userIDFrom(c)
		if err != nil {
			return writeError(c, "auth", err)
		}
		var req moveTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return badBody(c)
		}
		status, err := statusParam(string(req.Status))
		if err != nil {
			return writeError(c, "validate", err)
		}
		ctx := c.Request().Context()
		start := time.Now()
		order := 0
		if req.Order != nil {
			order = *req.Order
		} else {
			boardID := ""
			if req.BoardID != nil {
				boardID = *req.BoardID
			}
			order = svc.NextOrder(ctx, userID, status, boardID)
		}
		rec, err := svc.ReorderTask(ctx, userID, c.Param("id"), status, order)
		metricsFrom(c).ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, "storage", err)
		}
		return c.JSON(http.StatusOK, rec)
	}
}

func generateSummary(svc Summarizer) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req domain.SummaryRequest
		if err := decodeBody(c, &req); err != nil {
			return writeErrorStatus(c, "decode", http.StatusBadRequest, summaryDecodeError{err})
		}
		resp, err := svc.Summarize(c.Request().Context(), req)
		if err != nil {
			return writeError(c, "validate", err)
		}
		if resp.Fallback {
			metricsFrom(c).Fail("generate", errors.New(resp.Error))
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// summaryDecodeError reports an unreadable summary body with the same text
// as invalid counts.
type summaryDecodeError struct{ err error }

func (e summaryDecodeError) Error() string { return "Invalid task counts provided" }

func (e summaryDecodeError) Unwrap() error { return e.err }

func uploadImage(images Images) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := userIDFrom(c)
		if err != nil {
			return writeError(c, "auth", err)
		}
		fh, err := c.FormFile("file")
		if err != nil {
			return writeErrorStatus(c, "decode", http.StatusBadRequest, errors.New("file is required"))
		}
		if fh.Size > maxImageSize {
			return writeErrorStatus(c, "validate", http.StatusRequestEntityTooLarge, errors.New("image must be at most 5 MiB"))
		}
		contentType := fh.Header.Get(echo.HeaderContentType)
		if !strings.HasPrefix(contentType, "image/") {
			return writeErrorStatus(c, "validate", http.StatusUnsupportedMediaType, errors.New("file must be an image"))
		}
		f, err := fh.Open()
		if err != nil {
			return writeError(c, "decode", err)
		}
		defer f.Close()

		start := time.Now()
		fileID, err := images.Upload(c.Request().Context(), userID, contentType, io.LimitReader(f, maxImageSize))
		metricsFrom(c).ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, "storage", err)
		}
		return c.JSON(http.StatusCreated, imageResponse{FileID: fileID, URL: images.URL(userID, fileID)})
	}
}

func deleteImage(images Images) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := userIDFrom(c)
		if err != nil {
			return writeError(c, "auth", err)
		}
		start := time.Now()
		err = images.Delete(c.Request().Context(), userID, c.Param("id"))
		metricsFrom(c).ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, "storage", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func signUp(ids Identity) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req signUpRequest
		if err := decodeBody(c, &req); err != nil {
			return badBody(c)
		}
		user, sess, err := ids.SignUp(c.Request().Context(), req.Email, req.Password, req.Name)
		if err != nil {
			return writeError(c, "identity", err)
		}
		return c.JSON(http.StatusCreated, signUpResponse{User: user, Session: sess})
	}
}

func createSession(ids Identity) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req sessionRequest
		if err := decodeBody(c, &req); err != nil {
			return badBody(c)
		}
		sess, err := ids.CreateSession(c.Request().Context(), req.Email, req.Password)
		if err != nil {
			return writeError(c, "identity", err)
		}
		return c.JSON(http.StatusCreated, sessionResponse{Session: sess})
	}
}

func currentUser(ids Identity) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := bearerTokenFromHeader(c.Request().Header)
		if err != nil {
			return writeErrorStatus(c, "auth", http.StatusUnauthorized, err)
		}
		user, err := ids.CurrentUser(c.Request().Context(), string(token))
		if err != nil {
			return writeError(c, "identity", err)
		}
		return c.JSON(http.StatusOK, userResponse{User: user})
	}
}

func deleteSession(ids Identity) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := bearerTokenFromHeader(c.Request().Header)
		if err != nil {
			return writeErrorStatus(c, "auth", http.StatusUnauthorized, err)
		}
		if err := ids.DeleteSession(c.Request().Context(), string(token)); err != nil {
			return writeError(c, "identity", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
