package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/engine"
)

const requestBodyMaxSize = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, boards Boards, auth Authenticator, logger *log.Logger) {
	e.GET("/api/tasks", getTasks(boards, auth, logger))
	e.GET("/api/tags", getTags(boards, auth))
	e.POST("/api/tasks", createTask(boards, auth))
	e.PATCH("/api/tasks/:id", updateTask(boards, auth))
	e.POST("/api/tasks/:id/complete", completeTask(boards, auth))
	e.POST("/api/tasks/:id/move", moveTask(boards, auth))
	e.POST("/api/tasks/reorder", reorderTasks(boards, auth))
	e.DELETE("/api/tasks/:id", deleteTask(boards, auth))
	e.POST("/api/tasks/delete", deleteTasks(boards, auth))
	e.POST("/api/signout", signOut(boards, auth))
	e.GET("/api/stream", streamTasks(boards, auth))
	e.GET("/healthz", healthz())
}

type tasksResponse struct {
	Tasks   []domain.Task `json:"tasks"`
	Loading bool          `json:"loading"`
	Error   string        `json:"error,omitempty"`
}

type acceptedResponse struct {
	Accepted bool `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Op    string `json:"op,omitempty"`
}

// writeError maps engine errors to transport responses while keeping the
// error kind and operation name a collaborator needs for a notification.
func writeError(c echo.Context, err error) error {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "validation"})
	}
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error(), Kind: "not_found"})
	}
	if errors.Is(err, domain.ErrUnauthenticated) {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: "unauthenticated"})
	}
	var syncErr *domain.SyncError
	if errors.As(err, &syncErr) {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error(), Kind: "sync_failed", Op: syncErr.Op})
	}
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error(), Kind: "internal"})
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// waitLoaded blocks until the controller has its first snapshot, the
// client goes away or a deadline passes.
func waitLoaded(c echo.Context, ctrl *engine.Controller) {
	if !ctrl.Loading() {
		return
	}
	ch, cancel := ctrl.Subscribe()
	defer cancel()
	select {
	case <-ch:
	case <-c.Request().Context().Done():
	case <-time.After(5 * time.Second):
	}
}

func getTasks(boards Boards, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger, "/api/tasks")
		c.SetRequest(c.Request().WithContext(spanCtx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		user, authErr := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.JSON(http.StatusUnauthorized, errorResponse{Error: authErr.Error(), Kind: "unauthenticated"})
			return err
		}

		ctrl := boards.Controller(user)
		fetchStart := time.Now()
		waitLoaded(c, ctrl)
		resp := tasksResponse{Loading: ctrl.Loading()}
		if lane := c.QueryParam("status"); lane != "" {
			status := domain.Status(lane)
			if !status.Valid() {
				metrics.SetErrorStage("invalid_status")
				err = c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid status " + lane, Kind: "validation"})
				return err
			}
			resp.Tasks = ctrl.TasksByStatus(status)
		} else {
			resp.Tasks = ctrl.Tasks()
		}
		metrics.ObserveFetch(time.Since(fetchStart))
		if resp.Tasks == nil {
			resp.Tasks = []domain.Task{}
		}
		if streamErr := ctrl.Err(); streamErr != nil {
			resp.Error = streamErr.Error()
		}
		metrics.SetTasksReturned(len(resp.Tasks))
		err = c.JSON(http.StatusOK, resp)
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getTags(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: "unauthenticated"})
		}
		ctrl := boards.Controller(user)
		waitLoaded(c, ctrl)
		tags := ctrl.Tags()
		if tags == nil {
			tags = []domain.Tag{}
		}
		return c.JSON(http.StatusOK, tags)
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func createTask(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: "unauthenticated"})
		}
		var draft domain.Draft
		if err := decodeBody(c, &draft); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body", Kind: "validation"})
		}
		ctrl := boards.Controller(user)
		waitLoaded(c, ctrl)
		if err := ctrl.Create(c.Request().Context(), draft); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, acceptedResponse{Accepted: true})
	}
}

func updateTask(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: "unauthenticated"})
		}
		var upd domain.Update
		if err := decodeBody(c, &upd); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body", Kind: "validation"})
		}
		ctrl := boards.Controller(user)
		waitLoaded(c, ctrl)
		if err := ctrl.Update(c.Request().Context(), c.Param("id"), upd); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, acceptedResponse{Accepted: true})
	}
}

func completeTask(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: "unauthenticated"})
		}
		ctrl := boards.Controller(user)
		waitLoaded(c, ctrl)
		if err := ctrl.Complete(c.Request().Context(), c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, acceptedResponse{Accepted: true})
	}
}

type moveRequest struct {
	Status string `json:"status"`
}

func moveTask(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: "unauthenticated"})
		}
		var req moveRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body", Kind: "validation"})
		}
		ctrl := boards.Controller(user)
		waitLoaded(c, ctrl)
		if err := ctrl.Move(c.Request().Context(), c.Param("id"), domain.Status(req.Status)); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, acceptedResponse{Accepted: true})
	}
}

type reorderRequest struct {
	TaskID            string `json:"taskId"`
	SourceStatus      string `json:"sourceStatus"`
	DestinationStatus string `json:"destinationStatus"`
	NewOrder          int    `json:"newOrder"`
}

func reorderTasks(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: "unauthenticated"})
		}
		var req reorderRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body", Kind: "validation"})
		}
		ctrl := boards.Controller(user)
		waitLoaded(c, ctrl)
		err = ctrl.Reorder(
			c.Request().Context(),
			req.TaskID,
			domain.Status(req.SourceStatus),
			domain.Status(req.DestinationStatus),
			req.NewOrder,
		)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, acceptedResponse{Accepted: true})
	}
}

func deleteTask(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: "unauthenticated"})
		}
		ctrl := boards.Controller(user)
		waitLoaded(c, ctrl)
		if err := ctrl.Delete(c.Request().Context(), c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, acceptedResponse{Accepted: true})
	}
}

type batchDeleteRequest struct {
	IDs []string `json:"ids"`
}

func deleteTasks(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: "unauthenticated"})
		}
		var req batchDeleteRequest
		if err := decodeBody(c, &req); err != nil || len(req.IDs) == 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body", Kind: "validation"})
		}
		ctrl := boards.Controller(user)
		waitLoaded(c, ctrl)
		if err := ctrl.DeleteBatch(c.Request().Context(), req.IDs); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, acceptedResponse{Accepted: true})
	}
}

// signOut tears the owner's controller down; the next request starts a
// fresh subscription.
func signOut(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: "unauthenticated"})
		}
		boards.Release(user.ID)
		return c.NoContent(http.StatusNoContent)
	}
}
