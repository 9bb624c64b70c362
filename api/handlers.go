package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasklane/domain"
	"tasklane/query"
)

// TaskService is the authorized task API the handlers drive.
type TaskService interface {
	Create(ctx context.Context, caller string, n domain.NewTask) (domain.Task, error)
	Get(ctx context.Context, caller, id string) (domain.Task, error)
	List(ctx context.Context, caller string, spec query.Spec) (query.Result, error)
	ListPublic(ctx context.Context, owner string) ([]domain.Task, error)
	Update(ctx context.Context, caller, id string, p domain.TaskPatch) (domain.Task, error)
	Delete(ctx context.Context, caller, id string) error
}

// Deps bundles what the routes need.
type Deps struct {
	Tasks     TaskService
	Files     domain.AttachmentStore
	Auth      Authenticator
	Directory domain.Directory
	Logger    *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	e.JSONSerializer = SonicSerializer{}
	e.GET("/healthz", healthz)

	g := e.Group("/api", GzipRequestMiddleware(), RequireAuth(d.Auth, d.Directory, d.Logger))
	g.POST("/tasks", createTask(d.Tasks, d.Logger))
	g.GET("/tasks", listTasks(d.Tasks, d.Logger))
	g.GET("/tasks/public/:userId", listPublicTasks(d.Tasks, d.Logger))
	g.GET("/tasks/:id", getTask(d.Tasks, d.Logger))
	g.PATCH("/tasks/:id", updateTask(d.Tasks, d.Logger))
	g.DELETE("/tasks/:id", deleteTask(d.Tasks, d.Logger))
	if d.Directory != nil {
		g.GET("/users", listUsers(d.Directory, d.Logger))
	}
	if d.Files != nil {
		g.POST("/files", uploadFile(d.Files, d.Logger))
		g.GET("/files/:ref", downloadFile(d.Files, d.Logger))
	}
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type createTaskRequest struct {
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Priority      string     `json:"priority"`
	DueDate       *time.Time `json:"dueDate"`
	Category      string     `json:"category"`
	IsPublic      bool       `json:"isPublic"`
	AttachmentRef string     `json:"attachmentRef"`
}

// updateTaskRequest lists every field a caller may change. Anything else in
// the body, ownerId included, fails decoding.
type updateTaskRequest struct {
	Title         *string      `json:"title"`
	Description   *string      `json:"description"`
	Priority      *string      `json:"priority"`
	DueDate       optionalTime `json:"dueDate"`
	Category      *string      `json:"category"`
	IsPublic      *bool        `json:"isPublic"`
	IsComplete    *bool        `json:"isComplete"`
	AttachmentRef *string      `json:"attachmentRef"`
}

func (r updateTaskRequest) patch() domain.TaskPatch {
	p := domain.TaskPatch{
		Title:         r.Title,
		Description:   r.Description,
		Category:      r.Category,
		IsPublic:      r.IsPublic,
		IsComplete:    r.IsComplete,
		AttachmentRef: r.AttachmentRef,
	}
	if r.Priority != nil {
		pr := domain.Priority(*r.Priority)
		p.Priority = &pr
	}
	if r.DueDate.Set {
		if r.DueDate.Value == nil {
			p.ClearDueDate = true
		} else {
			p.DueDate = r.DueDate.Value
		}
	}
	return p
}

type listResponse struct {
	Tasks  []domain.Task  `json:"tasks"`
	Groups []query.Bucket `json:"groups"`
}

type publicListResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

// userSummary is what one caller may learn about another. Email stays private.
type userSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type userListResponse struct {
	Users []userSummary `json:"users"`
}

func createTask(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTaskRequest
		if err := c.Bind(&req); err != nil {
			return writeError(c, logger, err)
		}
		t, err := svc.Create(c.Request().Context(), principalFrom(c).ID, domain.NewTask{
			Title:         req.Title,
			Description:   req.Description,
			Priority:      domain.Priority(req.Priority),
			DueDate:       req.DueDate,
			Category:      req.Category,
			IsPublic:      req.IsPublic,
			AttachmentRef: req.AttachmentRef,
		})
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusCreated, t)
	}
}

func listTasks(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newListRequestMetrics(c.Request().Context(), logger)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		spec, err := query.ParseSpec(c.QueryParams())
		if err != nil {
			metrics.SetErrorStage("parse_query")
			return writeError(c, logger, err)
		}
		metrics.SetQuery(string(spec.SortBy), string(spec.Group))

		start := time.Now()
		res, err := svc.List(ctx, principalFrom(c).ID, spec)
		metrics.ObserveQuery(time.Since(start))
		if err != nil {
			metrics.SetErrorStage("storage")
			return writeError(c, logger, err)
		}
		metrics.SetResult(len(res.Tasks), len(res.Groups))
		return c.JSON(http.StatusOK, listResponse(res))
	}
}

func listPublicTasks(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner := strings.TrimSpace(c.Param("userId"))
		if owner == "" {
			return writeError(c, logger, domain.NewValidationError("userId", "is required"))
		}
		items, err := svc.ListPublic(c.Request().Context(), owner)
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, publicListResponse{Tasks: items})
	}
}

func listUsers(dir domain.Directory, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		users, err := dir.ListUsers(c.Request().Context())
		if err != nil {
			return writeError(c, logger, err)
		}
		out := make([]userSummary, 0, len(users))
		for _, u := range users {
			out = append(out, userSummary{ID: u.ID, Name: u.DisplayName})
		}
		return c.JSON(http.StatusOK, userListResponse{Users: out})
	}
}

func getTask(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := svc.Get(c.Request().Context(), principalFrom(c).ID, c.Param("id"))
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func updateTask(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateTaskRequest
		if err := c.Bind(&req); err != nil {
			return writeError(c, logger, err)
		}
		t, err := svc.Update(c.Request().Context(), principalFrom(c).ID, c.Param("id"), req.patch())
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func deleteTask(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.Delete(c.Request().Context(), principalFrom(c).ID, c.Param("id")); err != nil {
			return writeError(c, logger, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
