package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/rangedl/internal/app"
	"github.com/datallboy/rangedl/internal/domain"
)

// Scheduler is the part of the job manager exposed over HTTP.
type Scheduler interface {
	Add(ctx context.Context, req domain.JobRequest) (domain.QueueItem, error)
	Get(ctx context.Context, id string) (domain.QueueItem, error)
	List() []domain.QueueItem
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

type JobsController struct {
	App       *app.Context
	Scheduler Scheduler
}

// Create queues a new download
func (ctrl *JobsController) Create(c *echo.Context) error {
	var body createJobRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	item, err := ctrl.Scheduler.Add(c.Request().Context(), body.toDomain())
	if err != nil {
		return ctrl.fail(c, err)
	}

	return c.JSON(http.StatusCreated, item)
}

func (ctrl *JobsController) List(c *echo.Context) error {
	items := ctrl.Scheduler.List()
	return c.JSON(http.StatusOK, jobListResponse{Jobs: items, Count: len(items)})
}

func (ctrl *JobsController) Get(c *echo.Context) error {
	item, err := ctrl.Scheduler.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return ctrl.fail(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (ctrl *JobsController) Pause(c *echo.Context) error {
	return ctrl.control(c, ctrl.Scheduler.Pause)
}

func (ctrl *JobsController) Resume(c *echo.Context) error {
	return ctrl.control(c, ctrl.Scheduler.Resume)
}

func (ctrl *JobsController) Delete(c *echo.Context) error {
	id := c.Param("id")
	if err := ctrl.Scheduler.Remove(c.Request().Context(), id); err != nil {
		return ctrl.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// control runs a state change and answers with the item's new state.
func (ctrl *JobsController) control(c *echo.Context, fn func(context.Context, string) error) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	if err := fn(ctx, id); err != nil {
		return ctrl.fail(c, err)
	}

	item, err := ctrl.Scheduler.Get(ctx, id)
	if err != nil {
		return ctrl.fail(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (ctrl *JobsController) fail(c *echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrJobFinished):
		status = http.StatusConflict
	default:
		ctrl.App.Logger.Error("API %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}
