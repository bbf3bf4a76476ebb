package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/task"
)

// job contains the manual job trigger handlers.
type job struct {
	db     database.Client
	runner *task.Runner
}

// RunCleanup runs the expiry sweep once, attributed to the caller.
func (h *job) RunCleanup(c echo.Context) error {
	user := currentUser(c)

	if err := h.runner.Sweep.Run(user.ID); err != nil {
		return errors.Wrap(err, "could not run cleanup job")
	}

	row := auditRow(user, model.ActionCleanupJobRun, "job", 0, 0, "trigger=manual")
	if err := h.db.Save(row); err != nil {
		return errors.Wrap(err, "could not record job run")
	}

	return c.NoContent(http.StatusNoContent)
}

// RunBackup writes a backup file once, attributed to the caller.
func (h *job) RunBackup(c echo.Context) error {
	user := currentUser(c)

	path, err := h.runner.Backup.Run(user.ID, "")
	if err != nil {
		return errors.Wrap(err, "could not run backup job")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"path": path,
	})
}

// RunAuditPurge applies the audit retention window once.
func (h *job) RunAuditPurge(c echo.Context) error {
	removed, err := h.runner.Purge.Run()
	if err != nil {
		return errors.Wrap(err, "could not run audit purge job")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"removed": removed,
	})
}
