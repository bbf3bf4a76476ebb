package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/wgui/wgui/internal/backup"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/task"
	"github.com/wgui/wgui/internal/wgerror"
)

// backups contains the snapshot download and restore handlers.
type backups struct {
	db               database.Client
	runner           *task.Runner
	log              logrus.FieldLogger
	defaultDirectory string
}

// Download serves the current snapshot as an attachment.
func (h *backups) Download(c echo.Context) error {
	payload, err := backup.Export(h.db)
	if err != nil {
		return errors.Wrap(err, "could not export snapshot")
	}
	document, err := backup.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "could not marshal snapshot")
	}

	filename := fmt.Sprintf("wgui-backup-%s.json", time.Now().UTC().Format("20060102-150405"))

	// The download already happened from the database's point of view, so a
	// failed audit write only gets logged.
	row := auditRow(currentUser(c), model.ActionBackupDownloaded, "backup", 0, 0,
		model.Details("filename", filename))
	if err := h.db.Save(row); err != nil {
		h.log.WithError(err).Warn("could not record backup download")
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%s", filename))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, document)
}

// Restore replaces the whole database with an uploaded snapshot, then
// reschedules the jobs from the restored settings.
func (h *backups) Restore(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return wgerror.NewValidation("No backup file uploaded.")
	}

	src, err := file.Open()
	if err != nil {
		return errors.Wrap(err, "could not open upload")
	}
	defer src.Close()

	document, err := io.ReadAll(src)
	if err != nil {
		return errors.Wrap(err, "could not read upload")
	}

	payload, err := backup.Restore(h.db, document, h.defaultDirectory)
	if err != nil {
		return err
	}

	if err := h.runner.Sync(); err != nil {
		h.log.WithError(err).Error("could not reschedule jobs after restore")
	}

	// The restore wiped the audit trail, so the summary row is the first
	// entry of the new one. The acting user may not exist in the restored
	// data anymore; the snapshot of its name still tells who did it.
	row := auditRow(currentUser(c), model.ActionBackupRestored, "backup", 0, 0,
		model.Details(
			"users", fmt.Sprint(len(payload.Users)),
			"lists", fmt.Sprint(len(payload.Lists)),
			"items", fmt.Sprint(len(payload.Items)),
			"audits", fmt.Sprint(len(payload.Audits)),
		))
	if err := h.db.Save(row); err != nil {
		h.log.WithError(err).Warn("could not record restore")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"users":  len(payload.Users),
		"lists":  len(payload.Lists),
		"items":  len(payload.Items),
		"audits": len(payload.Audits),
	})
}
