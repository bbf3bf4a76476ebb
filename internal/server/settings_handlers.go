package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/scheduler"
	"github.com/wgui/wgui/internal/task"
	"github.com/wgui/wgui/internal/wgerror"
)

// setting contains the admin settings handlers.
type setting struct {
	db     database.Client
	runner *task.Runner
	// backupDirectory is used until BackupSettings exist.
	backupDirectory string
}

///// Email settings
////
//

// Email returns the SMTP settings. The password is never rendered.
func (h *setting) Email(c echo.Context) error {
	settings, err := h.db.EmailSettings()
	if err != nil {
		return errors.Wrap(err, "could not load email settings")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"email_settings": settings,
		"smtp_pass_set":  settings.SMTPPass != "",
	})
}

// UpdateEmail updates the SMTP settings. The audit entry records changed
// fields; the password only as a masked updated marker.
func (h *setting) UpdateEmail(c echo.Context) error {
	var params struct {
		FromEmail  string `json:"from_email"`
		ToEmail    string `json:"to_email"`
		SMTPServer string `json:"smtp_server"`
		SMTPPort   int    `json:"smtp_port"`
		SMTPUser   string `json:"smtp_user"`
		SMTPPass   string `json:"smtp_pass"`
	}
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, wgerror.New("Could not get parameters."))
	}

	if params.FromEmail == "" || params.ToEmail == "" || params.SMTPServer == "" {
		return wgerror.NewValidation("From, to and SMTP server are required.")
	}
	if params.SMTPPort < 1 || params.SMTPPort > 65535 {
		return wgerror.NewValidation("Invalid SMTP port.")
	}

	settings, err := h.db.EmailSettings()
	if err != nil {
		return errors.Wrap(err, "could not load email settings")
	}

	var changes []string
	change := func(field, old, new string) {
		if old != new {
			changes = append(changes, fmt.Sprintf("%s:%s->%s", field, old, new))
		}
	}
	change("from_email", settings.FromEmail, params.FromEmail)
	change("to_email", settings.ToEmail, params.ToEmail)
	change("smtp_server", settings.SMTPServer, params.SMTPServer)
	change("smtp_port", fmt.Sprint(settings.SMTPPort), fmt.Sprint(params.SMTPPort))
	change("smtp_user", settings.SMTPUser, params.SMTPUser)
	if (settings.SMTPPass != "") != (params.SMTPPass != "") {
		changes = append(changes, "smtp_pass:updated")
	}

	settings.FromEmail = params.FromEmail
	settings.ToEmail = params.ToEmail
	settings.SMTPServer = params.SMTPServer
	settings.SMTPPort = params.SMTPPort
	settings.SMTPUser = params.SMTPUser
	settings.SMTPPass = params.SMTPPass

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	if err := tx.Save(settings); err != nil {
		return errors.Wrap(err, "could not update email settings")
	}

	row := auditRow(currentUser(c), model.ActionEmailSettingsUpdated, "email", settings.ID, 0,
		strings.Join(changes, "; "))
	if err := tx.Save(row); err != nil {
		return errors.Wrap(err, "could not record settings update")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit settings update")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"email_settings": settings,
	})
}

///// Schedules
////
//

// Schedule returns the three job schedules, their next fire times and the
// latest backup on disk.
func (h *setting) Schedule(c echo.Context) error {
	settings, err := h.db.ScheduleSettings()
	if err != nil {
		return errors.Wrap(err, "could not load schedule settings")
	}
	auditCfg, err := h.db.AuditSettings()
	if err != nil {
		return errors.Wrap(err, "could not load audit settings")
	}
	backupCfg, err := h.db.BackupSettings(h.backupDirectory)
	if err != nil {
		return errors.Wrap(err, "could not load backup settings")
	}

	latestPath, latestTime := h.runner.Files().Latest(backupCfg.Directory)
	latest := echo.Map{}
	if latestPath != "" {
		latest = echo.Map{
			"path":       latestPath,
			"created_at": latestTime.UTC().Format(time.RFC3339),
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"cleanup": echo.Map{
			"hour":   settings.Hour,
			"minute": settings.Minute,
			"next":   h.nextFireTime(scheduler.CleanupJob, settings.Hour, settings.Minute),
		},
		"backup": echo.Map{
			"hour":      settings.BackupHour,
			"minute":    settings.BackupMinute,
			"next":      h.nextFireTime(scheduler.BackupJob, settings.BackupHour, settings.BackupMinute),
			"keep":      backupCfg.Keep,
			"directory": backupCfg.Directory,
			"latest":    latest,
		},
		"audit": echo.Map{
			"hour":           settings.AuditHour,
			"minute":         settings.AuditMinute,
			"next":           h.nextFireTime(scheduler.AuditPurgeJob, settings.AuditHour, settings.AuditMinute),
			"retention_days": auditCfg.RetentionDays,
		},
	})
}

// UpdateCleanupSchedule moves the daily expiry sweep trigger.
func (h *setting) UpdateCleanupSchedule(c echo.Context) error {
	var params struct {
		Hour   int `json:"hour"`
		Minute int `json:"minute"`
	}
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, wgerror.New("Could not get parameters."))
	}
	if err := validTime(params.Hour, params.Minute); err != nil {
		return err
	}

	settings, err := h.db.ScheduleSettings()
	if err != nil {
		return errors.Wrap(err, "could not load schedule settings")
	}
	if settings.BackupHour == params.Hour && settings.BackupMinute == params.Minute {
		return wgerror.NewValidation("Cleanup time must differ from backup time.")
	}

	oldHour, oldMinute := settings.Hour, settings.Minute
	settings.Hour = params.Hour
	settings.Minute = params.Minute

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	if err := tx.Save(settings); err != nil {
		return errors.Wrap(err, "could not update schedule")
	}

	if oldHour != settings.Hour || oldMinute != settings.Minute {
		row := auditRow(currentUser(c), model.ActionScheduleUpdated, "schedule", settings.ID, 0,
			timeChange(oldHour, oldMinute, settings.Hour, settings.Minute))
		if err := tx.Save(row); err != nil {
			return errors.Wrap(err, "could not record schedule update")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit schedule update")
	}

	if err := h.runner.Sync(); err != nil {
		return errors.Wrap(err, "could not reschedule jobs")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"schedule_settings": settings,
	})
}

// UpdateBackupSchedule moves the daily backup trigger and file retention.
func (h *setting) UpdateBackupSchedule(c echo.Context) error {
	var params struct {
		Hour   int `json:"hour"`
		Minute int `json:"minute"`
		Keep   int `json:"keep"`
	}
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, wgerror.New("Could not get parameters."))
	}
	if err := validTime(params.Hour, params.Minute); err != nil {
		return err
	}
	if params.Keep < 1 {
		return wgerror.NewValidation("Keep must be at least 1.")
	}

	settings, err := h.db.ScheduleSettings()
	if err != nil {
		return errors.Wrap(err, "could not load schedule settings")
	}
	if settings.Hour == params.Hour && settings.Minute == params.Minute {
		return wgerror.NewValidation("Backup time must differ from cleanup time.")
	}

	backupCfg, err := h.db.BackupSettings(h.backupDirectory)
	if err != nil {
		return errors.Wrap(err, "could not load backup settings")
	}

	oldHour, oldMinute := settings.BackupHour, settings.BackupMinute
	oldKeep := backupCfg.Keep
	settings.BackupHour = params.Hour
	settings.BackupMinute = params.Minute
	backupCfg.Keep = params.Keep

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	if err := tx.Save(settings); err != nil {
		return errors.Wrap(err, "could not update schedule")
	}
	if err := tx.Save(backupCfg); err != nil {
		return errors.Wrap(err, "could not update backup settings")
	}

	acting := currentUser(c)
	if oldHour != settings.BackupHour || oldMinute != settings.BackupMinute {
		row := auditRow(acting, model.ActionBackupScheduleUpdated, "schedule", settings.ID, 0,
			timeChange(oldHour, oldMinute, settings.BackupHour, settings.BackupMinute))
		if err := tx.Save(row); err != nil {
			return errors.Wrap(err, "could not record schedule update")
		}
	}
	if oldKeep != backupCfg.Keep {
		row := auditRow(acting, model.ActionBackupSettingsUpdated, "backup", backupCfg.ID, 0,
			fmt.Sprintf("keep:%d->%d", oldKeep, backupCfg.Keep))
		if err := tx.Save(row); err != nil {
			return errors.Wrap(err, "could not record retention update")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit schedule update")
	}

	if err := h.runner.Sync(); err != nil {
		return errors.Wrap(err, "could not reschedule jobs")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"schedule_settings": settings,
		"backup_settings":   backupCfg,
	})
}

// UpdateAuditSchedule moves the daily purge trigger and the retention window.
func (h *setting) UpdateAuditSchedule(c echo.Context) error {
	var params struct {
		Hour          int `json:"hour"`
		Minute        int `json:"minute"`
		RetentionDays int `json:"retention_days"`
	}
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, wgerror.New("Could not get parameters."))
	}
	if err := validTime(params.Hour, params.Minute); err != nil {
		return err
	}
	if params.RetentionDays < 1 {
		return wgerror.NewValidation("Retention must be at least 1 day.")
	}

	settings, err := h.db.ScheduleSettings()
	if err != nil {
		return errors.Wrap(err, "could not load schedule settings")
	}
	auditCfg, err := h.db.AuditSettings()
	if err != nil {
		return errors.Wrap(err, "could not load audit settings")
	}

	oldHour, oldMinute := settings.AuditHour, settings.AuditMinute
	oldRetention := auditCfg.RetentionDays
	settings.AuditHour = params.Hour
	settings.AuditMinute = params.Minute
	auditCfg.RetentionDays = params.RetentionDays

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	if err := tx.Save(settings); err != nil {
		return errors.Wrap(err, "could not update schedule")
	}
	if err := tx.Save(auditCfg); err != nil {
		return errors.Wrap(err, "could not update audit settings")
	}

	acting := currentUser(c)
	if oldHour != settings.AuditHour || oldMinute != settings.AuditMinute {
		row := auditRow(acting, model.ActionAuditScheduleUpdated, "schedule", settings.ID, 0,
			timeChange(oldHour, oldMinute, settings.AuditHour, settings.AuditMinute))
		if err := tx.Save(row); err != nil {
			return errors.Wrap(err, "could not record schedule update")
		}
	}
	if oldRetention != auditCfg.RetentionDays {
		row := auditRow(acting, model.ActionAuditRetentionUpdated, "audit", auditCfg.ID, 0,
			fmt.Sprintf("retention_days:%d->%d", oldRetention, auditCfg.RetentionDays))
		if err := tx.Save(row); err != nil {
			return errors.Wrap(err, "could not record retention update")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit schedule update")
	}

	if err := h.runner.Sync(); err != nil {
		return errors.Wrap(err, "could not reschedule jobs")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"schedule_settings": settings,
		"audit_settings":    auditCfg,
	})
}

// nextFireTime asks the scheduler, falling back to a computed next
// occurrence when the job is not registered.
func (h *setting) nextFireTime(jobID string, hour, minute int) string {
	next := h.runner.Scheduler.NextFireTime(jobID)
	if next.IsZero() {
		next = scheduler.NextDaily(time.Now().UTC(), hour, minute)
	}
	return next.UTC().Format(time.RFC3339)
}

func validTime(hour, minute int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return wgerror.NewValidation(fmt.Sprintf("Invalid time %02d:%02d.", hour, minute))
	}
	return nil
}

func timeChange(oldHour, oldMinute, hour, minute int) string {
	return fmt.Sprintf("time:%02d:%02d->%02d:%02d", oldHour, oldMinute, hour, minute)
}
