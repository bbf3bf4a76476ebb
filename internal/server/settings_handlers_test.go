package server_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/appleboy/gofight/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/scheduler"
)

func TestEmailSettings(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "admin", "password42", true)
	auth := env.authorize(t, admin)

	env.r.GET("/admin/settings/email").SetHeader(auth).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusOK, r.Code)

			body := decode(t, r)
			settings := body["email_settings"].(map[string]interface{})
			assert.Equal(t, "test@example.com", settings["from_email"])
			assert.Equal(t, false, body["smtp_pass_set"])
			assert.NotContains(t, r.Body.String(), "smtp_pass\"")
		})

	env.r.PUT("/admin/settings/email").SetHeader(auth).
		SetJSON(gofight.D{
			"from_email":  "wgui@corp.lan",
			"to_email":    "ops@corp.lan, sec@corp.lan",
			"smtp_server": "mail.corp.lan",
			"smtp_port":   587,
			"smtp_user":   "wgui",
			"smtp_pass":   "hunter2",
		}).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusOK, r.Code)
		})

	settings, err := env.db.EmailSettings()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", settings.SMTPPass)
	assert.Equal(t, []string{"ops@corp.lan", "sec@corp.lan"}, settings.Recipients())

	rows := env.auditsByAction(t, "email_settings_updated")
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Details, "from_email:test@example.com->wgui@corp.lan")
	assert.Contains(t, rows[0].Details, "smtp_pass:updated")
	assert.NotContains(t, rows[0].Details, "hunter2")

	env.r.PUT("/admin/settings/email").SetHeader(auth).
		SetJSON(gofight.D{"from_email": "a@b", "to_email": "c@d", "smtp_server": "s", "smtp_port": 0}).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusUnprocessableEntity, r.Code)
		})
}

func TestScheduleShow(t *testing.T) {
	env := setup(t)
	require.NoError(t, env.runner.Sync())
	admin := env.createUser(t, "admin", "password42", true)

	env.r.GET("/admin/schedule").SetHeader(env.authorize(t, admin)).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusOK, r.Code)

			body := decode(t, r)
			cleanup := body["cleanup"].(map[string]interface{})
			assert.Equal(t, float64(0), cleanup["hour"])
			assert.NotEmpty(t, cleanup["next"])

			backup := body["backup"].(map[string]interface{})
			assert.Equal(t, float64(model.DefaultBackupKeep), backup["keep"])
			assert.Empty(t, backup["latest"])

			audit := body["audit"].(map[string]interface{})
			assert.Equal(t, float64(model.DefaultAuditRetentionDays), audit["retention_days"])
		})
}

func TestScheduleUpdateCleanup(t *testing.T) {
	env := setup(t)
	require.NoError(t, env.runner.Sync())
	env.runner.Scheduler.Start()
	defer env.runner.Scheduler.Shutdown()
	admin := env.createUser(t, "admin", "password42", true)
	auth := env.authorize(t, admin)

	env.r.PUT("/admin/schedule/cleanup").SetHeader(auth).
		SetJSON(gofight.D{"hour": 3, "minute": 30}).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusOK, r.Code)
		})

	settings, err := env.db.ScheduleSettings()
	require.NoError(t, err)
	assert.Equal(t, 3, settings.Hour)
	assert.Equal(t, 30, settings.Minute)

	rows := env.auditsByAction(t, "schedule_updated")
	require.Len(t, rows, 1)
	assert.Equal(t, "time:00:00->03:30", rows[0].Details)

	// The scheduler follows the new trigger.
	next := env.runner.Scheduler.NextFireTime(scheduler.CleanupJob)
	assert.Equal(t, 3, next.UTC().Hour())
	assert.Equal(t, 30, next.UTC().Minute())

	// Saving the same time again adds no audit noise.
	env.r.PUT("/admin/schedule/cleanup").SetHeader(auth).
		SetJSON(gofight.D{"hour": 3, "minute": 30}).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusOK, r.Code)
		})
	assert.Len(t, env.auditsByAction(t, "schedule_updated"), 1)

	env.r.PUT("/admin/schedule/cleanup").SetHeader(auth).
		SetJSON(gofight.D{"hour": 24, "minute": 0}).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusUnprocessableEntity, r.Code)
		})
}

func TestScheduleCleanupBackupConflict(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "admin", "password42", true)
	auth := env.authorize(t, admin)

	env.r.PUT("/admin/schedule/backup").SetHeader(auth).
		SetJSON(gofight.D{"hour": 2, "minute": 0, "keep": 5}).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusOK, r.Code)
		})

	env.r.PUT("/admin/schedule/cleanup").SetHeader(auth).
		SetJSON(gofight.D{"hour": 2, "minute": 0}).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusUnprocessableEntity, r.Code)
			assert.Contains(t, r.Body.String(), "must differ")
		})

	// And the other way around: the backup cannot move onto the cleanup time.
	env.r.PUT("/admin/schedule/backup").SetHeader(auth).
		SetJSON(gofight.D{"hour": 0, "minute": 0, "keep": 5}).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusUnprocessableEntity, r.Code)
		})

	rows := env.auditsByAction(t, "backup_settings_updated")
	require.Len(t, rows, 1)
	assert.Equal(t, "keep:3->5", rows[0].Details)
}

func TestScheduleUpdateAudit(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "admin", "password42", true)
	auth := env.authorize(t, admin)

	env.r.PUT("/admin/schedule/audit").SetHeader(auth).
		SetJSON(gofight.D{"hour": 4, "minute": 15, "retention_days": 30}).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusOK, r.Code)
		})

	auditCfg, err := env.db.AuditSettings()
	require.NoError(t, err)
	assert.Equal(t, 30, auditCfg.RetentionDays)

	require.Len(t, env.auditsByAction(t, "audit_schedule_updated"), 1)
	rows := env.auditsByAction(t, "audit_retention_updated")
	require.Len(t, rows, 1)
	assert.Equal(t, "retention_days:90->30", rows[0].Details)

	env.r.PUT("/admin/schedule/audit").SetHeader(auth).
		SetJSON(gofight.D{"hour": 4, "minute": 15, "retention_days": 0}).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusUnprocessableEntity, r.Code)
		})
}

func TestRunCleanupNow(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "admin", "password42", true)
	env.createList(t, "IP Test", model.TypeIP)
	expired := env.createItem(t, "IP Test", "1.1.1.1", time.Now().AddDate(0, 0, -2))
	env.createItem(t, "IP Test", "2.2.2.2", time.Now().AddDate(0, 0, 30))

	env.r.POST("/admin/schedule/run").SetHeader(env.authorize(t, admin)).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusNoContent, r.Code)
		})

	_, err := env.db.FindItem(expired.ID)
	assert.True(t, env.db.IsNotFound(err))

	deleted := env.auditsByAction(t, "item_deleted")
	require.Len(t, deleted, 1)
	assert.Equal(t, admin.ID, deleted[0].UserID)

	runs := env.auditsByAction(t, "cleanup_job_run")
	require.Len(t, runs, 1)
	assert.Equal(t, "trigger=manual", runs[0].Details)
}

func TestRunBackupNow(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "admin", "password42", true)

	env.r.POST("/admin/schedule/backup/run").SetHeader(env.authorize(t, admin)).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusOK, r.Code)
			assert.Contains(t, decode(t, r)["path"], "wgui-backup-")
		})

	rows := env.auditsByAction(t, "backup_created")
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Details, "trigger=manual")
	assert.Equal(t, admin.ID, rows[0].UserID)
}

func TestRunAuditPurgeNow(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "admin", "password42", true)

	env.r.POST("/admin/schedule/audit/run").SetHeader(env.authorize(t, admin)).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusOK, r.Code)
			assert.Equal(t, float64(0), decode(t, r)["removed"])
		})

	require.Len(t, env.auditsByAction(t, "audit_purge_run"), 1)
}
