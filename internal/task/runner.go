package task

import (
	"github.com/sirupsen/logrus"
	"github.com/wgui/wgui/internal/backup"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/mailer"
	"github.com/wgui/wgui/internal/scheduler"
)

// A Runner owns the background jobs and keeps the scheduler aligned with
// the stored schedule settings.
type Runner struct {
	Scheduler *scheduler.Scheduler
	Sweep     *Sweep
	Purge     *Purge
	Backup    *BackupRun

	db    database.Client
	files *backup.FileManager
	log   logrus.FieldLogger
}

// NewRunner wires the three daily jobs against the given database.
// backupDirectory is used until BackupSettings exist.
func NewRunner(db database.Client, sched *scheduler.Scheduler, notifier mailer.Notifier, log logrus.FieldLogger, backupDirectory string) *Runner {
	files := backup.NewFileManager(db, log)

	return &Runner{
		Scheduler: sched,
		Sweep:     NewSweep(db, notifier, log),
		Purge:     NewPurge(db, log),
		Backup:    NewBackupRun(db, files, log, backupDirectory),
		db:        db,
		files:     files,
		log:       log,
	}
}

// Files returns the backup file manager shared with the backup job.
func (r *Runner) Files() *backup.FileManager {
	return r.files
}

// Sync registers or replaces the three jobs from the stored schedule
// settings. It is called at startup, after a schedule update and after a
// backup restore.
func (r *Runner) Sync() error {
	settings, err := r.db.ScheduleSettings()
	if err != nil {
		return err
	}

	err = r.Scheduler.RegisterOrReplace(scheduler.CleanupJob, settings.Hour, settings.Minute, func() error {
		return r.Sweep.Run(0)
	})
	if err != nil {
		return err
	}

	err = r.Scheduler.RegisterOrReplace(scheduler.BackupJob, settings.BackupHour, settings.BackupMinute, func() error {
		_, err := r.Backup.Run(0, "")
		return err
	})
	if err != nil {
		return err
	}

	return r.Scheduler.RegisterOrReplace(scheduler.AuditPurgeJob, settings.AuditHour, settings.AuditMinute, func() error {
		_, err := r.Purge.Run()
		return err
	})
}
