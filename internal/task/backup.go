package task

import (
	"github.com/sirupsen/logrus"
	"github.com/wgui/wgui/internal/backup"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
)

// A BackupRun writes a snapshot file and enforces file retention.
type BackupRun struct {
	db               database.Client
	files            *backup.FileManager
	log              logrus.FieldLogger
	defaultDirectory string
}

// NewBackupRun returns a BackupRun writing to the configured backup
// directory, with defaultDirectory used until BackupSettings exist.
func NewBackupRun(db database.Client, files *backup.FileManager, log logrus.FieldLogger, defaultDirectory string) *BackupRun {
	return &BackupRun{
		db:               db,
		files:            files,
		log:              log,
		defaultDirectory: defaultDirectory,
	}
}

// Run writes a backup file, records a backup_created audit row and prunes
// old files. directory overrides the configured one when non-empty.
// initiatorUserID attributes a manual run; pass 0 for scheduled runs.
// A write failure propagates before any audit row is written.
func (b *BackupRun) Run(initiatorUserID int64, directory string) (string, error) {
	settings, err := b.db.BackupSettings(b.defaultDirectory)
	if err != nil {
		return "", err
	}
	if directory == "" {
		directory = settings.Directory
	}

	path, err := b.files.Write(directory)
	if err != nil {
		return "", err
	}

	act, err := resolveActor(b.db, initiatorUserID)
	if err != nil {
		return "", err
	}

	trigger := "scheduled"
	if initiatorUserID > 0 {
		trigger = "manual"
	}
	audit := &model.AuditLog{
		UserID:     act.ID,
		ActorName:  act.Name,
		Action:     model.ActionBackupCreated,
		TargetType: "backup",
		Details:    model.Details("path", path, "trigger", trigger),
	}
	if err := b.db.Save(audit); err != nil {
		return "", err
	}

	b.files.Prune(directory, settings.Keep)

	b.log.WithField("path", path).Info("backup written")
	return path, nil
}
