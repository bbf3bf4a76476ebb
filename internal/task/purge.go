package task

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
)

// A Purge bounds audit log growth by the retention policy in AuditSettings.
type Purge struct {
	db  database.Client
	log logrus.FieldLogger

	// Now is the clock used for the cutoff. Tests override it.
	Now func() time.Time
}

// NewPurge returns a Purge operating on db.
func NewPurge(db database.Client, log logrus.FieldLogger) *Purge {
	return &Purge{
		db:  db,
		log: log,
		Now: time.Now,
	}
}

// Run deletes every audit row older than the retention window and records
// one audit_purge_run summary row. Delete and summary are a single
// transaction: a failure rolls back the whole purge and no summary is
// written. The summary row is timestamped now, so it survives the run that
// created it.
func (p *Purge) Run() (int, error) {
	settings, err := p.db.AuditSettings()
	if err != nil {
		return 0, err
	}
	retention := settings.RetentionDays
	if retention <= 0 {
		retention = model.DefaultAuditRetentionDays
	}
	cutoff := p.Now().UTC().AddDate(0, 0, -retention)

	act, err := resolveActor(p.db, 0)
	if err != nil {
		return 0, err
	}

	tx, err := p.db.Begin()
	if err != nil {
		return 0, err
	}

	removed, err := tx.DeleteAuditsBefore(cutoff)
	if err != nil {
		tx.Rollback()
		return 0, errors.Wrap(err, "could not purge audit rows")
	}

	summary := &model.AuditLog{
		UserID:     act.ID,
		ActorName:  act.Name,
		Action:     model.ActionAuditPurgeRun,
		TargetType: "audit",
		Details:    model.Details("removed", strconv.Itoa(removed), "retention_days", strconv.Itoa(retention)),
	}
	if err := tx.Save(summary); err != nil {
		tx.Rollback()
		return 0, errors.Wrap(err, "could not record purge summary")
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return 0, err
	}

	p.log.WithField("removed", removed).Info("audit purge completed")
	return removed, nil
}
