// Package task implements the bodies of the background jobs: the expiry
// sweep, the audit purge and the backup run. Every operation is callable
// both from a scheduled trigger and from a request handler; the manual
// variant threads an explicit initiator user id for audit attribution.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/mailer"
	"github.com/wgui/wgui/internal/model"
)

// NotificationHorizons are the days-before-expiry marks that trigger an
// upcoming-expiry notification, in descending order.
var NotificationHorizons = []int{30, 15, 7, 3, 1}

// A Sweep notifies about items approaching expiry and deletes expired items
// with audit attribution.
type Sweep struct {
	db       database.Client
	notifier mailer.Notifier
	log      logrus.FieldLogger

	// Now is the clock used for date math. Tests override it.
	Now func() time.Time
}

// NewSweep returns a Sweep operating on db.
func NewSweep(db database.Client, notifier mailer.Notifier, log logrus.FieldLogger) *Sweep {
	return &Sweep{
		db:       db,
		notifier: notifier,
		log:      log,
		Now:      time.Now,
	}
}

// Run executes the sweep. initiatorUserID attributes deletions to the user
// that triggered a manual run; pass 0 for scheduled runs, which are
// attributed to the system account.
//
// Deletions and their audit rows commit in a single transaction: either the
// whole sweep lands or the store is unchanged. Both notification emails are
// best-effort and never abort the sweep.
func (s *Sweep) Run(initiatorUserID int64) error {
	today := model.Day(s.Now())

	s.notifyUpcoming(today)

	expired, err := s.db.FindItemsExpiredBefore(today)
	if err != nil {
		return errors.Wrap(err, "could not list expired items")
	}
	if len(expired) == 0 {
		return nil
	}

	if err := s.notifier.Notify("Expired items removed", expiredBody(expired)); err != nil {
		s.log.WithError(err).Warn("could not send removal notification")
	}

	act, err := resolveActor(s.db, initiatorUserID)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	for _, item := range expired {
		audit := &model.AuditLog{
			UserID:     act.ID,
			ActorName:  act.Name,
			Action:     model.ActionItemDeleted,
			TargetType: "item",
			TargetID:   item.ID,
			ListID:     s.listID(item.Category),
			Details:    model.Details("category", item.Category, "data", item.Data, "reason", "expired"),
		}
		if err := tx.Save(audit); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "could not record item deletion")
		}
		if err := tx.Delete(item); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "could not delete expired item")
		}
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return err
	}

	s.log.WithField("deleted", len(expired)).Info("expiry sweep completed")
	return nil
}

// notifyUpcoming sends one combined email covering every horizon that has
// matching items. Horizon 0 does not exist: items expiring today are not
// announced and not yet deleted.
func (s *Sweep) notifyUpcoming(today time.Time) {
	var sections []string
	for _, horizon := range NotificationHorizons {
		items, err := s.db.FindItemsByDate(today.AddDate(0, 0, horizon))
		if err != nil {
			s.log.WithError(err).Warn("could not list items nearing expiry")
			return
		}
		if len(items) == 0 {
			continue
		}

		lines := make([]string, 0, len(items)+1)
		lines = append(lines, fmt.Sprintf("Expiring in %d day(s):", horizon))
		for _, item := range items {
			lines = append(lines, itemLine(item))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if len(sections) == 0 {
		return
	}

	body := strings.Join(sections, "\n\n")
	if err := s.notifier.Notify("Items expiring soon", body); err != nil {
		s.log.WithError(err).Warn("could not send expiry notification")
	}
}

func (s *Sweep) listID(category string) int64 {
	list, err := s.db.FindListByName(category)
	if err != nil {
		return 0
	}
	return list.ID
}

func expiredBody(items []*model.Item) string {
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, "The following expired items were removed:")
	for _, item := range items {
		lines = append(lines, itemLine(item))
	}
	return strings.Join(lines, "\n")
}

func itemLine(item *model.Item) string {
	return fmt.Sprintf("- %s (%s), expires %s", item.Data, item.Category, item.Date.Format("2006-01-02"))
}
