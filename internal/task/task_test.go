package task_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
)

type mail struct {
	subject string
	body    string
}

type stubNotifier struct {
	mails []mail
	err   error
}

func (n *stubNotifier) Notify(subject, body string) error {
	n.mails = append(n.mails, mail{subject: subject, body: body})
	return n.err
}

func (n *stubNotifier) subjects() []string {
	var subjects []string
	for _, m := range n.mails {
		subjects = append(subjects, m.subject)
	}
	return subjects
}

// failingClient hands out transactions whose nth Save fails, so the commit
// is never reached. Reads and writes outside a transaction pass through.
type failingClient struct {
	database.Client
	failOn int
}

func (c *failingClient) Begin() (database.Tx, error) {
	tx, err := c.Client.Begin()
	if err != nil {
		return nil, err
	}
	return &failingTx{Tx: tx, failOn: c.failOn}, nil
}

type failingTx struct {
	database.Tx
	failOn int
	saves  int
}

func (t *failingTx) Save(m model.Model) error {
	t.saves++
	if t.saves == t.failOn {
		return errors.New("disk full")
	}
	return t.Tx.Save(m)
}

func testDB(t *testing.T) database.Client {
	t.Helper()

	db, err := database.StormOpen(filepath.Join(t.TempDir(), "wgui.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func createItem(t *testing.T, db database.Client, category, data string, date time.Time) *model.Item {
	t.Helper()

	item := &model.Item{
		Category: category,
		Data:     data,
		Date:     model.Day(date),
	}
	require.NoError(t, db.Save(item))
	return item
}

func auditsByAction(t *testing.T, db database.Client, action string) []*model.AuditLog {
	t.Helper()

	all, err := db.AllAudits()
	require.NoError(t, err)

	var matched []*model.AuditLog
	for _, a := range all {
		if a.Action == action {
			matched = append(matched, a)
		}
	}
	return matched
}
