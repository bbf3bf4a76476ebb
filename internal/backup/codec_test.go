package backup_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wgui/wgui/internal/backup"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/wgerror"
)

// failingClient hands out transactions whose nth Insert fails, leaving the
// commit unreached.
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
	failOn  int
	inserts int
}

func (t *failingTx) Insert(m model.Model) error {
	t.inserts++
	if t.inserts == t.failOn {
		return errors.New("disk full")
	}
	return t.Tx.Insert(m)
}

func testDB(t *testing.T) database.Client {
	t.Helper()

	db, err := database.StormOpen(filepath.Join(t.TempDir(), "wgui.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func seed(t *testing.T, db database.Client) {
	t.Helper()

	admin := model.NewUser()
	admin.Username = "admin"
	admin.Email = "admin@example.com"
	admin.HashedPassword = "argon2-hash"
	admin.Admin = true
	require.NoError(t, db.Save(admin))

	list := &model.List{Name: "IP Test", Type: model.TypeIP}
	require.NoError(t, db.Save(list))

	item := &model.Item{
		Category:    "IP Test",
		Data:        "1.1.1.1",
		Description: "scanner",
		Date:        time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC),
		CreatorID:   admin.ID,
	}
	require.NoError(t, db.Save(item))

	audit := &model.AuditLog{
		UserID:     admin.ID,
		ActorName:  "admin",
		Action:     model.ActionItemAdded,
		TargetType: "item",
		TargetID:   item.ID,
		ListID:     list.ID,
		Details:    "category=IP Test; data=1.1.1.1",
	}
	require.NoError(t, db.Save(audit))

	// Force the lazily-created settings rows into existence.
	_, err := db.EmailSettings()
	require.NoError(t, err)
	_, err = db.ScheduleSettings()
	require.NoError(t, err)
	_, err = db.AuditSettings()
	require.NoError(t, err)
	_, err = db.BackupSettings("/tmp/backups")
	require.NoError(t, err)
}

func TestExportShape(t *testing.T) {
	db := testDB(t)
	seed(t, db)

	payload, err := backup.Export(db)
	require.NoError(t, err)

	assert.Equal(t, backup.Version, payload.Version)
	assert.NotEmpty(t, payload.CreatedAt)
	require.Len(t, payload.Users, 1)
	require.Len(t, payload.Lists, 1)
	require.Len(t, payload.Items, 1)
	require.Len(t, payload.Audits, 1)
	assert.Equal(t, "2025-06-13", payload.Items[0].Date)

	// The local directory path is never exported, only the retention count.
	require.NotNil(t, payload.BackupSettings)
	assert.Equal(t, model.DefaultBackupKeep, payload.BackupSettings.Keep)
}

func TestExportDeterministic(t *testing.T) {
	db := testDB(t)
	seed(t, db)

	first, err := backup.Export(db)
	require.NoError(t, err)
	second, err := backup.Export(db)
	require.NoError(t, err)

	first.CreatedAt = ""
	second.CreatedAt = ""

	a, err := backup.Marshal(first)
	require.NoError(t, err)
	b, err := backup.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRestoreRoundTrip(t *testing.T) {
	source := testDB(t)
	seed(t, source)

	payload, err := backup.Export(source)
	require.NoError(t, err)
	document, err := backup.Marshal(payload)
	require.NoError(t, err)

	target := testDB(t)
	_, err = backup.Restore(target, document, "/tmp/backups")
	require.NoError(t, err)

	users, err := target.AllUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(1), users[0].ID)
	assert.Equal(t, "admin", users[0].Username)
	assert.Equal(t, "argon2-hash", users[0].HashedPassword)
	assert.True(t, users[0].Admin)

	lists, err := target.AllLists()
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, "IP Test", lists[0].Name)

	items, err := target.AllItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1.1.1.1", items[0].Data)
	assert.Equal(t, time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC), items[0].Date.UTC())
	assert.Equal(t, users[0].ID, items[0].CreatorID)

	audits, err := target.AllAudits()
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, model.ActionItemAdded, audits[0].Action)
	assert.Equal(t, "admin", audits[0].ActorName)

	// Restoring the same document again is a replace, not a merge.
	_, err = backup.Restore(target, document, "/tmp/backups")
	require.NoError(t, err)
	users, err = target.AllUsers()
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestRestoreAdvancesIDCounters(t *testing.T) {
	source := testDB(t)
	seed(t, source)

	second := &model.Item{
		Category: "IP Test",
		Data:     "2.2.2.2",
		Date:     time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, source.Save(second))
	require.Equal(t, int64(2), second.ID)

	document, err := backup.Marshal(mustExport(t, source))
	require.NoError(t, err)

	// A fresh store has never handed out an id. After the restore, saves
	// must continue above the restored ids instead of reusing them.
	target := testDB(t)
	_, err = backup.Restore(target, document, "/tmp/backups")
	require.NoError(t, err)

	item := &model.Item{
		Category: "IP Test",
		Data:     "3.3.3.3",
		Date:     time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, target.Save(item))
	assert.Equal(t, int64(3), item.ID)

	items, err := target.AllItems()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "1.1.1.1", items[0].Data)
	assert.Equal(t, "2.2.2.2", items[1].Data)
	assert.Equal(t, "3.3.3.3", items[2].Data)

	user := model.NewUser()
	user.Username = "francis"
	user.Email = "francis@example.com"
	require.NoError(t, target.Save(user))
	assert.Equal(t, int64(2), user.ID)

	// The audit row written right after a restore must not land on a
	// restored one either.
	audit := &model.AuditLog{ActorName: "admin", Action: model.ActionBackupRestored}
	require.NoError(t, target.Save(audit))

	audits, err := target.AllAudits()
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, model.ActionItemAdded, audits[0].Action)
	assert.Equal(t, model.ActionBackupRestored, audits[1].Action)
}

func TestRestoreIsDestructive(t *testing.T) {
	source := testDB(t)
	seed(t, source)
	document, err := backup.Marshal(mustExport(t, source))
	require.NoError(t, err)

	target := testDB(t)
	stale := &model.Item{Category: "Old", Data: "9.9.9.9", Date: time.Now()}
	require.NoError(t, target.Save(stale))

	_, err = backup.Restore(target, document, "/tmp/backups")
	require.NoError(t, err)

	items, err := target.AllItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1.1.1.1", items[0].Data)
}

func TestRestoreAcceptsTimestampDates(t *testing.T) {
	db := testDB(t)

	document := []byte(`{
		"version": 1,
		"created_at": "2025-06-14T00:00:00Z",
		"users": [],
		"lists": [],
		"items": [{"id": 1, "category": "IP Test", "data": "1.1.1.1", "description": null, "date": "2025-06-13T10:30:00Z", "creator_id": null}],
		"email_settings": null,
		"schedule_settings": null,
		"audit_settings": null,
		"backup_settings": null,
		"audits": []
	}`)

	_, err := backup.Restore(db, document, "/tmp/backups")
	require.NoError(t, err)

	items, err := db.AllItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC), items[0].Date.UTC())
}

func TestRestoreRollsBackOnTransactionFailure(t *testing.T) {
	source := testDB(t)
	seed(t, source)
	document, err := backup.Marshal(mustExport(t, source))
	require.NoError(t, err)

	target := testDB(t)
	keeper := &model.List{Name: "Keeper", Type: model.TypeString}
	require.NoError(t, target.Save(keeper))

	// The wipe and the first insert land inside the transaction, then the
	// second insert fails. The wipe must roll back with them.
	_, err = backup.Restore(&failingClient{Client: target, failOn: 2}, document, "/tmp/backups")
	require.Error(t, err)
	assert.False(t, wgerror.IsValidation(err))

	lists, err := target.AllLists()
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, "Keeper", lists[0].Name)

	users, err := target.AllUsers()
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRestoreRejectsInvalidDocuments(t *testing.T) {
	documents := map[string][]byte{
		"not json":          []byte(`{invalid`),
		"not an object":     []byte(`[1,2,3]`),
		"missing items":     []byte(`{"version":1,"created_at":"2025-06-14T00:00:00Z","users":[],"lists":[],"audits":[]}`),
		"wrong version":     []byte(`{"version":2,"created_at":"2025-06-14T00:00:00Z","users":[],"lists":[],"items":[],"audits":[]}`),
		"string smtp_port":  []byte(`{"version":1,"created_at":"2025-06-14T00:00:00Z","users":[],"lists":[],"items":[],"email_settings":{"id":1,"from_email":"a@b","to_email":"c@d","smtp_server":"localhost","smtp_port":"25"},"audits":[]}`),
		"settings as array": []byte(`{"version":1,"created_at":"2025-06-14T00:00:00Z","users":[],"lists":[],"items":[],"schedule_settings":[],"audits":[]}`),
	}

	for name, document := range documents {
		t.Run(name, func(t *testing.T) {
			db := testDB(t)
			seed(t, db)
			before := mustExport(t, db)
			before.CreatedAt = ""

			_, err := backup.Restore(db, document, "/tmp/backups")
			require.Error(t, err)
			assert.True(t, wgerror.IsValidation(err), "expected a validation error, got %v", err)

			// The store is completely unchanged.
			after := mustExport(t, db)
			after.CreatedAt = ""
			assert.Equal(t, before, after)
		})
	}
}

func mustExport(t *testing.T, db database.Client) *backup.Payload {
	t.Helper()

	payload, err := backup.Export(db)
	require.NoError(t, err)
	return payload
}
