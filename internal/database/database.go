package database

import (
	"time"

	"github.com/wgui/wgui/internal/model"
)

type (
	// A Client can interact with the database.
	Client interface {
		// Save inserts or updates the entry in database with the given model.
		// A zero ID is assigned by the database.
		Save(m model.Model) error
		// Insert inserts the entry as-is, preserving an explicit ID.
		// It is used by the backup restore. The auto increment counter is
		// not advanced; see SetIDCounter.
		Insert(m model.Model) error
		// SetIDCounter sets the auto increment counter of the model's
		// bucket so the next Save with a zero ID is assigned id+1. Callers
		// inserting explicit ids must push the counter past the highest
		// one, or a later Save reuses an id that is already taken.
		SetIDCounter(m model.Model, id int64) error
		// Delete deletes the entry in database with the given model.
		Delete(m model.Model) error
		// DeleteAll deletes every entry of the given model's type.
		DeleteAll(m model.Model) error
		// Close the database.
		Close() error
		// IsNotFound returns true if err is a not found error.
		IsNotFound(err error) bool
		// IsAlreadyExists returns true if err is a uniqueness violation error.
		IsAlreadyExists(err error) bool
		// Begin starts a writable transaction. All Client methods called on
		// the returned Tx operate inside it until Commit or Rollback.
		Begin() (Tx, error)

		UserInteraction
		ListInteraction
		ItemInteraction
		SettingsInteraction
		AuditInteraction
	}

	// A Tx is a Client scoped to a single database transaction.
	Tx interface {
		Client
		// Commit writes the transaction.
		Commit() error
		// Rollback discards the transaction.
		Rollback() error
	}

	// A UserInteraction defines all the methods used to interact with a user record.
	UserInteraction interface {
		// FindUser returns the user for the given id.
		FindUser(id int64) (*model.User, error)
		// FindUserByUsername returns the user for the given username.
		FindUserByUsername(username string) (*model.User, error)
		// FindUserByEmail returns the user for the given email.
		FindUserByEmail(email string) (*model.User, error)
		// AllUsers returns all users ordered by id.
		AllUsers() ([]*model.User, error)
		// CountAdmins returns the number of admin users, excluding the
		// reserved system account.
		CountAdmins() (int, error)
	}

	// A ListInteraction defines all the methods used to interact with a list record.
	ListInteraction interface {
		// FindList returns the list for the given id.
		FindList(id int64) (*model.List, error)
		// FindListByName returns the list for the given unique name.
		FindListByName(name string) (*model.List, error)
		// AllLists returns all lists ordered by id.
		AllLists() ([]*model.List, error)
	}

	// An ItemInteraction defines all the methods used to interact with item records.
	ItemInteraction interface {
		// FindItem returns the item for the given id.
		FindItem(id int64) (*model.Item, error)
		// FindItemByCategoryAndData returns the item matching the unique
		// (category, data) pair.
		FindItemByCategoryAndData(category, data string) (*model.Item, error)
		// FindItemsByCategory returns all items of the given list, by name.
		FindItemsByCategory(category string) ([]*model.Item, error)
		// FindItemsByDate returns all items whose expiry date equals day.
		FindItemsByDate(day time.Time) ([]*model.Item, error)
		// FindItemsExpiredBefore returns all items whose expiry date is
		// strictly before day.
		FindItemsExpiredBefore(day time.Time) ([]*model.Item, error)
		// AllItems returns all items ordered by id.
		AllItems() ([]*model.Item, error)
	}

	// A SettingsInteraction defines the singleton settings accessors.
	// Each row is created lazily with defaults on first access.
	SettingsInteraction interface {
		// EmailSettings returns the SMTP settings row.
		EmailSettings() (*model.EmailSettings, error)
		// ScheduleSettings returns the job trigger times row.
		ScheduleSettings() (*model.ScheduleSettings, error)
		// AuditSettings returns the audit retention row.
		AuditSettings() (*model.AuditSettings, error)
		// BackupSettings returns the backup retention row. defaultDirectory
		// is used when the row does not exist yet.
		BackupSettings(defaultDirectory string) (*model.BackupSettings, error)
	}

	// An AuditInteraction defines all the methods used to interact with audit log records.
	AuditInteraction interface {
		// AllAudits returns all audit rows ordered by id.
		AllAudits() ([]*model.AuditLog, error)
		// FindAudits returns the filtered page of audit rows, newest first,
		// and the total number of matching rows.
		FindAudits(filter AuditFilter) ([]*model.AuditLog, int, error)
		// DeleteAuditsBefore deletes every audit row older than cutoff and
		// returns the number of deleted rows.
		DeleteAuditsBefore(cutoff time.Time) (int, error)
	}

	// An AuditFilter narrows down FindAudits results.
	AuditFilter struct {
		// Action matches the action tag. Exact when it is a known tag,
		// substring otherwise.
		Action string
		// UserID matches the acting user. Zero means any.
		UserID int64
		// Entry is a substring match on the details column.
		Entry string
		// Start and End bound the creation date. Zero values are open ends.
		Start time.Time
		End   time.Time
		// Page is 1-based. PerPage is clamped by the caller.
		Page    int
		PerPage int
	}
)
