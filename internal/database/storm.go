package database

import (
	"encoding/binary"
	"reflect"
	"regexp"
	"sort"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/codec/msgpack"
	"github.com/asdine/storm/v3/q"
	"github.com/pkg/errors"
	"github.com/wgui/wgui/internal/model"
	bolt "go.etcd.io/bbolt"
)

type strm struct {
	db   *storm.DB // nil on transaction nodes
	node storm.Node
	tx   *bolt.Tx // nil outside transactions
}

// Storm keeps the auto increment state of each model bucket in a metadata
// sub-bucket. SetIDCounter writes the same keys Storm reads.
const (
	stormMetadataBucket = "__storm_metadata"
	stormIDCounterKey   = "IDcounter"
	stormCodecKey       = "codec"
)

// StormCodec is the format used to store data in the database.
var StormCodec = storm.Codec(msgpack.Codec)

// StormInit initializes Storm database indexes.
func StormInit(database string) error {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return errors.Wrap(err, "could not get database connection")
	}
	defer db.Close()

	for _, m := range []model.Model{
		&model.User{},
		&model.List{},
		&model.Item{},
		&model.AuditLog{},
		&model.EmailSettings{},
		&model.ScheduleSettings{},
		&model.AuditSettings{},
		&model.BackupSettings{},
	} {
		if err := db.Init(m); err != nil {
			return errors.Wrap(err, "could not init index")
		}
	}
	return nil
}

// StormReIndex rebuilds the Storm database indexes.
func StormReIndex(database string) error {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return errors.Wrap(err, "could not get database connection")
	}
	defer db.Close()

	for _, m := range []model.Model{
		&model.User{},
		&model.List{},
		&model.Item{},
		&model.AuditLog{},
		&model.EmailSettings{},
		&model.ScheduleSettings{},
		&model.AuditSettings{},
		&model.BackupSettings{},
	} {
		if err := db.ReIndex(m); err != nil {
			return errors.Wrap(err, "could not reindex")
		}
	}
	return nil
}

// StormOpen returns a new Storm database connection.
func StormOpen(database string) (Client, error) {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return nil, errors.Wrap(err, "could not get database connection")
	}

	return &strm{
		db:   db,
		node: db,
	}, nil
}

// Save inserts or updates the entry in database with the given model.
func (c *strm) Save(m model.Model) error {
	t := time.Now().UTC()
	m.SetUpdatedAt(t)

	if m.GetID() == 0 {
		m.SetCreatedAt(t)
	}

	return errors.Wrap(c.node.Save(m), "could not save the model")
}

// Insert inserts the entry as-is, preserving an explicit ID. The bucket's
// auto increment counter is left untouched: a caller inserting ids above the
// current counter must push it forward with SetIDCounter, or a later Save
// with a zero ID is handed an id that is already taken.
func (c *strm) Insert(m model.Model) error {
	return errors.Wrap(c.node.Save(m), "could not insert the model")
}

// SetIDCounter sets the auto increment counter of the model's bucket so the
// next Save with a zero ID is assigned id+1.
func (c *strm) SetIDCounter(m model.Model, id int64) error {
	if c.tx != nil {
		return errors.Wrap(c.setIDCounter(c.tx, m, id), "could not set the id counter")
	}
	err := c.db.Bolt.Update(func(tx *bolt.Tx) error {
		return c.setIDCounter(tx, m, id)
	})
	return errors.Wrap(err, "could not set the id counter")
}

func (c *strm) setIDCounter(tx *bolt.Tx, m model.Model, id int64) error {
	name := reflect.Indirect(reflect.ValueOf(m)).Type().Name()
	bucket, err := c.node.CreateBucketIfNotExists(tx, name)
	if err != nil {
		return err
	}

	meta := bucket.Bucket([]byte(stormMetadataBucket))
	if meta == nil {
		if meta, err = bucket.CreateBucket([]byte(stormMetadataBucket)); err != nil {
			return err
		}
		// Storm refuses a metadata bucket without its codec name.
		if err = meta.Put([]byte(stormCodecKey), []byte(c.node.Codec().Name())); err != nil {
			return err
		}
	}

	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, uint64(id))
	return meta.Put([]byte(stormIDCounterKey), raw)
}

// Delete deletes the entry in database with the given model.
func (c *strm) Delete(m model.Model) error {
	return errors.Wrap(c.node.DeleteStruct(m), "could not delete the model")
}

// DeleteAll deletes every entry of the given model's type.
func (c *strm) DeleteAll(m model.Model) error {
	err := c.node.Select(q.True()).Delete(m)
	if err != nil && !c.IsNotFound(err) {
		return errors.Wrap(err, "could not delete the models")
	}
	return nil
}

// Close the database.
func (c *strm) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// IsNotFound returns true if err is a not found error.
func (c *strm) IsNotFound(err error) bool {
	return errors.Cause(err) == storm.ErrNotFound
}

// IsAlreadyExists returns true if err is a uniqueness violation error.
func (c *strm) IsAlreadyExists(err error) bool {
	return errors.Cause(err) == storm.ErrAlreadyExists
}

// Begin starts a writable transaction.
func (c *strm) Begin() (Tx, error) {
	tx, err := c.db.Bolt.Begin(true)
	if err != nil {
		return nil, errors.Wrap(err, "could not begin transaction")
	}
	return &strm{node: c.node.WithTransaction(tx), tx: tx}, nil
}

// Commit writes the transaction.
func (c *strm) Commit() error {
	return errors.Wrap(c.node.Commit(), "could not commit transaction")
}

// Rollback discards the transaction.
func (c *strm) Rollback() error {
	return errors.Wrap(c.node.Rollback(), "could not rollback transaction")
}

// FindUser returns the user for the given id.
func (c *strm) FindUser(id int64) (*model.User, error) {
	var user model.User
	if err := c.node.One("ID", id, &user); err != nil {
		return nil, errors.Wrap(err, "find user by id")
	}
	return &user, nil
}

// FindUserByUsername returns the user for the given username.
func (c *strm) FindUserByUsername(username string) (*model.User, error) {
	var user model.User
	if err := c.node.One("Username", username, &user); err != nil {
		return nil, errors.Wrap(err, "find user by username")
	}
	return &user, nil
}

// FindUserByEmail returns the user for the given email.
func (c *strm) FindUserByEmail(email string) (*model.User, error) {
	var user model.User
	if err := c.node.One("Email", email, &user); err != nil {
		return nil, errors.Wrap(err, "find user by email")
	}
	return &user, nil
}

// AllUsers returns all users ordered by id.
func (c *strm) AllUsers() ([]*model.User, error) {
	users := make([]*model.User, 0)
	err := c.node.Select(q.True()).OrderBy("ID").Find(&users)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find users")
	}
	return users, nil
}

// CountAdmins returns the number of admin users, excluding the system account.
func (c *strm) CountAdmins() (int, error) {
	n, err := c.node.Select(
		q.Eq("Admin", true),
		q.Not(q.Eq("Username", model.SystemUsername)),
	).Count(&model.User{})
	return n, errors.Wrap(err, "could not count admins")
}

// FindList returns the list for the given id.
func (c *strm) FindList(id int64) (*model.List, error) {
	var list model.List
	if err := c.node.One("ID", id, &list); err != nil {
		return nil, errors.Wrap(err, "find list by id")
	}
	return &list, nil
}

// FindListByName returns the list for the given unique name.
func (c *strm) FindListByName(name string) (*model.List, error) {
	var list model.List
	if err := c.node.One("Name", name, &list); err != nil {
		return nil, errors.Wrap(err, "find list by name")
	}
	return &list, nil
}

// AllLists returns all lists ordered by id.
func (c *strm) AllLists() ([]*model.List, error) {
	lists := make([]*model.List, 0)
	err := c.node.Select(q.True()).OrderBy("ID").Find(&lists)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find lists")
	}
	return lists, nil
}

// FindItem returns the item for the given id.
func (c *strm) FindItem(id int64) (*model.Item, error) {
	var item model.Item
	if err := c.node.One("ID", id, &item); err != nil {
		return nil, errors.Wrap(err, "find item by id")
	}
	return &item, nil
}

// FindItemByCategoryAndData returns the item matching the unique (category, data) pair.
func (c *strm) FindItemByCategoryAndData(category, data string) (*model.Item, error) {
	var item model.Item
	err := c.node.Select(q.Eq("Category", category), q.Eq("Data", data)).First(&item)
	if err != nil {
		return nil, errors.Wrap(err, "find item by category and data")
	}
	return &item, nil
}

// FindItemsByCategory returns all items of the given list, by name.
func (c *strm) FindItemsByCategory(category string) ([]*model.Item, error) {
	items := make([]*model.Item, 0)
	err := c.node.Select(q.Eq("Category", category)).OrderBy("ID").Find(&items)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find items by category")
	}
	return items, nil
}

// FindItemsByDate returns all items whose expiry date equals day.
func (c *strm) FindItemsByDate(day time.Time) ([]*model.Item, error) {
	day = model.Day(day)
	items := make([]*model.Item, 0)
	err := c.node.Select(q.Gte("Date", day), q.Lt("Date", day.AddDate(0, 0, 1))).Find(&items)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find items by date")
	}
	return items, nil
}

// FindItemsExpiredBefore returns all items whose expiry date is strictly before day.
func (c *strm) FindItemsExpiredBefore(day time.Time) ([]*model.Item, error) {
	items := make([]*model.Item, 0)
	err := c.node.Select(q.Lt("Date", model.Day(day))).OrderBy("ID").Find(&items)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find expired items")
	}
	return items, nil
}

// AllItems returns all items ordered by id.
func (c *strm) AllItems() ([]*model.Item, error) {
	items := make([]*model.Item, 0)
	err := c.node.Select(q.True()).OrderBy("ID").Find(&items)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find items")
	}
	return items, nil
}

// EmailSettings returns the SMTP settings row, created with defaults when absent.
func (c *strm) EmailSettings() (*model.EmailSettings, error) {
	var settings model.EmailSettings
	err := c.node.Select(q.True()).First(&settings)
	if err == nil {
		return &settings, nil
	}
	if !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find email settings")
	}

	defaults := model.DefaultEmailSettings()
	return defaults, errors.Wrap(c.Save(defaults), "could not create default email settings")
}

// ScheduleSettings returns the job trigger times row, created with defaults when absent.
func (c *strm) ScheduleSettings() (*model.ScheduleSettings, error) {
	var settings model.ScheduleSettings
	err := c.node.Select(q.True()).First(&settings)
	if err == nil {
		return &settings, nil
	}
	if !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find schedule settings")
	}

	defaults := model.DefaultScheduleSettings()
	return defaults, errors.Wrap(c.Save(defaults), "could not create default schedule settings")
}

// AuditSettings returns the audit retention row, created with defaults when absent.
func (c *strm) AuditSettings() (*model.AuditSettings, error) {
	var settings model.AuditSettings
	err := c.node.Select(q.True()).First(&settings)
	if err == nil {
		return &settings, nil
	}
	if !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find audit settings")
	}

	defaults := model.DefaultAuditSettings()
	return defaults, errors.Wrap(c.Save(defaults), "could not create default audit settings")
}

// BackupSettings returns the backup retention row, created with defaults when absent.
func (c *strm) BackupSettings(defaultDirectory string) (*model.BackupSettings, error) {
	var settings model.BackupSettings
	err := c.node.Select(q.True()).First(&settings)
	if err == nil {
		return &settings, nil
	}
	if !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find backup settings")
	}

	defaults := model.DefaultBackupSettings(defaultDirectory)
	return defaults, errors.Wrap(c.Save(defaults), "could not create default backup settings")
}

// AllAudits returns all audit rows ordered by id.
func (c *strm) AllAudits() ([]*model.AuditLog, error) {
	audits := make([]*model.AuditLog, 0)
	err := c.node.Select(q.True()).OrderBy("ID").Find(&audits)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find audits")
	}
	return audits, nil
}

// FindAudits returns the filtered page of audit rows, newest first, and the
// total number of matching rows. Date bounds are applied in memory because
// CreatedAt is stored behind a pointer, out of reach of index matchers.
func (c *strm) FindAudits(filter AuditFilter) ([]*model.AuditLog, int, error) {
	matchers := []q.Matcher{q.True()}

	if filter.Action != "" {
		if knownAction(filter.Action) {
			matchers = append(matchers, q.Eq("Action", filter.Action))
		} else {
			matchers = append(matchers, q.Re("Action", "(?i)"+regexp.QuoteMeta(filter.Action)))
		}
	}
	if filter.UserID != 0 {
		matchers = append(matchers, q.Eq("UserID", filter.UserID))
	}
	if filter.Entry != "" {
		matchers = append(matchers, q.Re("Details", "(?i)"+regexp.QuoteMeta(filter.Entry)))
	}

	audits := make([]*model.AuditLog, 0)
	err := c.node.Select(matchers...).Find(&audits)
	if err != nil && !c.IsNotFound(err) {
		return nil, 0, errors.Wrap(err, "could not find audits")
	}

	filtered := audits[:0]
	for _, a := range audits {
		if a.CreatedAt == nil {
			continue
		}
		if !filter.Start.IsZero() && a.CreatedAt.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && a.CreatedAt.After(filter.End) {
			continue
		}
		filtered = append(filtered, a)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(*filtered[j].CreatedAt) {
			return filtered[i].ID > filtered[j].ID
		}
		return filtered[i].CreatedAt.After(*filtered[j].CreatedAt)
	})

	total := len(filtered)
	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 50
	}

	offset := (page - 1) * perPage
	if offset >= total {
		return []*model.AuditLog{}, total, nil
	}
	end := offset + perPage
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

// DeleteAuditsBefore deletes every audit row older than cutoff and returns
// the number of deleted rows.
func (c *strm) DeleteAuditsBefore(cutoff time.Time) (int, error) {
	audits, err := c.AllAudits()
	if err != nil {
		return 0, err
	}

	var deleted int
	for _, a := range audits {
		if a.CreatedAt == nil || !a.CreatedAt.Before(cutoff) {
			continue
		}
		if err := c.node.DeleteStruct(a); err != nil {
			return deleted, errors.Wrap(err, "could not delete audit row")
		}
		deleted++
	}
	return deleted, nil
}

func knownAction(action string) bool {
	for _, a := range model.AuditActions {
		if a == action {
			return true
		}
	}
	return false
}
