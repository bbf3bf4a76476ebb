// Package backup produces and consumes the versioned JSON snapshot of the
// whole store, and manages the backup files on disk.
package backup

import (
	"encoding/json"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/wgerror"
)

// Version is the payload format version.
const Version = 1

type (
	// A Payload is the complete, versioned snapshot of all persisted state.
	// Collections are ordered ascending by id so repeated exports of
	// unchanged data are byte-identical apart from CreatedAt.
	Payload struct {
		Version          int             `json:"version"`
		CreatedAt        string          `json:"created_at"`
		Users            []UserRecord    `json:"users"`
		Lists            []ListRecord    `json:"lists"`
		Items            []ItemRecord    `json:"items"`
		EmailSettings    *EmailRecord    `json:"email_settings"`
		ScheduleSettings *ScheduleRecord `json:"schedule_settings"`
		AuditSettings    *AuditCfgRecord `json:"audit_settings"`
		BackupSettings   *BackupRecord   `json:"backup_settings"`
		Audits           []AuditRecord   `json:"audits"`
	}

	// A UserRecord is a user row in the payload.
	UserRecord struct {
		ID             int64  `json:"id"`
		Username       string `json:"username"`
		Email          string `json:"email"`
		HashedPassword string `json:"hashed_password"`
		Admin          bool   `json:"is_admin"`
		FirstLogin     bool   `json:"first_login"`
	}

	// A ListRecord is a list row in the payload.
	ListRecord struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}

	// An ItemRecord is an item row in the payload. Date is ISO-8601; on
	// import both plain dates and full timestamps are accepted.
	ItemRecord struct {
		ID          int64  `json:"id"`
		Category    string `json:"category"`
		Data        string `json:"data"`
		Description string `json:"description"`
		Date        string `json:"date"`
		CreatorID   *int64 `json:"creator_id"`
	}

	// An EmailRecord is the SMTP settings row in the payload.
	EmailRecord struct {
		ID         int64  `json:"id"`
		FromEmail  string `json:"from_email"`
		ToEmail    string `json:"to_email"`
		SMTPServer string `json:"smtp_server"`
		SMTPPort   int    `json:"smtp_port"`
		SMTPUser   string `json:"smtp_user"`
		SMTPPass   string `json:"smtp_pass"`
	}

	// A ScheduleRecord is the job trigger times row in the payload.
	ScheduleRecord struct {
		ID           int64 `json:"id"`
		Hour         int   `json:"hour"`
		Minute       int   `json:"minute"`
		BackupHour   int   `json:"backup_hour"`
		BackupMinute int   `json:"backup_minute"`
		AuditHour    int   `json:"audit_hour"`
		AuditMinute  int   `json:"audit_minute"`
	}

	// An AuditCfgRecord is the audit retention row in the payload.
	AuditCfgRecord struct {
		ID            int64 `json:"id"`
		RetentionDays int   `json:"retention_days"`
	}

	// A BackupRecord is the backup retention row in the payload. The local
	// directory path is a deployment detail and is never exported.
	BackupRecord struct {
		Keep int `json:"keep"`
	}

	// An AuditRecord is an audit log row in the payload.
	AuditRecord struct {
		ID         int64  `json:"id"`
		CreatedAt  string `json:"created_at"`
		UserID     *int64 `json:"user_id"`
		ActorName  string `json:"actor_name"`
		Action     string `json:"action"`
		TargetType string `json:"target_type"`
		TargetID   *int64 `json:"target_id"`
		ListID     *int64 `json:"list_id"`
		Details    string `json:"details"`
	}
)

// Export assembles the full store into a Payload.
func Export(db database.Client) (*Payload, error) {
	payload := &Payload{
		Version:   Version,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Users:     []UserRecord{},
		Lists:     []ListRecord{},
		Items:     []ItemRecord{},
		Audits:    []AuditRecord{},
	}

	users, err := db.AllUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		payload.Users = append(payload.Users, UserRecord{
			ID:             u.ID,
			Username:       u.Username,
			Email:          u.Email,
			HashedPassword: u.HashedPassword,
			Admin:          u.Admin,
			FirstLogin:     u.FirstLogin,
		})
	}

	lists, err := db.AllLists()
	if err != nil {
		return nil, err
	}
	for _, l := range lists {
		payload.Lists = append(payload.Lists, ListRecord{ID: l.ID, Name: l.Name, Type: l.Type})
	}

	items, err := db.AllItems()
	if err != nil {
		return nil, err
	}
	for _, i := range items {
		payload.Items = append(payload.Items, ItemRecord{
			ID:          i.ID,
			Category:    i.Category,
			Data:        i.Data,
			Description: i.Description,
			Date:        i.Date.UTC().Format("2006-01-02"),
			CreatorID:   optional(i.CreatorID),
		})
	}

	es, err := db.EmailSettings()
	if err != nil {
		return nil, err
	}
	payload.EmailSettings = &EmailRecord{
		ID:         es.ID,
		FromEmail:  es.FromEmail,
		ToEmail:    es.ToEmail,
		SMTPServer: es.SMTPServer,
		SMTPPort:   es.SMTPPort,
		SMTPUser:   es.SMTPUser,
		SMTPPass:   es.SMTPPass,
	}

	ss, err := db.ScheduleSettings()
	if err != nil {
		return nil, err
	}
	payload.ScheduleSettings = &ScheduleRecord{
		ID:           ss.ID,
		Hour:         ss.Hour,
		Minute:       ss.Minute,
		BackupHour:   ss.BackupHour,
		BackupMinute: ss.BackupMinute,
		AuditHour:    ss.AuditHour,
		AuditMinute:  ss.AuditMinute,
	}

	as, err := db.AuditSettings()
	if err != nil {
		return nil, err
	}
	payload.AuditSettings = &AuditCfgRecord{ID: as.ID, RetentionDays: as.RetentionDays}

	bs, err := db.BackupSettings("")
	if err != nil {
		return nil, err
	}
	payload.BackupSettings = &BackupRecord{Keep: bs.Keep}

	audits, err := db.AllAudits()
	if err != nil {
		return nil, err
	}
	for _, a := range audits {
		record := AuditRecord{
			ID:         a.ID,
			UserID:     optional(a.UserID),
			ActorName:  a.ActorName,
			Action:     a.Action,
			TargetType: a.TargetType,
			TargetID:   optional(a.TargetID),
			ListID:     optional(a.ListID),
			Details:    a.Details,
		}
		if a.CreatedAt != nil {
			record.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
		}
		payload.Audits = append(payload.Audits, record)
	}

	return payload, nil
}

// Marshal encodes the payload as compact UTF-8 JSON.
func Marshal(payload *Payload) ([]byte, error) {
	data, err := json.Marshal(payload)
	return data, errors.Wrap(err, "could not serialize backup payload")
}

// Restore validates document and replaces the whole store with its content,
// preserving ids, in one transaction. A structurally invalid document is
// rejected before any mutation. defaultBackupDirectory replaces the local
// directory path that exports never carry.
func Restore(db database.Client, document []byte, defaultBackupDirectory string) (*Payload, error) {
	payload, err := Parse(document)
	if err != nil {
		return nil, err
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	if err := restore(tx, payload, defaultBackupDirectory); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return nil, err
	}
	return payload, nil
}

func restore(tx database.Tx, payload *Payload, defaultBackupDirectory string) error {
	for _, m := range []model.Model{
		&model.Item{},
		&model.AuditLog{},
		&model.List{},
		&model.User{},
		&model.EmailSettings{},
		&model.ScheduleSettings{},
		&model.AuditSettings{},
		&model.BackupSettings{},
	} {
		if err := tx.DeleteAll(m); err != nil {
			return err
		}
	}

	now := time.Now().UTC()

	var maxUser, maxList, maxItem, maxAudit int64
	var emailID, scheduleID, auditCfgID int64

	for _, u := range payload.Users {
		if u.ID > maxUser {
			maxUser = u.ID
		}
		user := &model.User{
			Username:       u.Username,
			Email:          u.Email,
			HashedPassword: u.HashedPassword,
			Admin:          u.Admin,
			FirstLogin:     u.FirstLogin,
		}
		user.ID = u.ID
		user.SetCreatedAt(now)
		if err := tx.Insert(user); err != nil {
			return err
		}
	}

	for _, l := range payload.Lists {
		if l.ID > maxList {
			maxList = l.ID
		}
		list := &model.List{Name: l.Name, Type: l.Type}
		list.ID = l.ID
		list.SetCreatedAt(now)
		if err := tx.Insert(list); err != nil {
			return err
		}
	}

	for _, i := range payload.Items {
		if i.ID > maxItem {
			maxItem = i.ID
		}
		date, err := dateparse.ParseAny(i.Date)
		if err != nil {
			return wgerror.NewValidation("invalid item date: " + i.Date)
		}
		item := &model.Item{
			Category:    i.Category,
			Data:        i.Data,
			Description: i.Description,
			Date:        model.Day(date),
			CreatorID:   value(i.CreatorID),
		}
		item.ID = i.ID
		item.SetCreatedAt(now)
		if err := tx.Insert(item); err != nil {
			return err
		}
	}

	if es := payload.EmailSettings; es != nil {
		settings := &model.EmailSettings{
			FromEmail:  es.FromEmail,
			ToEmail:    es.ToEmail,
			SMTPServer: es.SMTPServer,
			SMTPPort:   es.SMTPPort,
			SMTPUser:   es.SMTPUser,
			SMTPPass:   es.SMTPPass,
		}
		settings.ID = es.ID
		settings.SetCreatedAt(now)
		emailID = es.ID
		if err := tx.Insert(settings); err != nil {
			return err
		}
	}

	if ss := payload.ScheduleSettings; ss != nil {
		settings := &model.ScheduleSettings{
			Hour:         ss.Hour,
			Minute:       ss.Minute,
			BackupHour:   ss.BackupHour,
			BackupMinute: ss.BackupMinute,
			AuditHour:    ss.AuditHour,
			AuditMinute:  ss.AuditMinute,
		}
		settings.ID = ss.ID
		settings.SetCreatedAt(now)
		scheduleID = ss.ID
		if err := tx.Insert(settings); err != nil {
			return err
		}
	}

	if as := payload.AuditSettings; as != nil {
		settings := &model.AuditSettings{RetentionDays: as.RetentionDays}
		settings.ID = as.ID
		settings.SetCreatedAt(now)
		auditCfgID = as.ID
		if err := tx.Insert(settings); err != nil {
			return err
		}
	}

	if bs := payload.BackupSettings; bs != nil {
		settings := model.DefaultBackupSettings(defaultBackupDirectory)
		settings.Keep = bs.Keep
		if err := tx.Save(settings); err != nil {
			return err
		}
	}

	for _, a := range payload.Audits {
		if a.ID > maxAudit {
			maxAudit = a.ID
		}
		audit := &model.AuditLog{
			UserID:     value(a.UserID),
			ActorName:  a.ActorName,
			Action:     a.Action,
			TargetType: a.TargetType,
			TargetID:   value(a.TargetID),
			ListID:     value(a.ListID),
			Details:    a.Details,
		}
		audit.ID = a.ID
		created, err := dateparse.ParseAny(a.CreatedAt)
		if err != nil {
			return wgerror.NewValidation("invalid audit timestamp: " + a.CreatedAt)
		}
		audit.SetCreatedAt(created.UTC())
		if err := tx.Insert(audit); err != nil {
			return err
		}
	}

	// Insert preserved the payload ids without touching the per-bucket auto
	// increment counters. Push each counter past the highest restored id so
	// the next Save with a zero ID does not overwrite a restored row.
	// BackupSettings went through Save and manages its own counter.
	counters := []struct {
		m  model.Model
		id int64
	}{
		{&model.User{}, maxUser},
		{&model.List{}, maxList},
		{&model.Item{}, maxItem},
		{&model.AuditLog{}, maxAudit},
		{&model.EmailSettings{}, emailID},
		{&model.ScheduleSettings{}, scheduleID},
		{&model.AuditSettings{}, auditCfgID},
	}
	for _, c := range counters {
		if err := tx.SetIDCounter(c.m, c.id); err != nil {
			return err
		}
	}

	return nil
}

// Parse validates the document against the payload shape. All structural
// checks happen here, before any state is touched: the returned error is a
// validation error and the caller must not have mutated anything yet.
func Parse(document []byte) (*Payload, error) {
	root, err := fastjson.ParseBytes(document)
	if err != nil {
		return nil, wgerror.NewValidation("not a valid JSON document")
	}
	if root.Type() != fastjson.TypeObject {
		return nil, wgerror.NewValidation("backup document must be a JSON object")
	}

	payload := &Payload{
		Users:  []UserRecord{},
		Lists:  []ListRecord{},
		Items:  []ItemRecord{},
		Audits: []AuditRecord{},
	}

	if payload.Version, err = requireInt(root, "version"); err != nil {
		return nil, err
	}
	if payload.Version != Version {
		return nil, wgerror.NewValidation("unsupported backup version")
	}
	if payload.CreatedAt, err = requireString(root, "created_at"); err != nil {
		return nil, err
	}

	users, err := requireArray(root, "users")
	if err != nil {
		return nil, err
	}
	for _, v := range users {
		record := UserRecord{}
		if record.ID, err = requireInt64(v, "users", "id"); err != nil {
			return nil, err
		}
		if record.Username, err = requireString(v, "username"); err != nil {
			return nil, err
		}
		if record.Email, err = requireString(v, "email"); err != nil {
			return nil, err
		}
		if record.HashedPassword, err = requireString(v, "hashed_password"); err != nil {
			return nil, err
		}
		if record.Admin, err = optionalBool(v, "is_admin", false); err != nil {
			return nil, err
		}
		if record.FirstLogin, err = optionalBool(v, "first_login", true); err != nil {
			return nil, err
		}
		payload.Users = append(payload.Users, record)
	}

	lists, err := requireArray(root, "lists")
	if err != nil {
		return nil, err
	}
	for _, v := range lists {
		record := ListRecord{}
		if record.ID, err = requireInt64(v, "lists", "id"); err != nil {
			return nil, err
		}
		if record.Name, err = requireString(v, "name"); err != nil {
			return nil, err
		}
		if record.Type, err = requireString(v, "type"); err != nil {
			return nil, err
		}
		payload.Lists = append(payload.Lists, record)
	}

	items, err := requireArray(root, "items")
	if err != nil {
		return nil, err
	}
	for _, v := range items {
		record := ItemRecord{}
		if record.ID, err = requireInt64(v, "items", "id"); err != nil {
			return nil, err
		}
		if record.Category, err = requireString(v, "category"); err != nil {
			return nil, err
		}
		if record.Data, err = requireString(v, "data"); err != nil {
			return nil, err
		}
		if record.Description, err = optionalString(v, "description"); err != nil {
			return nil, err
		}
		if record.Date, err = requireString(v, "date"); err != nil {
			return nil, err
		}
		if record.CreatorID, err = optionalInt64(v, "creator_id"); err != nil {
			return nil, err
		}
		payload.Items = append(payload.Items, record)
	}

	if v := object(root, "email_settings"); v != nil {
		record := &EmailRecord{}
		if record.ID, err = requireInt64(v, "email_settings", "id"); err != nil {
			return nil, err
		}
		if record.FromEmail, err = requireString(v, "from_email"); err != nil {
			return nil, err
		}
		if record.ToEmail, err = requireString(v, "to_email"); err != nil {
			return nil, err
		}
		if record.SMTPServer, err = requireString(v, "smtp_server"); err != nil {
			return nil, err
		}
		if record.SMTPPort, err = requireInt(v, "smtp_port"); err != nil {
			return nil, err
		}
		if record.SMTPUser, err = optionalString(v, "smtp_user"); err != nil {
			return nil, err
		}
		if record.SMTPPass, err = optionalString(v, "smtp_pass"); err != nil {
			return nil, err
		}
		payload.EmailSettings = record
	} else if err := nullable(root, "email_settings"); err != nil {
		return nil, err
	}

	if v := object(root, "schedule_settings"); v != nil {
		record := &ScheduleRecord{}
		if record.ID, err = requireInt64(v, "schedule_settings", "id"); err != nil {
			return nil, err
		}
		if record.Hour, err = requireInt(v, "hour"); err != nil {
			return nil, err
		}
		if record.Minute, err = requireInt(v, "minute"); err != nil {
			return nil, err
		}
		if record.BackupHour, err = optionalInt(v, "backup_hour"); err != nil {
			return nil, err
		}
		if record.BackupMinute, err = optionalInt(v, "backup_minute"); err != nil {
			return nil, err
		}
		if record.AuditHour, err = optionalInt(v, "audit_hour"); err != nil {
			return nil, err
		}
		if record.AuditMinute, err = optionalInt(v, "audit_minute"); err != nil {
			return nil, err
		}
		payload.ScheduleSettings = record
	} else if err := nullable(root, "schedule_settings"); err != nil {
		return nil, err
	}

	if v := object(root, "audit_settings"); v != nil {
		record := &AuditCfgRecord{}
		if record.ID, err = requireInt64(v, "audit_settings", "id"); err != nil {
			return nil, err
		}
		if record.RetentionDays, err = requireInt(v, "retention_days"); err != nil {
			return nil, err
		}
		payload.AuditSettings = record
	} else if err := nullable(root, "audit_settings"); err != nil {
		return nil, err
	}

	if v := object(root, "backup_settings"); v != nil {
		record := &BackupRecord{}
		if record.Keep, err = requireInt(v, "keep"); err != nil {
			return nil, err
		}
		payload.BackupSettings = record
	} else if err := nullable(root, "backup_settings"); err != nil {
		return nil, err
	}

	audits, err := requireArray(root, "audits")
	if err != nil {
		return nil, err
	}
	for _, v := range audits {
		record := AuditRecord{}
		if record.ID, err = requireInt64(v, "audits", "id"); err != nil {
			return nil, err
		}
		if record.CreatedAt, err = requireString(v, "created_at"); err != nil {
			return nil, err
		}
		if record.UserID, err = optionalInt64(v, "user_id"); err != nil {
			return nil, err
		}
		if record.ActorName, err = optionalString(v, "actor_name"); err != nil {
			return nil, err
		}
		if record.Action, err = requireString(v, "action"); err != nil {
			return nil, err
		}
		if record.TargetType, err = requireString(v, "target_type"); err != nil {
			return nil, err
		}
		if record.TargetID, err = optionalInt64(v, "target_id"); err != nil {
			return nil, err
		}
		if record.ListID, err = optionalInt64(v, "list_id"); err != nil {
			return nil, err
		}
		if record.Details, err = optionalString(v, "details"); err != nil {
			return nil, err
		}
		payload.Audits = append(payload.Audits, record)
	}

	return payload, nil
}

func optional(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func value(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func object(v *fastjson.Value, key string) *fastjson.Value {
	o := v.Get(key)
	if o == nil || o.Type() != fastjson.TypeObject {
		return nil
	}
	return o
}

// nullable rejects a present, non-null, non-object value for key.
func nullable(v *fastjson.Value, key string) error {
	o := v.Get(key)
	if o == nil || o.Type() == fastjson.TypeNull || o.Type() == fastjson.TypeObject {
		return nil
	}
	return wgerror.NewValidation(key + " must be an object or null")
}

func requireArray(v *fastjson.Value, key string) ([]*fastjson.Value, error) {
	a := v.Get(key)
	if a == nil || a.Type() != fastjson.TypeArray {
		return nil, wgerror.NewValidation(key + " must be an array")
	}
	values, _ := a.Array()
	for _, item := range values {
		if item.Type() != fastjson.TypeObject {
			return nil, wgerror.NewValidation(key + " must contain objects")
		}
	}
	return values, nil
}

func requireString(v *fastjson.Value, key string) (string, error) {
	s := v.Get(key)
	if s == nil || s.Type() != fastjson.TypeString {
		return "", wgerror.NewValidation(key + " must be a string")
	}
	b, _ := s.StringBytes()
	return string(b), nil
}

func optionalString(v *fastjson.Value, key string) (string, error) {
	s := v.Get(key)
	if s == nil || s.Type() == fastjson.TypeNull {
		return "", nil
	}
	if s.Type() != fastjson.TypeString {
		return "", wgerror.NewValidation(key + " must be a string")
	}
	b, _ := s.StringBytes()
	return string(b), nil
}

func requireInt(v *fastjson.Value, key string) (int, error) {
	n, err := requireInt64(v, "", key)
	return int(n), err
}

func requireInt64(v *fastjson.Value, scope, key string) (int64, error) {
	field := key
	if scope != "" {
		field = scope + "." + key
	}
	i := v.Get(key)
	if i == nil || i.Type() != fastjson.TypeNumber {
		return 0, wgerror.NewValidation(field + " must be an integer")
	}
	n, err := i.Int64()
	if err != nil {
		return 0, wgerror.NewValidation(field + " must be an integer")
	}
	return n, nil
}

func optionalInt(v *fastjson.Value, key string) (int, error) {
	n, err := optionalInt64(v, key)
	if err != nil || n == nil {
		return 0, err
	}
	return int(*n), nil
}

func optionalInt64(v *fastjson.Value, key string) (*int64, error) {
	i := v.Get(key)
	if i == nil || i.Type() == fastjson.TypeNull {
		return nil, nil
	}
	if i.Type() != fastjson.TypeNumber {
		return nil, wgerror.NewValidation(key + " must be an integer")
	}
	n, err := i.Int64()
	if err != nil {
		return nil, wgerror.NewValidation(key + " must be an integer")
	}
	return &n, nil
}

func optionalBool(v *fastjson.Value, key string, fallback bool) (bool, error) {
	b := v.Get(key)
	if b == nil || b.Type() == fastjson.TypeNull {
		return fallback, nil
	}
	switch b.Type() {
	case fastjson.TypeTrue:
		return true, nil
	case fastjson.TypeFalse:
		return false, nil
	}
	return false, wgerror.NewValidation(key + " must be a boolean")
}
