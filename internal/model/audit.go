package model

import (
	"fmt"
	"unicode/utf8"
)

// Audit action tags. They are stored in the database and must stay stable.
const (
	ActionListAdded   = "list_added"
	ActionListDeleted = "list_deleted"
	ActionListEdited  = "list_edited"

	ActionItemAdded   = "item_added"
	ActionItemDeleted = "item_deleted"
	ActionItemEdited  = "item_edited"

	ActionUserAdded    = "user_added"
	ActionUserDeleted  = "user_deleted"
	ActionUserPromoted = "user_promoted"
	ActionUserDemoted  = "user_demoted"

	ActionEmailSettingsUpdated  = "email_settings_updated"
	ActionScheduleUpdated       = "schedule_updated"
	ActionBackupScheduleUpdated = "backup_schedule_updated"
	ActionAuditScheduleUpdated  = "audit_schedule_updated"
	ActionAuditRetentionUpdated = "audit_retention_updated"
	ActionBackupSettingsUpdated = "backup_settings_updated"

	ActionCleanupJobRun = "cleanup_job_run"
	ActionBackupCreated = "backup_created"
	ActionAuditPurgeRun = "audit_purge_run"

	ActionLoginSuccess = "login_success"
	ActionLoginFailed  = "login_failed"
	ActionLogout       = "logout"

	ActionUserEmailChanged    = "user_email_changed"
	ActionUserPasswordChanged = "user_password_changed"

	ActionBackupDownloaded = "backup_downloaded"
	ActionBackupRestored   = "backup_restored"
	ActionListExported     = "list_exported"
)

// AuditActions enumerates every action tag, for log filtering.
var AuditActions = []string{
	ActionListAdded, ActionListDeleted, ActionListEdited,
	ActionItemAdded, ActionItemDeleted, ActionItemEdited,
	ActionUserAdded, ActionUserDeleted, ActionUserPromoted, ActionUserDemoted,
	ActionEmailSettingsUpdated, ActionScheduleUpdated, ActionBackupScheduleUpdated,
	ActionAuditScheduleUpdated, ActionAuditRetentionUpdated, ActionBackupSettingsUpdated,
	ActionCleanupJobRun, ActionBackupCreated, ActionAuditPurgeRun,
	ActionLoginSuccess, ActionLoginFailed, ActionLogout,
	ActionUserEmailChanged, ActionUserPasswordChanged,
	ActionBackupDownloaded, ActionBackupRestored, ActionListExported,
}

// DetailsLimit bounds the free-text details column.
const DetailsLimit = 255

// An AuditLog represents a database record. Rows are append-only: inserted
// once and only removed in bulk by the retention purge.
type AuditLog struct {
	Base `msgpack:",inline" storm:"inline"`

	// UserID is 0 when no user is associated. ActorName is a snapshot of the
	// acting user's name, preserved even if the user is deleted later.
	UserID     int64  `json:"user_id"     msgpack:"user_id"`
	ActorName  string `json:"actor_name"  msgpack:"actor_name"`
	Action     string `json:"action"      msgpack:"action"      storm:"index"`
	TargetType string `json:"target_type" msgpack:"target_type"`
	TargetID   int64  `json:"target_id"   msgpack:"target_id"`
	ListID     int64  `json:"list_id"     msgpack:"list_id"`
	Details    string `json:"details"     msgpack:"details"`
}

// Details formats a "key=value; key=value" summary truncated to DetailsLimit.
func Details(pairs ...string) string {
	if len(pairs)%2 != 0 {
		panic(fmt.Sprintf("model: odd number of detail pairs: %d", len(pairs)))
	}

	var s string
	for i := 0; i < len(pairs); i += 2 {
		if i > 0 {
			s += "; "
		}
		s += pairs[i] + "=" + pairs[i+1]
	}
	return TruncateDetails(s)
}

// TruncateDetails caps s to at most DetailsLimit bytes without cutting a
// multi-byte rune in half.
func TruncateDetails(s string) string {
	if len(s) <= DetailsLimit {
		return s
	}
	cut := DetailsLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
