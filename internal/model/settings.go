package model

import "strings"

// EmailSettings is a singleton record holding SMTP parameters used by the
// notifier. It is created lazily with defaults on first access.
type EmailSettings struct {
	Base `msgpack:",inline" storm:"inline"`

	FromEmail  string `json:"from_email"  msgpack:"from_email"`
	ToEmail    string `json:"to_email"    msgpack:"to_email"`
	SMTPServer string `json:"smtp_server" msgpack:"smtp_server"`
	SMTPPort   int    `json:"smtp_port"   msgpack:"smtp_port"`
	SMTPUser   string `json:"smtp_user"   msgpack:"smtp_user"`
	SMTPPass   string `json:"-"           msgpack:"smtp_pass"`
}

// DefaultEmailSettings returns the settings used until an admin configures SMTP.
func DefaultEmailSettings() *EmailSettings {
	return &EmailSettings{
		FromEmail:  "test@example.com",
		ToEmail:    "admin@example.com",
		SMTPServer: "localhost",
		SMTPPort:   1025,
	}
}

// Recipients splits the comma-separated ToEmail field.
func (s *EmailSettings) Recipients() []string {
	var recipients []string
	for _, r := range strings.Split(s.ToEmail, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	return recipients
}

// ScheduleSettings is a singleton record holding the daily trigger times of
// the three background jobs. Times are UTC.
type ScheduleSettings struct {
	Base `msgpack:",inline" storm:"inline"`

	Hour         int `json:"hour"          msgpack:"hour"`
	Minute       int `json:"minute"        msgpack:"minute"`
	BackupHour   int `json:"backup_hour"   msgpack:"backup_hour"`
	BackupMinute int `json:"backup_minute" msgpack:"backup_minute"`
	AuditHour    int `json:"audit_hour"    msgpack:"audit_hour"`
	AuditMinute  int `json:"audit_minute"  msgpack:"audit_minute"`
}

// DefaultScheduleSettings returns all jobs scheduled at midnight UTC.
func DefaultScheduleSettings() *ScheduleSettings {
	return &ScheduleSettings{}
}

// AuditSettings is a singleton record holding the audit log retention policy.
type AuditSettings struct {
	Base `msgpack:",inline" storm:"inline"`

	RetentionDays int `json:"retention_days" msgpack:"retention_days"`
}

// DefaultAuditRetentionDays bounds audit log growth when unconfigured.
const DefaultAuditRetentionDays = 90

// DefaultAuditSettings returns the default retention policy.
func DefaultAuditSettings() *AuditSettings {
	return &AuditSettings{RetentionDays: DefaultAuditRetentionDays}
}

// BackupSettings is a singleton record holding the backup file retention
// policy. Directory is a local deployment detail and is never exported.
type BackupSettings struct {
	Base `msgpack:",inline" storm:"inline"`

	Directory string `json:"directory" msgpack:"directory"`
	Keep      int    `json:"keep"      msgpack:"keep"`
}

// DefaultBackupKeep is the number of backup files kept when unconfigured.
const DefaultBackupKeep = 3

// DefaultBackupSettings returns the default backup retention policy.
func DefaultBackupSettings(directory string) *BackupSettings {
	return &BackupSettings{
		Directory: directory,
		Keep:      DefaultBackupKeep,
	}
}
