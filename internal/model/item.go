package model

import "time"

// An Item represents a database record: one entry of a list.
// The (Category, Data) pair is unique, enforced by the database layer.
type Item struct {
	Base `msgpack:",inline" storm:"inline"`

	Category    string    `json:"category"    msgpack:"category" storm:"index"`
	Data        string    `json:"data"        msgpack:"data"`
	Description string    `json:"description" msgpack:"description"`
	Date        time.Time `json:"date"        msgpack:"date"     storm:"index"`
	CreatorID   int64     `json:"creator_id"  msgpack:"creator_id"`
}

// Day truncates t to a date at midnight UTC.
// Item expiry is a calendar date, not an instant.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Expired returns true when the item's date is strictly before today.
// An item dated exactly today is not yet expired.
func (i *Item) Expired(today time.Time) bool {
	return Day(i.Date).Before(Day(today))
}
