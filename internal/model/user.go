package model

// SystemUsername is the reserved account used to attribute scheduled job
// actions when no human initiator is known.
const SystemUsername = "system"

// A User represents a database record.
type User struct {
	Base `msgpack:",inline" storm:"inline"`

	Username       string `json:"username" msgpack:"username" storm:"unique"`
	Email          string `json:"email"    msgpack:"email"    storm:"unique"`
	HashedPassword string `json:"-"        msgpack:"hashed_password"`
	Admin          bool   `json:"is_admin"    msgpack:"is_admin"`
	FirstLogin     bool   `json:"first_login" msgpack:"first_login"`
}

// NewUser returns a new user with default params.
func NewUser() *User {
	return &User{
		FirstLogin: true,
	}
}

// IsSystem returns true for the reserved system account.
func (u *User) IsSystem() bool {
	return u.Username == SystemUsername
}
