package model

const (
	// TypeIP is a list of single IP addresses.
	TypeIP = "Ip"
	// TypeIPRange is a list of IP ranges.
	TypeIPRange = "Ip Range"
	// TypeString is a list of plain string entries.
	TypeString = "String"
)

// ListTypes enumerates the supported list categories.
var ListTypes = []string{TypeIP, TypeIPRange, TypeString}

// A List represents a database record.
// Items reference their list by name, not by id.
type List struct {
	Base `msgpack:",inline" storm:"inline"`

	Name string `json:"name" msgpack:"name" storm:"unique"`
	Type string `json:"type" msgpack:"type" storm:"index"`
}

// ValidListType returns true when t is a supported list category.
func ValidListType(t string) bool {
	for _, lt := range ListTypes {
		if lt == t {
			return true
		}
	}
	return false
}
