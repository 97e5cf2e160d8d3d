package message

import "fmt"

// Type identifies a message schema using dotted notation.
//
// Type constants live next to the payload that uses them:
//
//	var BatchCompletedType = message.Type{Domain: "bot", Category: "batch_completed", Version: "v1"}
type Type struct {
	// Domain identifies the system the message belongs to.
	Domain string

	// Category identifies the message within the domain.
	Category string

	// Version identifies the schema version ("v1", "v2", ...).
	Version string
}

// Key returns "domain.category.version".
func (mt Type) Key() string {
	return fmt.Sprintf("%s.%s.%s", mt.Domain, mt.Category, mt.Version)
}

// String returns the same as Key().
func (mt Type) String() string {
	return mt.Key()
}

// IsValid checks if the Type has all required fields populated.
func (mt Type) IsValid() bool {
	return mt.Domain != "" && mt.Category != "" && mt.Version != ""
}
