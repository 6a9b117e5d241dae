package scopekit

import (
	"fmt"
	"slices"
	"strings"
)

// PermissionKey identifies a permission by its (resource, action) pair.
//
// Keys print as "resource:action":
//
//	scopekit.Key("order", "read").String() // "order:read"
type PermissionKey struct {
	Resource string
	Action   string
}

// Key builds a PermissionKey.
func Key(resource, action string) PermissionKey {
	return PermissionKey{Resource: resource, Action: action}
}

// String returns the "resource:action" form of the key.
func (k PermissionKey) String() string {
	return k.Resource + ":" + k.Action
}

// Validate checks that both halves of the key are identifiers.
func (k PermissionKey) Validate() error {
	if !validIdentifier(k.Resource) {
		return NewError(ErrInvalidPermission, fmt.Sprintf("invalid resource %q", k.Resource)).WithPermission(k)
	}
	if !validIdentifier(k.Action) {
		return NewError(ErrInvalidPermission, fmt.Sprintf("invalid action %q", k.Action)).WithPermission(k)
	}
	return nil
}

// ParsePermissionKey parses "resource:action" or "resource.action".
//
// Examples:
//
//	ParsePermissionKey("order:read")      // {order read}
//	ParsePermissionKey("menu.write")      // {menu write}
//	ParsePermissionKey("order")           // error - no action
//	ParsePermissionKey("order:read:all")  // error - too many parts
func ParsePermissionKey(s string) (PermissionKey, error) {
	sep := ":"
	if !strings.Contains(s, sep) {
		sep = "."
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return PermissionKey{}, NewError(ErrInvalidPermission, fmt.Sprintf("malformed permission %q", s))
	}
	key := Key(parts[0], parts[1])
	if err := key.Validate(); err != nil {
		return PermissionKey{}, err
	}
	return key, nil
}

// MustParsePermissionKey is like ParsePermissionKey but panics on error.
// Intended for package-level declarations.
func MustParsePermissionKey(s string) PermissionKey {
	key, err := ParsePermissionKey(s)
	if err != nil {
		panic(err)
	}
	return key
}

// SortPermissionKeys orders keys by resource, then action.
func SortPermissionKeys(keys []PermissionKey) {
	slices.SortFunc(keys, comparePermissionKeys)
}

func comparePermissionKeys(a, b PermissionKey) int {
	if c := strings.Compare(a.Resource, b.Resource); c != 0 {
		return c
	}
	return strings.Compare(a.Action, b.Action)
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
