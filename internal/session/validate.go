package session

import "fmt"

const maxNameLen = 64

// ValidateName reports whether name is usable as a session directory name.
// Names are lowercase alphanumerics plus '-' and '_', at most 64 bytes, so
// they are safe to join onto the state directory path on any filesystem.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("session name %q is longer than %d characters", name, maxNameLen)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("session name %q contains %q: only [a-z0-9_-] is allowed", name, r)
		}
	}
	return nil
}
