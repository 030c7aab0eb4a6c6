// Package identity derives the fallback student identifier from a login handle.
package identity

import "strings"

// DeriveApplicationNumber returns the application number embedded in a login
// handle such as "2024001@school.local". A handle without "@" is taken as the
// bare application number. When domain is non-empty, handles of other domains
// yield no identifier.
func DeriveApplicationNumber(handle, domain string) (string, bool) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", false
	}

	local, host, found := strings.Cut(handle, "@")
	if !found {
		return handle, true
	}
	if local == "" {
		return "", false
	}
	if domain != "" && !strings.EqualFold(host, domain) {
		return "", false
	}
	return local, true
}
