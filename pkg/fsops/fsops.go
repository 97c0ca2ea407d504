package fsops

import (
	"fmt"
	"strings"
)

// UtilitiesTimeout is the timeout(1) allowance wrapped around every remote
// utility, in seconds. It protects the SSH channel from a hung coreutil
// independently of the pool's execute timeout.
const UtilitiesTimeout = 5

// prefix renders the timeout wrapper every command starts with.
func prefix() string {
	return fmt.Sprintf("timeout %d", UtilitiesTimeout)
}

// quote single-quotes s for the remote shell, escaping embedded quotes.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// FileEntry is one normalized ls row.
type FileEntry struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	LinkTarget   string `json:"linkTarget,omitempty"`
	User         string `json:"user"`
	Group        string `json:"group"`
	Permissions  string `json:"permissions"`
	LastModified string `json:"lastModified"`
	Size         string `json:"size"`
}
