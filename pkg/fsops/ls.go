package fsops

import (
	"fmt"
	"path"
	"strings"
)

// lsTimeStyle formats modification times as ISO-8601 without zone, which
// keeps the listing parseable independently of the remote locale.
const lsTimeStyle = "+%Y-%m-%dT%H:%M:%S"

// Ls lists a directory (or a single entry) in long format and parses the
// rows into FileEntry values.
type Ls struct {
	Path        string
	ShowHidden  bool
	NumericUID  bool
	Recursive   bool
	Dereference bool

	// Directory lists the path itself instead of its content, used by
	// the mutating commands that re-read the entry they touched.
	Directory bool
}

func (c *Ls) Command() string {
	flags := []string{"-l", "--time-style=" + lsTimeStyle}
	if c.ShowHidden {
		flags = append(flags, "--almost-all")
	}
	if c.NumericUID {
		flags = append(flags, "--numeric-uid-gid")
	}
	if c.Recursive {
		flags = append(flags, "--recursive")
	}
	if c.Dereference {
		flags = append(flags, "--dereference")
	}
	if c.Directory {
		flags = append(flags, "--directory")
	}
	return fmt.Sprintf("%s ls %s -- %s", prefix(), strings.Join(flags, " "), quote(c.Path))
}

func (c *Ls) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	return parseListing(stdout), nil
}

// entryType maps the leading mode character of a long-format row.
func entryType(modeChar byte) string {
	switch modeChar {
	case 'd':
		return "d"
	case 'l':
		return "l"
	case 'b':
		return "b"
	case 'c':
		return "c"
	case 'p':
		return "p"
	case 's':
		return "s"
	default:
		return "-"
	}
}

// parseListing turns ls -l output into entries. Recursive listings carry
// "dir:" header lines; entry names are joined with the directory they were
// listed under, relative to the first header.
func parseListing(stdout string) []FileEntry {
	entries := []FileEntry{}
	var root, current string

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "total ") {
			continue
		}
		if strings.HasSuffix(line, ":") && !strings.ContainsAny(line, " \t") {
			dir := strings.TrimSuffix(line, ":")
			if root == "" {
				root = dir
			}
			current = strings.TrimPrefix(strings.TrimPrefix(dir, root), "/")
			continue
		}

		entry, ok := parseLongRow(line)
		if !ok {
			continue
		}
		if current != "" {
			entry.Name = path.Join(current, entry.Name)
		}
		entries = append(entries, entry)
	}
	return entries
}

// parseLongRow parses one row of the form
//
//	-rw-r----- 1 alice staff 10 2025-05-14T11:52:02 name [-> target]
func parseLongRow(line string) (FileEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 7 || len(fields[0]) < 10 {
		return FileEntry{}, false
	}

	mode := fields[0]
	name := strings.Join(fields[6:], " ")
	linkTarget := ""
	if mode[0] == 'l' {
		if idx := strings.Index(name, " -> "); idx >= 0 {
			linkTarget = name[idx+4:]
			name = name[:idx]
		}
	}

	return FileEntry{
		Name:         name,
		Type:         entryType(mode[0]),
		LinkTarget:   linkTarget,
		User:         fields[2],
		Group:        fields[3],
		Permissions:  strings.TrimRight(mode[1:], "+."),
		LastModified: fields[5],
		Size:         fields[4],
	}, true
}

// parseSingleEntry is used by the mutating commands that chain an ls of the
// touched path: the listing is expected to hold exactly one row.
func parseSingleEntry(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	entries := parseListing(stdout)
	if len(entries) == 0 {
		return nil, &CommandError{ExitStatus: exitStatus, Stderr: "empty listing for modified path"}
	}
	return entries[0], nil
}
