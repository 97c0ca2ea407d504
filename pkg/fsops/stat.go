package fsops

import (
	"fmt"
	"strconv"
	"strings"
)

// Statx is the numeric metadata of one inode.
type Statx struct {
	Mode  int64 `json:"mode"`
	Ino   int64 `json:"ino"`
	Dev   int64 `json:"dev"`
	Nlink int64 `json:"nlink"`
	UID   int64 `json:"uid"`
	GID   int64 `json:"gid"`
	Size  int64 `json:"size"`
	Atime int64 `json:"atime"`
	Ctime int64 `json:"ctime"`
	Mtime int64 `json:"mtime"`
}

// Stat reads inode metadata with stat(1).
type Stat struct {
	Path        string
	Dereference bool
}

// statFormat: raw mode in hex, then the numeric fields, space separated.
const statFormat = "%f %i %d %h %u %g %s %X %Z %Y"

func (c *Stat) Command() string {
	deref := ""
	if c.Dereference {
		deref = "--dereference "
	}
	return fmt.Sprintf("%s stat %s--format=%s -- %s", prefix(), deref, quote(statFormat), quote(c.Path))
}

func (c *Stat) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	fields := strings.Fields(strings.TrimSpace(stdout))
	if len(fields) != 10 {
		return nil, &CommandError{ExitStatus: exitStatus, Stderr: "unexpected stat output: " + stdout}
	}

	mode, err := strconv.ParseInt(fields[0], 16, 64)
	if err != nil {
		return nil, &CommandError{ExitStatus: exitStatus, Stderr: "unexpected stat mode: " + fields[0]}
	}

	numeric := make([]int64, 9)
	for i, f := range fields[1:] {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, &CommandError{ExitStatus: exitStatus, Stderr: "unexpected stat field: " + f}
		}
		numeric[i] = v
	}

	return &Statx{
		Mode:  mode,
		Ino:   numeric[0],
		Dev:   numeric[1],
		Nlink: numeric[2],
		UID:   numeric[3],
		GID:   numeric[4],
		Size:  numeric[5],
		Atime: numeric[6],
		Ctime: numeric[7],
		Mtime: numeric[8],
	}, nil
}
