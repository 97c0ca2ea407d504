package fsops

import (
	"fmt"
	"strings"
)

// Head returns the first part of a file, by bytes or by lines. With
// SkipTrailing set the output is the whole file without the last N
// bytes/lines instead.
type Head struct {
	Path         string
	Bytes        int64
	Lines        int64
	SkipTrailing bool
}

func (c *Head) Command() string {
	options := ""
	if c.Bytes > 0 {
		if c.SkipTrailing {
			options = fmt.Sprintf("--bytes='-%d' ", c.Bytes)
		} else {
			options = fmt.Sprintf("--bytes='%d' ", c.Bytes)
		}
	}
	if c.Lines > 0 {
		if c.SkipTrailing {
			options = fmt.Sprintf("--lines='-%d' ", c.Lines)
		} else {
			options = fmt.Sprintf("--lines='%d' ", c.Lines)
		}
	}
	return fmt.Sprintf("%s head %s-- %s", prefix(), options, quote(c.Path))
}

func (c *Head) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	return stdout, nil
}

// Tail returns the last part of a file, by bytes or by lines. With
// SkipHeading set the output starts at byte/line N instead.
type Tail struct {
	Path        string
	Bytes       int64
	Lines       int64
	SkipHeading bool
}

func (c *Tail) Command() string {
	options := ""
	if c.Bytes > 0 {
		if c.SkipHeading {
			options = fmt.Sprintf("--bytes='+%d' ", c.Bytes)
		} else {
			options = fmt.Sprintf("--bytes='%d' ", c.Bytes)
		}
	}
	if c.Lines > 0 {
		if c.SkipHeading {
			options = fmt.Sprintf("--lines='+%d' ", c.Lines)
		} else {
			options = fmt.Sprintf("--lines='%d' ", c.Lines)
		}
	}
	return fmt.Sprintf("%s tail %s-- %s", prefix(), options, quote(c.Path))
}

func (c *Tail) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	return stdout, nil
}

// Checksum computes the SHA-256 digest of a file.
type Checksum struct {
	Path string
}

// ChecksumResult pairs the digest with its algorithm tag.
type ChecksumResult struct {
	Algorithm string `json:"algorithm"`
	Checksum  string `json:"checksum"`
}

func (c *Checksum) Command() string {
	return fmt.Sprintf("%s sha256sum -- %s", prefix(), quote(c.Path))
}

func (c *Checksum) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	fields := strings.Fields(stdout)
	if len(fields) < 1 {
		return nil, &CommandError{ExitStatus: exitStatus, Stderr: "unexpected sha256sum output"}
	}
	return &ChecksumResult{Algorithm: "SHA256", Checksum: fields[0]}, nil
}

// FileType reports the textual type tag produced by file(1).
type FileType struct {
	Path string
}

func (c *FileType) Command() string {
	return fmt.Sprintf("%s file --brief -- %s", prefix(), quote(c.Path))
}

func (c *FileType) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	return strings.TrimSpace(stdout), nil
}

// Rm removes a path recursively. Success produces no output.
type Rm struct {
	Path string
}

func (c *Rm) Command() string {
	return fmt.Sprintf("%s rm -r --interactive=never -- %s", prefix(), quote(c.Path))
}

func (c *Rm) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	return nil, nil
}
