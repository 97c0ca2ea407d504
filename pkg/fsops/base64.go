package fsops

import "fmt"

// Base64Download reads a small file (bounded by the ops size limit via the
// pool buffer limit) and returns its base64-encoded content.
type Base64Download struct {
	Path string
}

func (c *Base64Download) Command() string {
	return fmt.Sprintf("%s base64 --wrap=0 -- %s", prefix(), quote(c.Path))
}

func (c *Base64Download) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	return stdout, nil
}

// Base64Upload decodes base64 text piped on stdin into the target file.
// The request body is encoded by the caller before being handed to
// Execute as stdin.
type Base64Upload struct {
	Path string
}

func (c *Base64Upload) Command() string {
	return fmt.Sprintf("%s bash -c %s", prefix(), quote(fmt.Sprintf("base64 --decode > %s", quote(c.Path))))
}

func (c *Base64Upload) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	return nil, nil
}
