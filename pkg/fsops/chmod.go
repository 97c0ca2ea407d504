package fsops

import "fmt"

// Chmod changes the permission mode of a path and re-reads its metadata in
// the same remote pipeline, so the parsed result is the post-state.
type Chmod struct {
	Path string
	Mode string
}

func (c *Chmod) Command() string {
	ls := Ls{Path: c.Path, Directory: true}
	return fmt.Sprintf("%s chmod -v %s -- %s && %s", prefix(), quote(c.Mode), quote(c.Path), ls.Command())
}

func (c *Chmod) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	return parseSingleEntry(stdout, stderr, exitStatus)
}

// Chown changes the ownership of a path and re-reads its metadata.
type Chown struct {
	Path  string
	Owner string
	Group string
}

func (c *Chown) Command() string {
	spec := c.Owner
	if c.Group != "" {
		spec = spec + ":" + c.Group
	}
	ls := Ls{Path: c.Path, Directory: true}
	return fmt.Sprintf("%s chown -v %s -- %s && %s", prefix(), quote(spec), quote(c.Path), ls.Command())
}

func (c *Chown) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	return parseSingleEntry(stdout, stderr, exitStatus)
}

// Mkdir creates a directory and lists the created entry.
type Mkdir struct {
	Path   string
	Parent bool
}

func (c *Mkdir) Command() string {
	flags := ""
	if c.Parent {
		flags = "-p "
	}
	ls := Ls{Path: c.Path, Directory: true}
	return fmt.Sprintf("%s mkdir %s-- %s && %s", prefix(), flags, quote(c.Path), ls.Command())
}

func (c *Mkdir) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	return parseSingleEntry(stdout, stderr, exitStatus)
}

// Symlink creates a symbolic link and lists the new link itself.
type Symlink struct {
	Path     string // target the link points at
	LinkPath string // path of the link to create
}

func (c *Symlink) Command() string {
	ls := Ls{Path: c.LinkPath, Directory: true}
	return fmt.Sprintf("%s ln -s -- %s %s && %s", prefix(), quote(c.Path), quote(c.LinkPath), ls.Command())
}

func (c *Symlink) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	return parseSingleEntry(stdout, stderr, exitStatus)
}
