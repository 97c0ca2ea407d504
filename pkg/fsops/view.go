package fsops

import "fmt"

// View reads size bytes at offset using dd. The block size equals the
// requested size and two blocks are read, so an offset that is not a
// multiple of size still lands inside the captured window at the cost of at
// most one extra block; the parser then slices the exact range out.
type View struct {
	Path   string
	Size   int64
	Offset int64
}

// NewView clamps size to sizeLimit and derives the dd skip count.
func NewView(path string, size, offset, sizeLimit int64) *View {
	if size <= 0 || size > sizeLimit {
		size = sizeLimit
	}
	if offset < 0 {
		offset = 0
	}
	return &View{Path: path, Size: size, Offset: offset}
}

func (c *View) skip() int64 {
	return c.Offset / c.Size
}

func (c *View) Command() string {
	return fmt.Sprintf("%s dd if=%s bs=%d skip=%d count=2", prefix(), quote(c.Path), c.Size, c.skip())
}

func (c *View) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	start := c.Offset % c.Size
	if start > int64(len(stdout)) {
		return "", nil
	}
	end := start + c.Size
	if end > int64(len(stdout)) {
		end = int64(len(stdout))
	}
	return stdout[start:end], nil
}
