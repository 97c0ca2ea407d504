package fsops

import (
	"fmt"
	"path"
)

// Compression selects the tar compression filter.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionGzip  Compression = "gzip"
	CompressionBzip2 Compression = "bzip2"
	CompressionXz    Compression = "xz"
)

// flag returns the tar single-letter filter flag, or ok=false for an
// unsupported compression type.
func (c Compression) flag() (string, bool) {
	switch c {
	case CompressionNone:
		return "", true
	case CompressionGzip:
		return "z", true
	case CompressionBzip2:
		return "j", true
	case CompressionXz:
		return "J", true
	}
	return "", false
}

// ErrUnsupportedCompression is returned for compression types tar was not
// taught about; the API maps it to 501.
var ErrUnsupportedCompression = fmt.Errorf("the requested compression type is not implemented")

// Compress archives SourcePath into TargetPath. With MatchPattern set only
// regular files matching the regex (relative to the source directory) are
// included.
type Compress struct {
	SourcePath   string
	TargetPath   string
	MatchPattern string
	Dereference  bool
	Compression  Compression
}

func (c *Compress) Command() string {
	compression := c.Compression
	if compression == "" {
		compression = CompressionGzip
	}
	flag, _ := compression.flag()

	options := ""
	if c.Dereference {
		options = "--dereference"
	}

	sourceDir := path.Dir(c.SourcePath)
	sourceFile := path.Base(c.SourcePath)

	if c.MatchPattern != "" {
		inner := fmt.Sprintf("cd %s; %s find . -type f -regex %s -print0 | tar %s -c%svf %s --null --files-from -",
			quote(sourceDir), prefix(), quote(c.MatchPattern), options, flag, quote(c.TargetPath))
		return fmt.Sprintf("%s bash -c %s", prefix(), quote(inner))
	}

	return fmt.Sprintf("%s tar %s -c%svf %s -C %s %s",
		prefix(), options, flag, quote(c.TargetPath), quote(sourceDir), quote(sourceFile))
}

func (c *Compress) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	return stdout, nil
}

// Extract unpacks the archive at SourcePath into the TargetPath directory.
type Extract struct {
	SourcePath  string
	TargetPath  string
	Compression Compression
}

func (c *Extract) Command() string {
	compression := c.Compression
	if compression == "" {
		compression = CompressionGzip
	}
	flag, _ := compression.flag()
	return fmt.Sprintf("%s tar -x%sf %s -C %s", prefix(), flag, quote(c.SourcePath), quote(c.TargetPath))
}

func (c *Extract) ParseOutput(stdout, stderr string, exitStatus int) (any, error) {
	if exitStatus != 0 {
		return nil, mapExitError(stderr, exitStatus)
	}
	return stdout, nil
}

// ValidCompression reports whether the tag names a supported filter.
func ValidCompression(c Compression) bool {
	_, ok := c.flag()
	return ok
}
