package fsops

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLsCommand(t *testing.T) {
	ls := &Ls{Path: "/u/a", ShowHidden: true, NumericUID: true}
	line := ls.Command()
	assert.Contains(t, line, "timeout 5 ls -l")
	assert.Contains(t, line, "--almost-all")
	assert.Contains(t, line, "--numeric-uid-gid")
	assert.Contains(t, line, "-- '/u/a'")
	assert.NotContains(t, line, "--recursive")
}

func TestLsQuotesHostilePaths(t *testing.T) {
	ls := &Ls{Path: "/u/a/it's here"}
	assert.Contains(t, ls.Command(), `'/u/a/it'\''s here'`)
}

func TestParseListing(t *testing.T) {
	stdout := `total 8
-rw-r----- 1 alice staff 10 2025-05-14T11:52:02 data.txt
drwxr-xr-x 2 alice staff 4096 2025-05-14T11:52:02 subdir
lrwxrwxrwx 1 alice staff 8 2025-05-14T11:52:02 link -> data.txt
`
	result, err := (&Ls{Path: "/u/a"}).ParseOutput(stdout, "", 0)
	require.NoError(t, err)
	entries := result.([]FileEntry)
	require.Len(t, entries, 3)

	assert.Equal(t, "data.txt", entries[0].Name)
	assert.Equal(t, "-", entries[0].Type)
	assert.Equal(t, "rw-r-----", entries[0].Permissions)
	assert.Equal(t, "alice", entries[0].User)
	assert.Equal(t, "10", entries[0].Size)
	assert.Equal(t, "2025-05-14T11:52:02", entries[0].LastModified)

	assert.Equal(t, "d", entries[1].Type)

	assert.Equal(t, "l", entries[2].Type)
	assert.Equal(t, "link", entries[2].Name)
	assert.Equal(t, "data.txt", entries[2].LinkTarget)
}

func TestParseListingRecursive(t *testing.T) {
	stdout := `/u/a:
drwxr-xr-x 2 alice staff 4096 2025-05-14T11:52:02 sub

/u/a/sub:
-rw-r--r-- 1 alice staff 3 2025-05-14T11:52:02 f
`
	result, err := (&Ls{Path: "/u/a", Recursive: true}).ParseOutput(stdout, "", 0)
	require.NoError(t, err)
	entries := result.([]FileEntry)
	require.Len(t, entries, 2)
	assert.Equal(t, "sub", entries[0].Name)
	assert.Equal(t, "sub/f", entries[1].Name)
}

func TestParseListingStripsModeMarkers(t *testing.T) {
	// "+" marks an ACL, "." an SELinux context
	stdout := "-rw-r-----+ 1 alice staff 10 2025-05-14T11:52:02 acl.txt\n" +
		"-rw-r--r--. 1 alice staff 10 2025-05-14T11:52:02 ctx.txt\n"
	result, err := (&Ls{Path: "/u/a"}).ParseOutput(stdout, "", 0)
	require.NoError(t, err)
	entries := result.([]FileEntry)
	require.Len(t, entries, 2)
	assert.Equal(t, "rw-r-----", entries[0].Permissions)
	assert.Equal(t, "rw-r--r--", entries[1].Permissions)
}

func TestChmodCommandChainsReread(t *testing.T) {
	chmod := &Chmod{Path: "/u/a/f", Mode: "640"}
	line := chmod.Command()
	assert.Contains(t, line, "timeout 5 chmod -v '640' -- '/u/a/f'")
	assert.Contains(t, line, "&& timeout 5 ls -l")
	assert.Contains(t, line, "--directory")
}

func TestChownCommand(t *testing.T) {
	chown := &Chown{Path: "/u/a/f", Owner: "alice", Group: "staff"}
	assert.Contains(t, chown.Command(), "chown -v 'alice:staff' -- '/u/a/f'")

	ownerOnly := &Chown{Path: "/u/a/f", Owner: "alice"}
	assert.Contains(t, ownerOnly.Command(), "chown -v 'alice' --")
}

func TestHeadTailOptions(t *testing.T) {
	assert.Contains(t, (&Head{Path: "/f", Bytes: 64}).Command(), "head --bytes='64' --")
	assert.Contains(t, (&Head{Path: "/f", Bytes: 64, SkipTrailing: true}).Command(), "--bytes='-64'")
	assert.Contains(t, (&Head{Path: "/f", Lines: 5}).Command(), "--lines='5'")
	assert.Contains(t, (&Tail{Path: "/f", Bytes: 64, SkipHeading: true}).Command(), "tail --bytes='+64'")
	assert.Contains(t, (&Tail{Path: "/f", Lines: 5}).Command(), "--lines='5'")
}

func TestViewCommandAndSlice(t *testing.T) {
	view := NewView("/u/a/f", 4, 6, 5*1024*1024)
	assert.Equal(t, "timeout 5 dd if='/u/a/f' bs=4 skip=1 count=2", view.Command())

	// dd delivered bytes 4..10 of "ABCDEFGHIJ"
	result, err := view.ParseOutput("EFGHIJ", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "GHIJ", result)
}

func TestViewClampsSize(t *testing.T) {
	view := NewView("/f", 0, 0, 1024)
	assert.EqualValues(t, 1024, view.Size)

	view = NewView("/f", 4096, 0, 1024)
	assert.EqualValues(t, 1024, view.Size)
}

func TestViewOffsetPastEnd(t *testing.T) {
	// dd with the skip past EOF produces no output
	view := &View{Path: "/f", Size: 4, Offset: 100}
	result, err := view.ParseOutput("", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "", result)
}

func TestViewTruncatesAtEOF(t *testing.T) {
	// 7-byte file "ABCDEFG": dd bs=4 skip=1 emits "EFG", the requested
	// range [6, 10) collapses to the single remaining byte
	view := &View{Path: "/f", Size: 4, Offset: 6}
	result, err := view.ParseOutput("EFG", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "G", result)
}

func TestStatParse(t *testing.T) {
	result, err := (&Stat{Path: "/f"}).ParseOutput("81a4 42 64769 1 1000 100 12345 1715680322 1715680323 1715680324", "", 0)
	require.NoError(t, err)
	statx := result.(*Statx)
	assert.EqualValues(t, 0x81a4, statx.Mode)
	assert.EqualValues(t, 42, statx.Ino)
	assert.EqualValues(t, 1000, statx.UID)
	assert.EqualValues(t, 12345, statx.Size)
	assert.EqualValues(t, 1715680324, statx.Mtime)
}

func TestChecksumParse(t *testing.T) {
	stdout := "b5bb9d8014a0f9b1d61e21e796d78dccdf1352f23cd32812f4850b878ae4944c  /u/a/f\n"
	result, err := (&Checksum{Path: "/u/a/f"}).ParseOutput(stdout, "", 0)
	require.NoError(t, err)
	checksum := result.(*ChecksumResult)
	assert.Equal(t, "SHA256", checksum.Algorithm)
	assert.Equal(t, "b5bb9d8014a0f9b1d61e21e796d78dccdf1352f23cd32812f4850b878ae4944c", checksum.Checksum)
}

func TestBase64Commands(t *testing.T) {
	assert.Equal(t, "timeout 5 base64 --wrap=0 -- '/u/a/f'", (&Base64Download{Path: "/u/a/f"}).Command())
	assert.Contains(t, (&Base64Upload{Path: "/u/a/f"}).Command(), "base64 --decode > ")
}

func TestCompressCommand(t *testing.T) {
	compress := &Compress{SourcePath: "/u/a/data", TargetPath: "/u/a/data.tar.gz"}
	line := compress.Command()
	assert.Contains(t, line, "tar  -czvf '/u/a/data.tar.gz' -C '/u/a' 'data'")

	withPattern := &Compress{SourcePath: "/u/a/data", TargetPath: "/t.tar.gz", MatchPattern: `.*\.txt`}
	assert.Contains(t, withPattern.Command(), "find . -type f -regex")
	assert.Contains(t, withPattern.Command(), "--files-from -")

	xz := &Compress{SourcePath: "/u/a/data", TargetPath: "/t.tar.xz", Compression: CompressionXz}
	assert.Contains(t, xz.Command(), "-cJvf")
}

func TestExtractCommand(t *testing.T) {
	extract := &Extract{SourcePath: "/t.tar.gz", TargetPath: "/u/a/out"}
	assert.Contains(t, extract.Command(), "tar -xzf '/t.tar.gz' -C '/u/a/out'")

	none := &Extract{SourcePath: "/t.tar", TargetPath: "/out", Compression: CompressionNone}
	assert.Contains(t, none.Command(), "tar -xf")
}

func TestValidCompression(t *testing.T) {
	assert.True(t, ValidCompression(CompressionGzip))
	assert.True(t, ValidCompression(CompressionNone))
	assert.False(t, ValidCompression("zstd"))
}

func TestMapExitError(t *testing.T) {
	cases := map[string]struct {
		stderr string
		exit   int
		want   error
	}{
		"not found":     {"ls: cannot access '/x': No such file or directory", 2, ErrNotFound},
		"permission":    {"cat: /etc/shadow: Permission denied", 1, ErrPermissionDenied},
		"not permitted": {"chown: changing ownership: Operation not permitted", 1, ErrPermissionDenied},
		"not a dir":     {"cd: /u/a/f: Not a directory", 1, ErrNotADirectory},
		"is a dir":      {"head: error reading '/u/a': Is a directory", 1, ErrIsADirectory},
		"exists":        {"mkdir: cannot create directory '/u/a': File exists", 1, ErrFileExists},
		"invalid mode":  {"chmod: invalid mode: 'xyz'", 1, ErrInvalidArgument},
		"timeout":       {"", 124, ErrUtilityTimeout},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := mapExitError(tc.stderr, tc.exit)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestMapExitErrorUnknown(t *testing.T) {
	err := mapExitError("something odd", 3)
	var commandErr *CommandError
	require.True(t, errors.As(err, &commandErr))
	assert.Equal(t, 3, commandErr.ExitStatus)
	assert.Contains(t, commandErr.Error(), "something odd")
}

func TestRmParse(t *testing.T) {
	result, err := (&Rm{Path: "/u/a/f"}).ParseOutput("", "", 0)
	require.NoError(t, err)
	assert.Nil(t, result)

	_, err = (&Rm{Path: "/u/a/f"}).ParseOutput("", "rm: cannot remove '/u/a/f': No such file or directory", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSymlinkCommand(t *testing.T) {
	symlink := &Symlink{Path: "/u/a/target", LinkPath: "/u/a/link"}
	line := symlink.Command()
	assert.Contains(t, line, "ln -s -- '/u/a/target' '/u/a/link'")
	assert.Contains(t, line, "&& timeout 5 ls -l")
}
