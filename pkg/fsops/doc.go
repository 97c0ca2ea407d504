/*
Package fsops defines the filesystem command objects executed over SSH.

Each operation is a small value pairing a shell renderer (Command) with a
pure output parser (ParseOutput). The pool in pkg/sshpool runs the rendered
line in one remote process and feeds the captured stdout, stderr and exit
status back to the parser.

# Conventions

  - Every utility is wrapped in `timeout 5 ...` so a hung coreutil cannot
    pin the SSH channel past the pool's execute timeout.
  - Paths and user-supplied strings are single-quoted for the remote shell.
  - Mutating commands (Chmod, Chown, Mkdir, Symlink) chain an `ls` of the
    touched path in the same pipeline, so the parsed result is always the
    post-state of the entry.
  - On non-zero exit, stderr fragments map to typed errors (ErrNotFound,
    ErrPermissionDenied, ErrNotADirectory, ...); anything unrecognized
    surfaces as *CommandError with the raw stderr attached.

# Commands

  - Ls: long listing normalized into FileEntry rows
  - Chmod / Chown / Mkdir / Symlink: mutation plus post-state listing
  - Stat: numeric inode metadata
  - Head / Tail: bounded content reads by bytes or lines
  - View: dd-based byte-range read tolerating unaligned offsets
  - Checksum: SHA-256 digest
  - FileType: file(1) type tag
  - Rm: recursive removal
  - Base64Download / Base64Upload: small-file content transport
  - Compress / Extract: tar archives with optional pattern matching
*/
package fsops
