package sftpd

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"
)

// restrictedHandlers implements sftp.Handlers rooted at one directory. Any
// path that canonicalizes outside root is rejected with permission-denied,
// and only open/stat/list_folder/mkdir are honored; every other SFTP
// operation (remove, rename, symlink, setstat, ...) is also
// permission-denied, not merely unimplemented.
type restrictedHandlers struct {
	root string
}

func newRestrictedHandlers(root string) sftp.Handlers {
	h := &restrictedHandlers{root: root}
	return sftp.Handlers{
		FileGet:  h,
		FilePut:  h,
		FileCmd:  h,
		FileList: h,
	}
}

// resolve canonicalizes an SFTP-protocol path (client-supplied, always
// interpreted as rooted at "/") against root. A ".." component can never
// escape root because path.Clean on an absolute path collapses any ".."
// that would cross above "/". A canonical path that already lies under
// root is used as is; any other path is rejoined under root, so an
// absolute path outside the staging tree is re-rooted rather than
// rejected. This function always returns a path that is a prefix match
// of root.
func (h *restrictedHandlers) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	full := filepath.FromSlash(clean)
	if full != h.root && !strings.HasPrefix(full, h.root+string(filepath.Separator)) {
		full = filepath.Join(h.root, clean)
	}
	if full != h.root && !strings.HasPrefix(full, h.root+string(filepath.Separator)) {
		return "", os.ErrPermission
	}
	return full, nil
}

// Fileread backs SFTP "open" for reading.
func (h *restrictedHandlers) Fileread(req *sftp.Request) (io.ReaderAt, error) {
	full, err := h.resolve(req.Filepath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Filewrite backs SFTP "open" for writing. New files are always created at
// mode 0600 regardless of what the client asked for in its attrs: the
// client enforces its own permissions policy after promotion, not the wire.
func (h *restrictedHandlers) Filewrite(req *sftp.Request) (io.WriterAt, error) {
	full, err := h.resolve(req.Filepath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return nil, err
	}
	flags := openFlags(req.Pflags())
	f, err := os.OpenFile(full, flags, 0o600)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Filecmd backs "mkdir" only; every other command (remove, rename,
// symlink, setstat, rmdir, link) is permission-denied.
func (h *restrictedHandlers) Filecmd(req *sftp.Request) error {
	if req.Method != "Mkdir" {
		return os.ErrPermission
	}
	full, err := h.resolve(req.Filepath)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o700)
}

// Filelist backs "stat" and "list_folder"; anything else (readlink, etc.)
// is permission-denied.
func (h *restrictedHandlers) Filelist(req *sftp.Request) (sftp.ListerAt, error) {
	full, err := h.resolve(req.Filepath)
	if err != nil {
		return nil, err
	}
	switch req.Method {
	case "List":
		entries, err := os.ReadDir(full)
		if err != nil {
			return nil, err
		}
		infos := make([]os.FileInfo, 0, len(entries))
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			infos = append(infos, info)
		}
		return listerAt(infos), nil
	case "Stat":
		info, err := os.Stat(full)
		if err != nil {
			return nil, err
		}
		return listerAt([]os.FileInfo{info}), nil
	default:
		return nil, os.ErrPermission
	}
}

// listerAt implements sftp.ListerAt over an in-memory slice, the idiom
// every pkg/sftp request-server example uses for Filelist results.
type listerAt []os.FileInfo

func (l listerAt) ListAt(dest []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(dest, l[offset:])
	if n < len(dest) {
		return n, io.EOF
	}
	return n, nil
}

// openFlags translates the SFTP pflag set to the native os.OpenFile flags,
// following the wb/ab/r+b/a+b/rb mode mapping: write+creat+trunc is a
// truncating create, write+append is append-create, read+write without
// append/creat is an existing-file read-write open, read+write+append is
// an append-create read-write open, and anything else is read-only.
func openFlags(pflags sftp.FileOpenFlags) int {
	switch {
	case pflags.Write && pflags.Append:
		flags := os.O_WRONLY | os.O_APPEND | os.O_CREATE
		if pflags.Read {
			flags = os.O_RDWR | os.O_APPEND | os.O_CREATE
		}
		return flags
	case pflags.Write && pflags.Read:
		flags := os.O_RDWR
		if pflags.Creat {
			flags |= os.O_CREATE
		}
		if pflags.Trunc {
			flags |= os.O_TRUNC
		}
		if pflags.Excl {
			flags |= os.O_EXCL
		}
		return flags
	case pflags.Write:
		flags := os.O_WRONLY
		if pflags.Creat {
			flags |= os.O_CREATE
		}
		if pflags.Trunc {
			flags |= os.O_TRUNC
		}
		if pflags.Excl {
			flags |= os.O_EXCL
		}
		return flags
	default:
		return os.O_RDONLY
	}
}
