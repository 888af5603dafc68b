package lineage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/haxwithaxe/certdeploy-go/internal/certdeploy"
	"github.com/haxwithaxe/certdeploy-go/internal/client/config"
)

// Promote validates the lineage staged at srcDir and moves any *.pem file
// that differs from its counterpart in destDir into place, applying perms
// to the directory and each promoted file. It reports whether anything was
// actually moved, so the caller knows whether to arm the update timer.
func Promote(srcDir, destDir string, perms config.Permissions) (bool, error) {
	if err := Validate(srcDir); err != nil {
		return false, err
	}

	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return false, fmt.Errorf("creating lineage destination %s: %w", destDir, err)
	}
	if err := applyPermissions(destDir, perms, true); err != nil {
		return false, err
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return false, certdeploy.InvalidKey(srcDir)
	}

	moved := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		srcPath := filepath.Join(srcDir, entry.Name())
		destPath := filepath.Join(destDir, entry.Name())

		same, err := filesEqual(srcPath, destPath)
		if err != nil {
			return moved, err
		}
		if same {
			continue
		}
		if err := atomicMove(srcPath, destPath); err != nil {
			return moved, fmt.Errorf("promoting %s: %w", srcPath, err)
		}
		if err := applyPermissions(destPath, perms, false); err != nil {
			return moved, err
		}
		moved = true
	}
	return moved, nil
}

func filesEqual(a, b string) (bool, error) {
	bInfo, err := os.Stat(b)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	aInfo, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	if aInfo.Size() != bInfo.Size() {
		return false, nil
	}
	aData, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	bData, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(aData, bData), nil
}

// atomicMove moves src to dest, falling back to copy-then-remove when src
// and dest live on different filesystems (os.Rename's EXDEV), writing to a
// temp file first so a reader never observes a partially written dest.
func atomicMove(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

func applyPermissions(path string, perms config.Permissions, isDir bool) error {
	mode := perms.Mode
	if isDir {
		mode = perms.DirectoryMode
	}
	if mode != nil {
		if err := os.Chmod(path, os.FileMode(*mode)); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
	}

	if perms.Owner == "" && perms.Group == "" {
		return nil
	}
	uid, err := resolveID(perms.Owner, perms.OwnerIsNumber, user.Lookup)
	if err != nil {
		return fmt.Errorf("resolving owner %q: %w", perms.Owner, err)
	}
	gid, err := resolveID(perms.Group, perms.GroupIsNumber, func(name string) (*user.User, error) {
		g, err := user.LookupGroup(name)
		if err != nil {
			return nil, err
		}
		return &user.User{Uid: g.Gid}, nil
	})
	if err != nil {
		return fmt.Errorf("resolving group %q: %w", perms.Group, err)
	}
	if err := os.Chown(path, uid, gid); err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}
	return nil
}

// resolveID returns -1 (leave unchanged) when name is empty, the numeric
// value directly when isNumber is set, or looks the name up via lookup.
func resolveID(name string, isNumber bool, lookup func(string) (*user.User, error)) (int, error) {
	if name == "" {
		return -1, nil
	}
	if isNumber {
		return strconv.Atoi(name)
	}
	u, err := lookup(name)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(u.Uid)
}
