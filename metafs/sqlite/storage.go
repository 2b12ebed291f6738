package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/vdisk/data"
	"github.com/mwantia/vdisk/metafs"
)

var _ metafs.MetadataFS = (*SQLiteFS)(nil)

func (sf *SQLiteFS) Exists(ctx context.Context, path string) (bool, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()

	_, ok := sf.keys.Get(metafs.CleanPath(path))
	return ok, nil
}

func (sf *SQLiteFS) IsFile(ctx context.Context, path string) (bool, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()

	id, ok := sf.keys.Get(metafs.CleanPath(path))
	return ok && id != "", nil
}

func (sf *SQLiteFS) IsDirectory(ctx context.Context, path string) (bool, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()

	id, ok := sf.keys.Get(metafs.CleanPath(path))
	return ok && id == "", nil
}

func (sf *SQLiteFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()

	id, ok := sf.keys.Get(metafs.CleanPath(path))
	if !ok {
		return nil, data.ErrNotExist
	}
	if id == "" {
		return nil, data.ErrIsDirectory
	}

	var content []byte
	err := sf.db.QueryRowContext(ctx,
		`SELECT content FROM disk_contents WHERE id = ?`, id).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, data.ErrNotExist
	}
	if err != nil {
		return nil, err
	}

	return content, nil
}

func (sf *SQLiteFS) WriteFile(ctx context.Context, path string, content []byte, sync bool) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	clean := metafs.CleanPath(path)
	now := time.Now().Unix()

	if id, ok := sf.keys.Get(clean); ok {
		if id == "" {
			return data.ErrIsDirectory
		}

		// Update the shared content row so hard-linked paths observe it.
		if _, err := sf.db.ExecContext(ctx,
			`UPDATE disk_contents SET content = ? WHERE id = ?`, content, id); err != nil {
			return err
		}
		_, err := sf.db.ExecContext(ctx,
			`UPDATE disk_entries SET mod_time = ? WHERE path = ?`, now, clean)
		return err
	}

	if err := sf.requireParentUnsafe(clean); err != nil {
		return err
	}

	id := uuid.Must(uuid.NewV7()).String()

	err := sf.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO disk_contents (id, content, links) VALUES (?, ?, 1)`, id, content); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO disk_entries (path, dir, content_id, mod_time) VALUES (?, 0, ?, ?)`,
			clean, id, now)
		return err
	})
	if err != nil {
		return err
	}

	sf.keys.Set(clean, id)
	return nil
}

func (sf *SQLiteFS) Rename(ctx context.Context, oldPath, newPath string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	oldClean := metafs.CleanPath(oldPath)
	newClean := metafs.CleanPath(newPath)

	id, ok := sf.keys.Get(oldClean)
	if !ok {
		return data.ErrNotExist
	}
	if _, ok := sf.keys.Get(newClean); ok {
		return data.ErrExist
	}
	if err := sf.requireParentUnsafe(newClean); err != nil {
		return err
	}

	moved := [][2]string{{oldClean, newClean}}
	if id == "" {
		prefix := oldClean + "/"
		sf.keys.Ascend(prefix, func(key string, _ string) bool {
			if !strings.HasPrefix(key, prefix) {
				return false
			}
			moved = append(moved, [2]string{key, newClean + "/" + key[len(prefix):]})
			return true
		})
	}

	err := sf.inTx(ctx, func(tx *sql.Tx) error {
		for _, m := range moved {
			if _, err := tx.ExecContext(ctx,
				`UPDATE disk_entries SET path = ? WHERE path = ?`, m[1], m[0]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range moved {
		value, _ := sf.keys.Get(m[0])
		sf.keys.Delete(m[0])
		sf.keys.Set(m[1], value)
	}

	return nil
}

func (sf *SQLiteFS) Link(ctx context.Context, src, dst string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	srcClean := metafs.CleanPath(src)
	dstClean := metafs.CleanPath(dst)

	id, ok := sf.keys.Get(srcClean)
	if !ok {
		return data.ErrNotExist
	}
	if id == "" {
		return data.ErrIsDirectory
	}
	if _, ok := sf.keys.Get(dstClean); ok {
		return data.ErrExist
	}
	if err := sf.requireParentUnsafe(dstClean); err != nil {
		return err
	}

	err := sf.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO disk_entries (path, dir, content_id, mod_time) VALUES (?, 0, ?, ?)`,
			dstClean, id, time.Now().Unix()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE disk_contents SET links = links + 1 WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return err
	}

	sf.keys.Set(dstClean, id)
	return nil
}

func (sf *SQLiteFS) Unlink(ctx context.Context, path string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	clean := metafs.CleanPath(path)

	id, ok := sf.keys.Get(clean)
	if !ok {
		return data.ErrNotExist
	}
	if id == "" {
		return data.ErrIsDirectory
	}

	err := sf.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM disk_entries WHERE path = ?`, clean); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE disk_contents SET links = links - 1 WHERE id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM disk_contents WHERE id = ? AND links <= 0`, id)
		return err
	})
	if err != nil {
		return err
	}

	sf.keys.Delete(clean)
	return nil
}

func (sf *SQLiteFS) CreateDirectory(ctx context.Context, path string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	return sf.createDirectoryUnsafe(ctx, metafs.CleanPath(path))
}

func (sf *SQLiteFS) CreateDirectories(ctx context.Context, path string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	clean := metafs.CleanPath(path)

	segments := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	current := ""
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		current += "/" + segment
		if id, ok := sf.keys.Get(current); ok {
			if id != "" {
				return data.ErrNotDirectory
			}
			continue
		}
		if err := sf.createDirectoryUnsafe(ctx, current); err != nil {
			return err
		}
	}

	return nil
}

func (sf *SQLiteFS) RemoveDirectory(ctx context.Context, path string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	clean := metafs.CleanPath(path)

	id, ok := sf.keys.Get(clean)
	if !ok {
		return data.ErrNotExist
	}
	if id != "" {
		return data.ErrNotDirectory
	}
	if sf.hasChildrenUnsafe(clean) {
		return data.ErrNotEmpty
	}

	if _, err := sf.db.ExecContext(ctx,
		`DELETE FROM disk_entries WHERE path = ?`, clean); err != nil {
		return err
	}

	sf.keys.Delete(clean)
	return nil
}

func (sf *SQLiteFS) ListEntries(ctx context.Context, path string) ([]metafs.Entry, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()

	clean := metafs.CleanPath(path)

	id, ok := sf.keys.Get(clean)
	if !ok {
		return nil, data.ErrNotExist
	}
	if id != "" {
		return nil, data.ErrNotDirectory
	}

	prefix := clean + "/"
	if clean == "/" {
		prefix = "/"
	}

	rows, err := sf.db.QueryContext(ctx,
		`SELECT path, dir, mod_time FROM disk_entries WHERE path LIKE ? || '%' ORDER BY path`,
		prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []metafs.Entry
	for rows.Next() {
		var entryPath string
		var dir int
		var modTime int64
		if err := rows.Scan(&entryPath, &dir, &modTime); err != nil {
			return nil, err
		}

		rest := strings.TrimPrefix(entryPath, prefix)
		if entryPath == clean || rest == "" || strings.Contains(rest, "/") {
			continue
		}

		entries = append(entries, metafs.Entry{
			Name:    rest,
			Path:    entryPath,
			Dir:     dir != 0,
			ModTime: time.Unix(modTime, 0),
		})
	}

	return entries, rows.Err()
}

func (sf *SQLiteFS) LastModified(ctx context.Context, path string) (time.Time, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()

	var modTime int64
	err := sf.db.QueryRowContext(ctx,
		`SELECT mod_time FROM disk_entries WHERE path = ?`, metafs.CleanPath(path)).Scan(&modTime)
	if err == sql.ErrNoRows {
		return time.Time{}, data.ErrNotExist
	}
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(modTime, 0), nil
}

func (sf *SQLiteFS) SetLastModified(ctx context.Context, path string, t time.Time) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	clean := metafs.CleanPath(path)
	if _, ok := sf.keys.Get(clean); !ok {
		return data.ErrNotExist
	}

	_, err := sf.db.ExecContext(ctx,
		`UPDATE disk_entries SET mod_time = ? WHERE path = ?`, t.Unix(), clean)
	return err
}

// createDirectoryUnsafe inserts one directory entry.
// MUST be called while holding the write lock.
func (sf *SQLiteFS) createDirectoryUnsafe(ctx context.Context, clean string) error {
	if _, ok := sf.keys.Get(clean); ok {
		return data.ErrExist
	}
	if err := sf.requireParentUnsafe(clean); err != nil {
		return err
	}

	if _, err := sf.db.ExecContext(ctx,
		`INSERT INTO disk_entries (path, dir, mod_time) VALUES (?, 1, ?)`,
		clean, time.Now().Unix()); err != nil {
		return err
	}

	sf.keys.Set(clean, "")
	return nil
}

// hasChildrenUnsafe reports whether a directory has any entries.
// MUST be called while holding at least the read lock.
func (sf *SQLiteFS) hasChildrenUnsafe(clean string) bool {
	prefix := clean + "/"
	if clean == "/" {
		prefix = "/"
	}

	found := false
	sf.keys.Ascend(prefix, func(key string, _ string) bool {
		if key == clean {
			return true
		}
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		found = true
		return false
	})

	return found
}

// requireParentUnsafe verifies the parent of a cleaned path exists and is a
// directory. MUST be called while holding at least the read lock.
func (sf *SQLiteFS) requireParentUnsafe(clean string) error {
	dir, _ := metafs.SplitPath(clean)

	id, ok := sf.keys.Get(dir)
	if !ok {
		return data.ErrNotExist
	}
	if id != "" {
		return data.ErrNotDirectory
	}

	return nil
}

// inTx runs fn inside a transaction.
func (sf *SQLiteFS) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := sf.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
