package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mwantia/vdisk/data"
	"github.com/mwantia/vdisk/metafs"
)

var _ metafs.MetadataFS = (*PostgresFS)(nil)

func (pf *PostgresFS) Exists(ctx context.Context, path string) (bool, error) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	_, ok := pf.keys.Get(metafs.CleanPath(path))
	return ok, nil
}

func (pf *PostgresFS) IsFile(ctx context.Context, path string) (bool, error) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	id, ok := pf.keys.Get(metafs.CleanPath(path))
	return ok && id != "", nil
}

func (pf *PostgresFS) IsDirectory(ctx context.Context, path string) (bool, error) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	id, ok := pf.keys.Get(metafs.CleanPath(path))
	return ok && id == "", nil
}

func (pf *PostgresFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	id, ok := pf.keys.Get(metafs.CleanPath(path))
	if !ok {
		return nil, data.ErrNotExist
	}
	if id == "" {
		return nil, data.ErrIsDirectory
	}

	var content []byte
	err := pf.pool.QueryRow(ctx,
		`SELECT content FROM disk_contents WHERE id = $1`, id).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, data.ErrNotExist
	}
	if err != nil {
		return nil, err
	}

	return content, nil
}

func (pf *PostgresFS) WriteFile(ctx context.Context, path string, content []byte, sync bool) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	clean := metafs.CleanPath(path)
	now := time.Now().Unix()

	if id, ok := pf.keys.Get(clean); ok {
		if id == "" {
			return data.ErrIsDirectory
		}

		// Update the shared content row so hard-linked paths observe it.
		if _, err := pf.pool.Exec(ctx,
			`UPDATE disk_contents SET content = $1 WHERE id = $2`, content, id); err != nil {
			return err
		}
		_, err := pf.pool.Exec(ctx,
			`UPDATE disk_entries SET mod_time = $1 WHERE path = $2`, now, clean)
		return err
	}

	if err := pf.requireParentUnsafe(clean); err != nil {
		return err
	}

	id := uuid.Must(uuid.NewV7()).String()

	err := pf.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO disk_contents (id, content, links) VALUES ($1, $2, 1)`, id, content); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO disk_entries (path, dir, content_id, mod_time) VALUES ($1, FALSE, $2, $3)`,
			clean, id, now)
		return err
	})
	if err != nil {
		return err
	}

	pf.keys.Set(clean, id)
	return nil
}

func (pf *PostgresFS) Rename(ctx context.Context, oldPath, newPath string) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	oldClean := metafs.CleanPath(oldPath)
	newClean := metafs.CleanPath(newPath)

	id, ok := pf.keys.Get(oldClean)
	if !ok {
		return data.ErrNotExist
	}
	if _, ok := pf.keys.Get(newClean); ok {
		return data.ErrExist
	}
	if err := pf.requireParentUnsafe(newClean); err != nil {
		return err
	}

	moved := [][2]string{{oldClean, newClean}}
	if id == "" {
		prefix := oldClean + "/"
		pf.keys.Ascend(prefix, func(key string, _ string) bool {
			if !strings.HasPrefix(key, prefix) {
				return false
			}
			moved = append(moved, [2]string{key, newClean + "/" + key[len(prefix):]})
			return true
		})
	}

	err := pf.inTx(ctx, func(tx pgx.Tx) error {
		for _, m := range moved {
			if _, err := tx.Exec(ctx,
				`UPDATE disk_entries SET path = $1 WHERE path = $2`, m[1], m[0]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range moved {
		value, _ := pf.keys.Get(m[0])
		pf.keys.Delete(m[0])
		pf.keys.Set(m[1], value)
	}

	return nil
}

func (pf *PostgresFS) Link(ctx context.Context, src, dst string) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	srcClean := metafs.CleanPath(src)
	dstClean := metafs.CleanPath(dst)

	id, ok := pf.keys.Get(srcClean)
	if !ok {
		return data.ErrNotExist
	}
	if id == "" {
		return data.ErrIsDirectory
	}
	if _, ok := pf.keys.Get(dstClean); ok {
		return data.ErrExist
	}
	if err := pf.requireParentUnsafe(dstClean); err != nil {
		return err
	}

	err := pf.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO disk_entries (path, dir, content_id, mod_time) VALUES ($1, FALSE, $2, $3)`,
			dstClean, id, time.Now().Unix()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE disk_contents SET links = links + 1 WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return err
	}

	pf.keys.Set(dstClean, id)
	return nil
}

func (pf *PostgresFS) Unlink(ctx context.Context, path string) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	clean := metafs.CleanPath(path)

	id, ok := pf.keys.Get(clean)
	if !ok {
		return data.ErrNotExist
	}
	if id == "" {
		return data.ErrIsDirectory
	}

	err := pf.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM disk_entries WHERE path = $1`, clean); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE disk_contents SET links = links - 1 WHERE id = $1`, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM disk_contents WHERE id = $1 AND links <= 0`, id)
		return err
	})
	if err != nil {
		return err
	}

	pf.keys.Delete(clean)
	return nil
}

func (pf *PostgresFS) CreateDirectory(ctx context.Context, path string) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	return pf.createDirectoryUnsafe(ctx, metafs.CleanPath(path))
}

func (pf *PostgresFS) CreateDirectories(ctx context.Context, path string) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	clean := metafs.CleanPath(path)

	segments := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	current := ""
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		current += "/" + segment
		if id, ok := pf.keys.Get(current); ok {
			if id != "" {
				return data.ErrNotDirectory
			}
			continue
		}
		if err := pf.createDirectoryUnsafe(ctx, current); err != nil {
			return err
		}
	}

	return nil
}

func (pf *PostgresFS) RemoveDirectory(ctx context.Context, path string) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	clean := metafs.CleanPath(path)

	id, ok := pf.keys.Get(clean)
	if !ok {
		return data.ErrNotExist
	}
	if id != "" {
		return data.ErrNotDirectory
	}
	if pf.hasChildrenUnsafe(clean) {
		return data.ErrNotEmpty
	}

	if _, err := pf.pool.Exec(ctx,
		`DELETE FROM disk_entries WHERE path = $1`, clean); err != nil {
		return err
	}

	pf.keys.Delete(clean)
	return nil
}

func (pf *PostgresFS) ListEntries(ctx context.Context, path string) ([]metafs.Entry, error) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	clean := metafs.CleanPath(path)

	id, ok := pf.keys.Get(clean)
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

	rows, err := pf.pool.Query(ctx,
		`SELECT path, dir, mod_time FROM disk_entries WHERE path LIKE $1 || '%' ORDER BY path`,
		prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []metafs.Entry
	for rows.Next() {
		var entryPath string
		var dir bool
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
			Dir:     dir,
			ModTime: time.Unix(modTime, 0),
		})
	}

	return entries, rows.Err()
}

func (pf *PostgresFS) LastModified(ctx context.Context, path string) (time.Time, error) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	var modTime int64
	err := pf.pool.QueryRow(ctx,
		`SELECT mod_time FROM disk_entries WHERE path = $1`, metafs.CleanPath(path)).Scan(&modTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, data.ErrNotExist
	}
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(modTime, 0), nil
}

func (pf *PostgresFS) SetLastModified(ctx context.Context, path string, t time.Time) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	clean := metafs.CleanPath(path)
	if _, ok := pf.keys.Get(clean); !ok {
		return data.ErrNotExist
	}

	_, err := pf.pool.Exec(ctx,
		`UPDATE disk_entries SET mod_time = $1 WHERE path = $2`, t.Unix(), clean)
	return err
}

// createDirectoryUnsafe inserts one directory entry.
// MUST be called while holding the write lock.
func (pf *PostgresFS) createDirectoryUnsafe(ctx context.Context, clean string) error {
	if _, ok := pf.keys.Get(clean); ok {
		return data.ErrExist
	}
	if err := pf.requireParentUnsafe(clean); err != nil {
		return err
	}

	if _, err := pf.pool.Exec(ctx,
		`INSERT INTO disk_entries (path, dir, mod_time) VALUES ($1, TRUE, $2)`,
		clean, time.Now().Unix()); err != nil {
		return err
	}

	pf.keys.Set(clean, "")
	return nil
}

// hasChildrenUnsafe reports whether a directory has any entries.
// MUST be called while holding at least the read lock.
func (pf *PostgresFS) hasChildrenUnsafe(clean string) bool {
	prefix := clean + "/"
	if clean == "/" {
		prefix = "/"
	}

	found := false
	pf.keys.Ascend(prefix, func(key string, _ string) bool {
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
func (pf *PostgresFS) requireParentUnsafe(clean string) error {
	dir, _ := metafs.SplitPath(clean)

	id, ok := pf.keys.Get(dir)
	if !ok {
		return data.ErrNotExist
	}
	if id != "" {
		return data.ErrNotDirectory
	}

	return nil
}

// inTx runs fn inside a transaction.
func (pf *PostgresFS) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := pf.pool.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}
