package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// NoteRow represents a row in the notes table.
type NoteRow struct {
	Path      string
	Title     string
	Checksum  string
	Tags      []string
	Exempt    bool
	UpdatedAt time.Time
}

// basenameKey is the case-folded file name without the .md extension.
func basenameKey(p string) string {
	b := path.Base(p)
	if strings.HasSuffix(strings.ToLower(b), ".md") {
		b = b[:len(b)-3]
	}
	return strings.ToLower(b)
}

// UpsertNote inserts or replaces a note and its outgoing links within a transaction.
func (db *DB) UpsertNote(n NoteRow, links []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(`
		INSERT INTO notes (path, path_lower, basename, title, checksum, tags, exempt, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			path_lower = excluded.path_lower,
			basename   = excluded.basename,
			title      = excluded.title,
			checksum   = excluded.checksum,
			tags       = excluded.tags,
			exempt     = excluded.exempt,
			updated_at = excluded.updated_at
	`, n.Path, strings.ToLower(n.Path), basenameKey(n.Path), n.Title, n.Checksum, string(tagsJSON), n.Exempt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert note: %w", err)
	}

	// Replace links: delete old then bulk insert in document order.
	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, n.Path); err != nil {
		return fmt.Errorf("index: clear links: %w", err)
	}
	if len(links) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target, position) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for i, target := range links {
			if _, err := stmt.Exec(n.Path, target, i); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteNote removes a note and its outgoing links.
func (db *DB) DeleteNote(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, path); err != nil {
		return fmt.Errorf("index: delete links: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete note: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a note, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM notes WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// GetNote returns the indexed row for path, or nil if the note is unknown.
func (db *DB) GetNote(path string) (*NoteRow, error) {
	var (
		n        NoteRow
		tagsJSON string
	)
	err := db.conn.QueryRow(`SELECT path, title, checksum, tags, exempt, updated_at FROM notes WHERE path = ?`, path).
		Scan(&n.Path, &n.Title, &n.Checksum, &tagsJSON, &n.Exempt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: get note: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &n.Tags); err != nil {
		return nil, fmt.Errorf("index: decode tags: %w", err)
	}
	return &n, nil
}

// AllPaths returns every indexed note path.
func (db *DB) AllPaths() (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT path FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: all paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}

// AllChecksums returns path -> checksum for every indexed note.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// OutgoingLinks returns the link targets of path in document order.
func (db *DB) OutgoingLinks(path string) ([]string, bool, error) {
	var exists int
	err := db.conn.QueryRow(`SELECT 1 FROM notes WHERE path = ?`, path).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("index: outgoing links: %w", err)
	}

	rows, err := db.conn.Query(`SELECT target FROM links WHERE source = ? ORDER BY position`, path)
	if err != nil {
		return nil, false, fmt.Errorf("index: outgoing links: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, false, err
		}
		out = append(out, s)
	}
	return out, true, rows.Err()
}

// BasenameCount returns how many indexed notes share the file name of p.
func (db *DB) BasenameCount(p string) (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes WHERE basename = ?`, basenameKey(p)).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: basename count: %w", err)
	}
	return n, nil
}

// hasNotesUnder reports whether any indexed note lives below folder dir.
func (db *DB) hasNotesUnder(dir string) bool {
	dir = strings.TrimSuffix(dir, "/")
	// "0" sorts right after "/", so the range covers exactly dir's subtree.
	var one int
	err := db.conn.QueryRow(`SELECT 1 FROM notes WHERE path >= ? AND path < ? LIMIT 1`, dir+"/", dir+"0").Scan(&one)
	return err == nil
}
