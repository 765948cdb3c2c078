package index

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/starford/flashsync/internal/models"
)

// ResolveLink maps a link target, as written in sourcePath, to an indexed
// note. Unresolvable links yield a Missing entry and no error.
//
// Resolution order:
//   - "./" and "../" targets are joined with the source's folder
//   - "/" targets and targets containing a folder are vault paths
//   - bare names match any note with that file name
//
// Matching is case-insensitive and the ".md" extension is optional.
// When a bare name matches several notes, a note in the source's folder
// wins, then a note at the vault root, then the shortest path.
func (db *DB) ResolveLink(link, sourcePath string) (models.Entry, error) {
	target := strings.TrimSpace(link)
	if target == "" {
		return models.Entry{Kind: models.Missing, Path: link}, nil
	}

	switch {
	case strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../"):
		joined := path.Join(path.Dir(sourcePath), target)
		if joined == ".." || strings.HasPrefix(joined, "../") {
			return models.Entry{Kind: models.Missing, Path: link}, nil
		}
		return db.resolvePath(joined, link)
	case strings.HasPrefix(target, "/"):
		return db.resolvePath(strings.TrimPrefix(target, "/"), link)
	case strings.Contains(target, "/"):
		e, err := db.resolvePath(target, link)
		if err != nil || e.Kind != models.Missing {
			return e, err
		}
		return db.resolveSuffix(target, sourcePath, link)
	default:
		return db.resolveBasename(target, sourcePath, link)
	}
}

func (db *DB) resolvePath(p, link string) (models.Entry, error) {
	candidates := []string{strings.ToLower(p)}
	if !strings.HasSuffix(candidates[0], ".md") {
		candidates = append(candidates, candidates[0]+".md")
	}
	for _, c := range candidates {
		var found string
		rows, err := db.conn.Query(`SELECT path FROM notes WHERE path_lower = ? ORDER BY path`, c)
		if err != nil {
			return models.Entry{}, fmt.Errorf("index: resolve path: %w", err)
		}
		if rows.Next() {
			err = rows.Scan(&found)
		}
		rows.Close()
		if err != nil {
			return models.Entry{}, fmt.Errorf("index: resolve path: %w", err)
		}
		if found != "" {
			return models.Entry{Kind: models.File, Path: found}, nil
		}
	}
	return models.Entry{Kind: models.Missing, Path: link}, nil
}

// resolveSuffix matches "folder/Name" against notes whose path ends with it.
func (db *DB) resolveSuffix(target, sourcePath, link string) (models.Entry, error) {
	paths, err := db.pathsByBasename(basenameKey(target))
	if err != nil {
		return models.Entry{}, err
	}
	suffix := strings.ToLower(strings.TrimSuffix(target, ".md"))
	var matches []string
	for _, p := range paths {
		lp := strings.ToLower(strings.TrimSuffix(p, ".md"))
		if strings.HasSuffix(lp, "/"+suffix) {
			matches = append(matches, p)
		}
	}
	return pick(matches, sourcePath, link), nil
}

func (db *DB) resolveBasename(target, sourcePath, link string) (models.Entry, error) {
	paths, err := db.pathsByBasename(basenameKey(target))
	if err != nil {
		return models.Entry{}, err
	}
	return pick(paths, sourcePath, link), nil
}

func (db *DB) pathsByBasename(key string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT path FROM notes WHERE basename = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("index: resolve basename: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// pick chooses among ambiguous matches. Ties are broken lexicographically
// so resolution is stable across runs.
func pick(matches []string, sourcePath, link string) models.Entry {
	if len(matches) == 0 {
		return models.Entry{Kind: models.Missing, Path: link}
	}
	dir := path.Dir(sourcePath)
	rank := func(p string) int {
		switch {
		case path.Dir(p) == dir:
			return 0
		case !strings.Contains(p, "/"):
			return 1
		default:
			return 2
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		ri, rj := rank(matches[i]), rank(matches[j])
		if ri != rj {
			return ri < rj
		}
		if len(matches[i]) != len(matches[j]) {
			return len(matches[i]) < len(matches[j])
		}
		return matches[i] < matches[j]
	})
	return models.Entry{Kind: models.File, Path: matches[0]}
}
