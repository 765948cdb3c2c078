package reconcile

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/flashsync/internal/apperr"
)

// LinkFormat selects how the back-reference to a concept is written.
type LinkFormat string

const (
	// FormatWikilink writes [[Name]], or [[folder/Name]] when the name is
	// shared by several notes.
	FormatWikilink LinkFormat = "wikilink"
	// FormatMarkdown writes [Name](relative/path.md).
	FormatMarkdown LinkFormat = "markdown"
)

// ParseLinkFormat accepts the configured format name; empty means wikilink.
func ParseLinkFormat(s string) (LinkFormat, error) {
	switch LinkFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatWikilink:
		return FormatWikilink, nil
	case FormatMarkdown:
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("reconcile: unknown link format %q: %w", s, apperr.ErrInvalidInput)
	}
}

// LinkText returns the canonical link text pointing from flashcardPath at
// conceptPath.
func (r *Reconciler) LinkText(conceptPath, flashcardPath string) (string, error) {
	name := strings.TrimSuffix(path.Base(conceptPath), path.Ext(conceptPath))

	if r.format == FormatMarkdown {
		rel, err := filepath.Rel(path.Dir(flashcardPath), conceptPath)
		if err != nil {
			return "", fmt.Errorf("reconcile: link text: %w", err)
		}
		return "[" + name + "](" + escapePath(filepath.ToSlash(rel)) + ")", nil
	}

	n, err := r.links.BasenameCount(conceptPath)
	if err != nil {
		return "", fmt.Errorf("reconcile: link text: %w", err)
	}
	if n > 1 {
		return "[[" + strings.TrimSuffix(conceptPath, path.Ext(conceptPath)) + "]]", nil
	}
	return "[[" + name + "]]", nil
}

// escapePath percent-encodes each element so spaces and parentheses do not
// break the Markdown link.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
