// Package parser extracts frontmatter, outgoing links, and tags from Markdown content.
package parser

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/starford/flashsync/internal/frontmatter"
)

var (
	wikilinkRe = regexp.MustCompile(`(!?)\[\[(.*?)\]\]`)
	mdLinkRe   = regexp.MustCompile(`(!?)\[[^\]]*\]\(([^)\s]+)\)`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Links       []string
	Tags        []string
	Title       string
	// NoFlashcard is true only for an explicit boolean `no-flashcard: true`.
	NoFlashcard bool
}

// Parse extracts frontmatter, body, links, and tags from raw Markdown bytes.
// A malformed header is treated as part of the body.
func Parse(data []byte) (*Result, error) {
	h, body, err := frontmatter.Parse(data)
	if err != nil {
		h, body = frontmatter.NewHeader(), string(data)
	}
	fm := h.Map()
	exempt, _ := h.Bool("no-flashcard")

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       extractLinks(body),
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, body),
		NoFlashcard: exempt,
	}, nil
}

// extractLinks returns deduplicated link targets in document order. Aliases
// and heading/block subpaths are dropped, embeds and external URLs are
// ignored, and fenced or inline code is skipped.
func extractLinks(body string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(target string) {
		target = strings.TrimSpace(target)
		if target == "" {
			return
		}
		if _, ok := seen[target]; ok {
			return
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}

	inFence := false
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		line = stripInlineCode(line)

		for _, m := range wikilinkRe.FindAllStringSubmatch(line, -1) {
			if m[1] == "!" {
				continue
			}
			add(linkpath(m[2]))
		}
		for _, m := range mdLinkRe.FindAllStringSubmatch(line, -1) {
			if m[1] == "!" || isURL(m[2]) {
				continue
			}
			raw := m[2]
			if dec, err := url.PathUnescape(raw); err == nil {
				raw = dec
			}
			add(linkpath(raw))
		}
	}
	return out
}

// linkpath strips "|alias" and "#subpath" from a raw link.
func linkpath(raw string) string {
	if i := strings.Index(raw, "|"); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.Index(raw, "#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

func stripInlineCode(line string) string {
	if !strings.Contains(line, "`") {
		return line
	}
	var out strings.Builder
	inCode := false
	for i := 0; i < len(line); i++ {
		if line[i] == '`' {
			inCode = !inCode
			continue
		}
		if !inCode {
			out.WriteByte(line[i])
		}
	}
	return out.String()
}

func isURL(target string) bool {
	if i := strings.Index(target, ":"); i > 0 {
		scheme := strings.ToLower(target[:i])
		return scheme == "http" || scheme == "https" || scheme == "mailto" || scheme == "obsidian" || scheme == "file"
	}
	return false
}

// extractTags collects #tags from body and from frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string

	if fm != nil {
		if raw, ok := fm["tags"]; ok {
			if v, ok := raw.([]interface{}); ok {
				for _, item := range v {
					s, ok := item.(string)
					if !ok {
						continue
					}
					s = strings.TrimPrefix(strings.TrimSpace(s), "#")
					if s == "" {
						continue
					}
					if _, dup := seen[s]; !dup {
						seen[s] = struct{}{}
						out = append(out, s)
					}
				}
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		t := m[1]
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if t, ok := fm["title"]; ok {
			if s, ok := t.(string); ok && s != "" {
				return s
			}
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
