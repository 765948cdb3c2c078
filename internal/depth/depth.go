// Package depth computes the longest chain of links below a concept note.
//
// A note without resolvable note links has depth 1. Otherwise its depth is
// one more than the deepest note it links to. Links that do not resolve to
// a note contribute nothing.
package depth

import (
	"context"
	"fmt"

	"github.com/starford/flashsync/internal/apperr"
	"github.com/starford/flashsync/internal/index"
	"github.com/starford/flashsync/internal/models"
)

// DefaultMaxDepth bounds the traversal when no limit is configured.
const DefaultMaxDepth = 256

// Stat reports what a vault path currently is.
type Stat func(path string) (models.Entry, error)

// Calculator walks the link cache. It is safe for concurrent use; each
// call keeps its own memo.
type Calculator struct {
	links    index.LinkCache
	stat     Stat
	maxDepth int
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithMaxDepth sets the deepest chain accepted before failing with
// apperr.ErrDepthLimit. Values below 1 keep the default.
func WithMaxDepth(n int) Option {
	return func(c *Calculator) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// New creates a Calculator. stat is used to check that the root is a note.
func New(links index.LinkCache, stat Stat, opts ...Option) *Calculator {
	c := &Calculator{links: links, stat: stat, maxDepth: DefaultMaxDepth}
	for _, o := range opts {
		o(c)
	}
	return c
}

// frame is one note on the explicit traversal stack.
type frame struct {
	path     string
	children []string // resolved note paths, in link order
	next     int
	best     int
}

// Depth returns the depth of the note at path.
//
// A link cycle reachable from path fails with apperr.ErrCyclicGraph, a
// chain longer than the configured limit with apperr.ErrDepthLimit, and a
// path that is not a note with apperr.ErrInvalidInput.
func (c *Calculator) Depth(ctx context.Context, path string) (int, error) {
	root, err := c.stat(path)
	if err != nil {
		return 0, fmt.Errorf("depth: stat %s: %w", path, err)
	}
	if !root.IsNote() {
		return 0, fmt.Errorf("depth: %s is %s, not a note: %w", path, root.Kind, apperr.ErrInvalidInput)
	}

	memo := make(map[string]int)
	onPath := make(map[string]bool)

	push := func(stack []*frame, p string) ([]*frame, error) {
		if len(stack) >= c.maxDepth {
			return nil, fmt.Errorf("depth: %s exceeds %d levels: %w", path, c.maxDepth, apperr.ErrDepthLimit)
		}
		children, err := c.resolveChildren(p)
		if err != nil {
			return nil, err
		}
		onPath[p] = true
		return append(stack, &frame{path: p, children: children}), nil
	}

	stack, err := push(nil, root.Path)
	if err != nil {
		return 0, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		top := stack[len(stack)-1]

		if top.next < len(top.children) {
			child := top.children[top.next]
			top.next++
			if d, ok := memo[child]; ok {
				top.best = max(top.best, d)
				continue
			}
			if onPath[child] {
				return 0, fmt.Errorf("depth: %s links back to %s: %w", top.path, child, apperr.ErrCyclicGraph)
			}
			if stack, err = push(stack, child); err != nil {
				return 0, err
			}
			continue
		}

		d := top.best + 1
		memo[top.path] = d
		delete(onPath, top.path)
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return d, nil
		}
		parent := stack[len(stack)-1]
		parent.best = max(parent.best, d)
	}
}

// resolveChildren returns the notes p links to. Unresolved links and links
// to anything other than a note are dropped.
func (c *Calculator) resolveChildren(p string) ([]string, error) {
	links, _, err := c.links.OutgoingLinks(p)
	if err != nil {
		return nil, fmt.Errorf("depth: links of %s: %w", p, err)
	}
	out := make([]string, 0, len(links))
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		e, err := c.links.ResolveLink(l, p)
		if err != nil {
			return nil, fmt.Errorf("depth: resolve %q in %s: %w", l, p, err)
		}
		if !e.IsNote() || seen[e.Path] {
			continue
		}
		seen[e.Path] = true
		out = append(out, e.Path)
	}
	return out, nil
}
