// Package frontmatter splits a note into its YAML header and Markdown body
// and writes the pair back.
//
// The header is kept as a yaml.v3 node tree so key order, comments and
// scalar styles survive a round trip. A header that was never modified is
// written back byte for byte; a modified one is spliced so only the changed
// top-level pairs are re-encoded.
package frontmatter

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const delim = "---"

// ErrInvalid is returned when the header block is not a YAML mapping.
var ErrInvalid = errors.New("frontmatter: invalid header")

// Header is an ordered, string-keyed YAML mapping.
type Header struct {
	node *yaml.Node // MappingNode

	// Original text, used verbatim while the header is unmodified.
	open    string
	raw     string
	close   string
	present bool
	dirty   bool

	// Raw text of each top-level pair keyed by its key node. Nil when the
	// header cannot be spliced and is re-encoded whole.
	lead  string
	spans map[*yaml.Node]span
}

// span is one top-level pair as it appeared in the parsed text.
type span struct {
	text string // key line through the last line of the value
	tail string // blank and comment lines before the next key
	enc  string // encoding of the pair at parse time
}

// NewHeader returns an empty header that is not yet part of any document.
func NewHeader() *Header {
	return &Header{node: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}
}

// Parse separates the leading "---" delimited YAML block from the body.
// Text without such a block yields an empty header and the whole text as body.
func Parse(data []byte) (*Header, string, error) {
	text := string(data)
	open, rest, ok := cutLine(text)
	if !ok || strings.TrimRight(open, "\r\n") != delim {
		return NewHeader(), text, nil
	}

	var raw strings.Builder
	for rest != "" {
		var line string
		line, rest, _ = cutLine(rest)
		if strings.TrimRight(line, "\r\n") == delim {
			h, err := decode(raw.String())
			if err != nil {
				return nil, "", err
			}
			h.open, h.raw, h.close = open, raw.String(), line
			h.present = true
			h.index()
			return h, rest, nil
		}
		raw.WriteString(line)
	}
	// No closing delimiter: everything is body.
	return NewHeader(), text, nil
}

// cutLine splits s after its first newline. ok is false when s has no newline
// and is returned whole as line.
func cutLine(s string) (line, rest string, ok bool) {
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return s, "", false
	}
	return s[:i+1], s[i+1:], true
}

func decode(raw string) (*Header, error) {
	h := NewHeader()
	if strings.TrimSpace(raw) == "" {
		return h, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return h, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return h, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level is not a mapping", ErrInvalid)
	}
	h.node = root
	return h, nil
}

// Stringify renders the header and body back into note text.
func Stringify(body string, h *Header) (string, error) {
	if h == nil || (!h.present && len(h.node.Content) == 0) {
		return body, nil
	}
	if h.present && !h.dirty {
		return h.open + h.raw + h.close + body, nil
	}

	var (
		yml string
		err error
	)
	switch {
	case h.spans != nil:
		yml, err = h.splice()
	case len(h.node.Content) > 0:
		yml, err = encode(h.node)
	}
	if err != nil {
		return "", err
	}

	closeLine := delim + "\n"
	if h.present && strings.HasSuffix(h.close, "\n") {
		closeLine = h.close
	}
	return delim + "\n" + yml + closeLine + body, nil
}

// index records the raw text of every top-level pair. Flow mappings and
// keys sharing a line are left unindexed.
func (h *Header) index() {
	c := h.node.Content
	if len(c) == 0 || h.node.Style&yaml.FlowStyle != 0 {
		return
	}
	lines := strings.SplitAfter(h.raw, "\n")
	starts := make([]int, 0, len(c)/2)
	for i := 0; i+1 < len(c); i += 2 {
		l := c[i].Line - 1
		if l < 0 || l >= len(lines) || (len(starts) > 0 && l <= starts[len(starts)-1]) {
			return
		}
		starts = append(starts, l)
	}

	spans := make(map[*yaml.Node]span, len(starts))
	for k, start := range starts {
		end := len(lines)
		if k+1 < len(starts) {
			end = starts[k+1]
		}
		last := end
		for last > start+1 && trivia(lines[last-1]) {
			last--
		}
		enc, err := encodePair(c[2*k], c[2*k+1])
		if err != nil {
			return
		}
		spans[c[2*k]] = span{
			text: strings.Join(lines[start:last], ""),
			tail: strings.Join(lines[last:end], ""),
			enc:  enc,
		}
	}
	h.lead = strings.Join(lines[:starts[0]], "")
	h.spans = spans
}

// trivia reports whether line is blank or a comment starting in column one.
func trivia(line string) bool {
	line = strings.TrimRight(line, "\r\n")
	return strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#")
}

// splice writes unchanged pairs from the parsed text and encodes the rest.
// New keys follow the original ones.
func (h *Header) splice() (string, error) {
	var b strings.Builder
	b.WriteString(h.lead)
	c := h.node.Content
	for i := 0; i+1 < len(c); i += 2 {
		enc, err := encodePair(c[i], c[i+1])
		if err != nil {
			return "", err
		}
		sp, ok := h.spans[c[i]]
		switch {
		case !ok:
			b.WriteString(enc)
		case enc == sp.enc:
			b.WriteString(sp.text)
			b.WriteString(sp.tail)
		default:
			b.WriteString(enc)
			b.WriteString(sp.tail)
		}
	}
	return b.String(), nil
}

// encodePair encodes one key and its value. Head and foot comments stay in
// the surrounding raw text and are not repeated.
func encodePair(k, v *yaml.Node) (string, error) {
	key, val := *k, *v
	key.HeadComment, key.FootComment = "", ""
	val.HeadComment, val.FootComment = "", ""
	return encode(&yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{&key, &val}})
}

func encode(n *yaml.Node) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return "", fmt.Errorf("frontmatter: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("frontmatter: encode: %w", err)
	}
	return buf.String(), nil
}

// Present reports whether the parsed text had a header block.
func (h *Header) Present() bool { return h.present }

// Modified reports whether the header changed since parsing.
func (h *Header) Modified() bool { return h.dirty }

// Touch marks the header as modified after a caller edited a node in place.
func (h *Header) Touch() { h.dirty = true }

// Keys returns the header keys in document order.
func (h *Header) Keys() []string {
	keys := make([]string, 0, len(h.node.Content)/2)
	for i := 0; i+1 < len(h.node.Content); i += 2 {
		keys = append(keys, h.node.Content[i].Value)
	}
	return keys
}

// Lookup returns the value node stored under key.
func (h *Header) Lookup(key string) (*yaml.Node, bool) {
	for i := 0; i+1 < len(h.node.Content); i += 2 {
		if h.node.Content[i].Value == key {
			return h.node.Content[i+1], true
		}
	}
	return nil, false
}

// String returns the value under key when it is a scalar.
func (h *Header) String(key string) (string, bool) {
	n, ok := h.Lookup(key)
	if !ok || n.Kind != yaml.ScalarNode || n.ShortTag() == "!!null" {
		return "", false
	}
	return n.Value, true
}

// Bool returns the value under key when it is a YAML boolean.
// Strings such as "true" or "yes" in quotes are not booleans.
func (h *Header) Bool(key string) (value, ok bool) {
	n, found := h.Lookup(key)
	if !found || n.Kind != yaml.ScalarNode || n.ShortTag() != "!!bool" {
		return false, false
	}
	if err := n.Decode(&value); err != nil {
		return false, false
	}
	return value, true
}

// SetString stores a string scalar under key, appending the key when absent.
// An existing scalar keeps its quoting style; new scalars get style.
// It reports whether the header changed.
func (h *Header) SetString(key, value string, style yaml.Style) bool {
	if n, ok := h.Lookup(key); ok {
		if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!str" && n.Value == value {
			return false
		}
		keep := n.Style
		if n.Kind != yaml.ScalarNode || keep == 0 {
			keep = style
		}
		*n = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value, Style: keep,
			HeadComment: n.HeadComment, LineComment: n.LineComment, FootComment: n.FootComment}
		h.dirty = true
		return true
	}
	h.node.Content = append(h.node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value, Style: style},
	)
	h.dirty = true
	return true
}

// Sequence returns the sequence stored under key, creating it when missing.
// A null value becomes an empty sequence and a scalar value becomes a
// sequence of its comma-separated parts.
func (h *Header) Sequence(key string) *yaml.Node {
	n, ok := h.Lookup(key)
	if !ok {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		h.node.Content = append(h.node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, seq)
		h.dirty = true
		return seq
	}
	switch n.Kind {
	case yaml.SequenceNode:
		return n
	case yaml.ScalarNode:
		var items []*yaml.Node
		if n.ShortTag() != "!!null" {
			for _, part := range strings.Split(n.Value, ",") {
				if part = strings.TrimSpace(part); part != "" {
					items = append(items, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: part, Style: yaml.DoubleQuotedStyle})
				}
			}
		}
		*n = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: items, LineComment: n.LineComment}
		h.dirty = true
		return n
	default:
		// Mappings and aliases are replaced; there is no sensible list in them.
		*n = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		h.dirty = true
		return n
	}
}

// Map decodes the header into a plain map for read-only consumers.
func (h *Header) Map() map[string]any {
	if len(h.node.Content) == 0 {
		return nil
	}
	var out map[string]any
	if err := h.node.Decode(&out); err != nil {
		return nil
	}
	return out
}
