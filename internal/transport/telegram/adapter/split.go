package adapter

import (
	"strings"
	"unicode/utf8"
)

// Bot API text limit is 4096 UTF-16 units; stay under it in runes.
const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries. In HTML mode every chunk is balanced on its own: tags open at a
// cut are closed there and reopened in the next chunk, and tags and entities
// are never cut.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	if len([]rune(s)) <= limit {
		return []string{s}
	}
	if strings.EqualFold(parseMode, "HTML") {
		return splitHTML(s, limit)
	}
	return splitPlain(s, limit)
}

func splitPlain(s string, limit int) []string {
	rs := []rune(s)
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// atom is an indivisible piece of HTML text: a tag, an entity or one rune.
type atom struct {
	text  string
	runes int
	tag   string // lower-case tag name, empty for text
	close bool
}

type openTag struct {
	name string
	raw  string
}

func splitHTML(s string, limit int) []string {
	atoms := htmlAtoms(s)
	var (
		out   []string
		stack []openTag
	)
	for i := 0; i < len(atoms); {
		if len(out) > 0 {
			for i < len(atoms) && atoms[i].text == "\n" {
				i++
			}
			if i == len(atoms) {
				break
			}
		}
		prefix := reopen(stack)
		var b strings.Builder
		b.WriteString(prefix)
		n := len([]rune(prefix))
		st := stack
		text := false

		// last newline cut after some text: atom index, body length, stack
		cut, cutLen := -1, 0
		var cutStack []openTag

		j := i
		for j < len(atoms) {
			a := atoms[j]
			next := applyTag(st, a)
			if n+a.runes+closersLen(next) > limit && j > i {
				break
			}
			b.WriteString(a.text)
			n += a.runes
			st = next
			if a.tag == "" && a.text != "\n" {
				text = true
			}
			j++
			if a.text == "\n" && n-len([]rune(prefix)) >= limit/3 && text {
				cut, cutLen, cutStack = j, b.Len(), st
			}
		}

		body := b.String()
		if j < len(atoms) && cut > 0 {
			body, st, j = body[:cutLen], cutStack, cut
		}
		if text {
			out = append(out, strings.TrimRight(body, "\n")+closers(st))
		}
		i, stack = j, st
	}
	return out
}

// htmlAtoms breaks s into tags, entities and single runes. A '<' without a
// closing '>' and an '&' without a terminating ';' are plain runes.
func htmlAtoms(s string) []atom {
	var out []atom
	for i := 0; i < len(s); {
		switch s[i] {
		case '<':
			if end := strings.IndexByte(s[i:], '>'); end > 0 {
				raw := s[i : i+end+1]
				name, closing := tagName(raw)
				out = append(out, atom{text: raw, runes: len([]rune(raw)), tag: name, close: closing})
				i += end + 1
				continue
			}
		case '&':
			if end := entityEnd(s[i:]); end > 0 {
				raw := s[i : i+end]
				out = append(out, atom{text: raw, runes: len(raw)})
				i += end
				continue
			}
		}
		_, w := utf8.DecodeRuneInString(s[i:])
		out = append(out, atom{text: s[i : i+w], runes: 1})
		i += w
	}
	return out
}

// entityEnd returns the length of the entity at the start of s, or 0.
func entityEnd(s string) int {
	for i := 1; i < len(s) && i <= 32; i++ {
		c := s[i]
		switch {
		case c == ';':
			if i == 1 {
				return 0
			}
			return i + 1
		case c == '#' && i == 1,
			c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return 0
		}
	}
	return 0
}

func tagName(raw string) (name string, closing bool) {
	t := strings.TrimPrefix(raw[1:len(raw)-1], "/")
	closing = len(t) < len(raw)-2
	if strings.HasSuffix(t, "/") {
		return "", false
	}
	if k := strings.IndexAny(t, " \t\n/"); k >= 0 {
		t = t[:k]
	}
	return strings.ToLower(t), closing
}

// applyTag returns the open-tag stack after a. The input slice is not
// modified.
func applyTag(st []openTag, a atom) []openTag {
	if a.tag == "" {
		return st
	}
	if !a.close {
		next := make([]openTag, len(st), len(st)+1)
		copy(next, st)
		return append(next, openTag{name: a.tag, raw: a.text})
	}
	for k := len(st) - 1; k >= 0; k-- {
		if st[k].name == a.tag {
			return st[:k:k]
		}
	}
	return st
}

func reopen(st []openTag) string {
	var b strings.Builder
	for _, t := range st {
		b.WriteString(t.raw)
	}
	return b.String()
}

func closers(st []openTag) string {
	var b strings.Builder
	for k := len(st) - 1; k >= 0; k-- {
		b.WriteString("</" + st[k].name + ">")
	}
	return b.String()
}

func closersLen(st []openTag) int {
	n := 0
	for _, t := range st {
		n += len([]rune(t.name)) + 3
	}
	return n
}
