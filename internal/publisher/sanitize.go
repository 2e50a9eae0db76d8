package publisher

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ErrSanitize marks markup the tokenizer pass could not handle. Sanitize
// recovers from it by stripping every tag.
var ErrSanitize = errors.New("sanitize fault")

// Inline tags Telegram HTML accepts verbatim.
var allowedTags = map[string]bool{
	"b": true, "strong": true,
	"i": true, "em": true,
	"u": true, "ins": true,
	"s": true, "strike": true, "del": true,
	"code": true, "pre": true,
}

const bullet = "• "

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	reNewlines  = regexp.MustCompile(`\n{3,}`)
	stripPolicy = bluemonday.StrictPolicy()
)

// Sanitize reduces s to the allow-listed inline tags. Lists become bullet
// lines, other tags are removed with their text kept, and open tags are
// closed at the end. It never fails: on a fault every tag is stripped.
func Sanitize(s string) string {
	out, _ := sanitize(s)
	return out
}

// sanitize reports whether the strip fallback was used.
func sanitize(s string) (string, bool) {
	out, err := sanitizeTags(s)
	if err != nil {
		return stripTags(s), true
	}
	return out, false
}

func stripTags(s string) string {
	return tidy(stripPolicy.Sanitize(strings.ToValidUTF8(s, "")))
}

func tidy(s string) string {
	return strings.TrimSpace(reNewlines.ReplaceAllString(s, "\n\n"))
}

func sanitizeTags(s string) (out string, err error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: invalid utf-8", ErrSanitize)
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("%w: %v", ErrSanitize, r)
		}
	}()

	var (
		b     strings.Builder
		stack []string
	)
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if !errors.Is(z.Err(), io.EOF) {
				return "", fmt.Errorf("%w: %v", ErrSanitize, z.Err())
			}
			for i := len(stack) - 1; i >= 0; i-- {
				b.WriteString("</" + stack[i] + ">")
			}
			return tidy(b.String()), nil

		case html.TextToken:
			b.WriteString(textEscaper.Replace(string(z.Text())))

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case allowedTags[tag]:
				// <b/> carries no content.
				if tt == html.StartTagToken {
					b.WriteString("<" + tag + ">")
					stack = append(stack, tag)
				}
			case tag == "ul" || tag == "ol":
				b.WriteString("\n")
			case tag == "li":
				b.WriteString(bullet)
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case allowedTags[tag]:
				stack = closeTag(&b, stack, tag)
			case tag == "li", tag == "ul" || tag == "ol":
				b.WriteString("\n")
			}
		}
	}
}

// closeTag pops up to and including the innermost open tag, writing closers.
// A closer with no matching opener is dropped.
func closeTag(b *strings.Builder, stack []string, tag string) []string {
	at := -1
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == tag {
			at = i
			break
		}
	}
	if at < 0 {
		return stack
	}
	for i := len(stack) - 1; i >= at; i-- {
		b.WriteString("</" + stack[i] + ">")
	}
	return stack[:at]
}
