// Package parser tokenizes free-form text (note content, DMs) into
// nostr: URIs, URLs, hashtags, line breaks, whitespace runs and plain
// text, mirroring the token set a Nostr client needs to render rich
// content.
package parser

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/nbd-wtf/go-nostr/nip19"
)

// TokenKind classifies a Token.
type TokenKind int

const (
	Text TokenKind = iota
	NostrURI
	URL
	Hashtag
	LineBreak
	Whitespace
)

// Token is one scanned unit of text.
type Token struct {
	Kind TokenKind
	Raw  string // the exact substring that produced this token

	// Populated only for NostrURI tokens.
	URIPrefix string      // e.g. "npub", "nevent", "naddr"
	URIValue  interface{} // decoded payload from nip19.Decode
}

// Options selects which token kinds the scanner recognizes, one flag
// per kind. A disabled kind doesn't disappear: its characters fold
// into the surrounding Text run (or vanish entirely if Text is also
// disabled).
type Options struct {
	NostrURIs  bool
	URLs       bool
	Hashtags   bool
	Text       bool
	LineBreak  bool
	Whitespace bool
}

// DefaultOptions enables every recognizer.
func DefaultOptions() Options {
	return Options{
		NostrURIs:  true,
		URLs:       true,
		Hashtags:   true,
		Text:       true,
		LineBreak:  true,
		Whitespace: true,
	}
}

// hashtagBoundary lists characters that terminate a hashtag, per the
// rust-nostr parser's disallowed-character set.
const hashtagBoundary = ".,!?()[]{}\"'@#;:&*+=<>/\\|^~%$`"

// urlTrailingPunctuation lists characters popped off the end of a
// scanned URL before unmatched-parenthesis handling runs, so that
// "(see https://example.com)" doesn't swallow the closing paren.
const urlTrailingPunctuation = ".,;:!?)]}"

// urlExtraRunes lists the non-alphanumeric ASCII bytes a URL may
// contain, mirroring RFC 3986's unreserved and sub-delim characters
// plus the generic-syntax punctuation actually seen in Nostr content.
const urlExtraRunes = "-._~:/?#[]@!$&'()*+,;=%"

// New tokenizes text into an ordered slice using the default options.
func New(text string) []Token {
	return Tokenize(text, DefaultOptions())
}

// Tokenize scans text under the given options.
func Tokenize(text string, opts Options) []Token {
	var tokens []Token
	runes := []rune(text)
	n := len(runes)
	i := 0
	textStart := 0

	flushText := func(end int) {
		if !opts.Text {
			return
		}
		if end > textStart {
			tokens = append(tokens, Token{Kind: Text, Raw: string(runes[textStart:end])})
		}
	}

	atWordBoundary := func(pos int) bool {
		return pos == 0 || unicode.IsSpace(runes[pos-1])
	}

	for i < n {
		r := runes[i]

		switch {
		case r == '\n' && opts.LineBreak:
			flushText(i)
			tokens = append(tokens, Token{Kind: LineBreak, Raw: "\n"})
			i++
			textStart = i

		case unicode.IsSpace(r) && opts.Whitespace:
			flushText(i)
			j := i
			for j < n && unicode.IsSpace(runes[j]) && (runes[j] != '\n' || !opts.LineBreak) {
				j++
			}
			tokens = append(tokens, Token{Kind: Whitespace, Raw: string(runes[i:j])})
			i = j
			textStart = i

		case opts.NostrURIs && hasPrefixAt(runes, i, "nostr:"):
			if tok, adv, ok := scanNostrURI(runes, i); ok {
				flushText(i)
				tokens = append(tokens, tok)
				i += adv
				textStart = i
				continue
			}
			i++

		case opts.URLs && looksLikeScheme(runes, i):
			if tok, adv, ok := scanURL(runes, i); ok {
				flushText(i)
				tokens = append(tokens, tok)
				i += adv
				textStart = i
				continue
			}
			i++

		case opts.Hashtags && r == '#' && atWordBoundary(i):
			if tok, adv, ok := scanHashtag(runes, i); ok {
				flushText(i)
				tokens = append(tokens, tok)
				i += adv
				textStart = i
				continue
			}
			i++

		default:
			i++
		}
	}
	flushText(n)
	return tokens
}

func hasPrefixAt(runes []rune, i int, prefix string) bool {
	p := []rune(prefix)
	if i+len(p) > len(runes) {
		return false
	}
	for k, pr := range p {
		if runes[i+k] != pr {
			return false
		}
	}
	return true
}

func scanNostrURI(runes []rune, start int) (Token, int, bool) {
	rest := start + len("nostr:")
	j := rest
	for j < len(runes) && isBech32Char(runes[j]) {
		j++
	}
	if j == rest {
		return Token{}, 0, false
	}
	raw := string(runes[start:j])
	bech := string(runes[rest:j])

	prefix, value, err := nip19.Decode(bech)
	if err != nil {
		return Token{}, 0, false
	}
	return Token{Kind: NostrURI, Raw: raw, URIPrefix: prefix, URIValue: value}, j - start, true
}

func isBech32Char(r rune) bool {
	if r >= 'a' && r <= 'z' {
		return true
	}
	if r >= '0' && r <= '9' {
		return true
	}
	return false
}

func looksLikeScheme(runes []rune, i int) bool {
	j := i
	for j < len(runes) && isSchemeChar(runes[j]) {
		j++
	}
	return j > i && hasPrefixAt(runes, j, "://")
}

func isSchemeChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '+' || r == '-' || r == '.'
}

// scanURL scans a run of RFC-3986-ish URL characters starting at a
// validated "scheme://" prefix, then trims trailing punctuation and an
// unmatched closing parenthesis off the end so surrounding prose
// punctuation ("see https://example.com.", "(https://example.com)")
// doesn't get absorbed into the token.
func scanURL(runes []rune, start int) (Token, int, bool) {
	schemeEnd := start
	for schemeEnd < len(runes) && isSchemeChar(runes[schemeEnd]) {
		schemeEnd++
	}
	afterScheme := schemeEnd + len([]rune("://"))

	end := afterScheme
	for end < len(runes) && !unicode.IsSpace(runes[end]) && isAllowedURLRune(runes[end]) {
		end++
	}
	if end <= afterScheme {
		return Token{}, 0, false
	}

	actualEnd := end
	for actualEnd > afterScheme && strings.ContainsRune(urlTrailingPunctuation, runes[actualEnd-1]) {
		actualEnd--
	}
	if actualEnd > afterScheme && runes[actualEnd-1] == ')' {
		actualEnd = trimUnmatchedParen(runes, start, actualEnd)
	}
	if actualEnd <= afterScheme {
		return Token{}, 0, false
	}

	raw := string(runes[start:actualEnd])
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Token{}, 0, false
	}
	return Token{Kind: URL, Raw: raw}, actualEnd - start, true
}

// trimUnmatchedParen drops a trailing ')' that has no matching '(' within
// the scanned span, so "(https://example.com/wiki/Foo)" stops at the '.'
// or ')' that prose, not the URL, put there.
func trimUnmatchedParen(runes []rune, start, end int) int {
	open, closed := 0, 0
	for _, r := range runes[start:end] {
		switch r {
		case '(':
			open++
		case ')':
			closed++
		}
	}
	if closed > open {
		end--
	}
	return end
}

func isAllowedURLRune(r rune) bool {
	if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
		return true
	}
	return strings.ContainsRune(urlExtraRunes, r)
}

func scanHashtag(runes []rune, start int) (Token, int, bool) {
	j := start + 1
	for j < len(runes) && !unicode.IsSpace(runes[j]) && !strings.ContainsRune(hashtagBoundary, runes[j]) {
		j++
	}
	if j == start+1 {
		return Token{}, 0, false
	}
	return Token{Kind: Hashtag, Raw: string(runes[start:j])}, j - start, true
}
