// Package normalize implements component A: canonicalizing free-form
// action strings to the stored "verb:noun" form and matching normalized
// actions/resources against policy globs.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// lowerCaser applies Unicode-aware case folding (as opposed to strings.
// ToLower's simple per-rune mapping), so action/resource canonicalization
// is stable for agent names and resource paths carrying non-ASCII text.
var lowerCaser = cases.Lower(language.Und)

// Action canonicalizes a free-form action string to lowercase "verb:noun".
// It accepts "verb:noun", "verb noun", "Verb Noun", "verbNoun", "verb-noun",
// "verb_noun", or a single bare token "verb" (which becomes "verb:*").
// Multi-word nouns are joined with "_". Action is idempotent:
// Action(Action(x)) == Action(x) for every x.
func Action(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	verb, noun, hasNoun := splitVerbNoun(raw)
	verb = lowerCaser.String(verb)
	if !hasNoun {
		return verb + ":*"
	}
	noun = lowerCaser.String(noun)
	return verb + ":" + noun
}

// splitVerbNoun locates the verb/noun boundary across every accepted input
// shape and returns both halves with hasNoun=false for a bare single token.
func splitVerbNoun(raw string) (verb, noun string, hasNoun bool) {
	if idx := strings.Index(raw, ":"); idx >= 0 {
		return raw[:idx], joinWords(raw[idx+1:]), true
	}

	// Input without ':' (a bare token or a multi-word phrase) goes through
	// the tokenizer below, which treats whitespace/hyphen/underscore/
	// camelCase as word breaks.
	words := tokenize(raw)
	switch len(words) {
	case 0:
		return "", "", false
	case 1:
		return words[0], "", false
	default:
		return words[0], strings.Join(words[1:], "_"), true
	}
}

// tokenize splits on whitespace, '-', '_', and camelCase boundaries.
func tokenize(s string) []string {
	var words []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == ' ' || r == '-' || r == '_':
			flush()
		case unicode.IsUpper(r) && i > 0 && !unicode.IsUpper(runes[i-1]):
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// joinWords normalizes a noun-side fragment (which may itself be multi-word
// in "verb noun phrase" or "verb:noun phrase" inputs) into underscore-
// joined lowercase segments.
func joinWords(s string) string {
	words := tokenize(s)
	return strings.Join(words, "_")
}

// MatchAction reports whether the normalized incoming action matches a
// policy rule's action glob. "*" within a glob token matches any single
// segment or any sub-string within a segment; "read:*" matches "read:file"
// and "read:database"; "*:file" matches any verb; "*" alone matches
// everything.
func MatchAction(glob, action string) bool {
	return globMatch(glob, action, ':')
}

// MatchResource matches a resource glob the same way, with "/" treated as
// a literal character rather than a segment separator — only "*" itself
// spans across slashes.
func MatchResource(glob, resource string) bool {
	if glob == "" {
		glob = "*"
	}
	if resource == "" {
		resource = "*"
	}
	return globMatch(glob, resource, 0)
}

// globMatch implements the wildcard semantics shared by action and
// resource matching. sep, when non-zero, splits both sides into segments
// and matches segment-by-segment (so "read:*" matches exactly two
// segments); "*" as a whole glob, or any "*"-only segment, matches the
// corresponding segment wholesale. Within a non-wildcard segment, "*" acts
// as a sub-string wildcard (translated to a simple glob match).
func globMatch(glob, value string, sep rune) bool {
	if glob == "*" {
		return true
	}
	if sep == 0 {
		return segmentMatch(glob, value)
	}

	globParts := strings.Split(glob, string(sep))
	valueParts := strings.Split(value, string(sep))
	if len(globParts) != len(valueParts) {
		return false
	}
	for i := range globParts {
		if !segmentMatch(globParts[i], valueParts[i]) {
			return false
		}
	}
	return true
}

// segmentMatch matches a single glob segment against a single value
// segment, where "*" may appear anywhere in the segment as a sub-string
// wildcard (including the whole segment).
func segmentMatch(glob, value string) bool {
	if glob == "*" {
		return true
	}
	if !strings.Contains(glob, "*") {
		return glob == value
	}

	pieces := strings.Split(glob, "*")
	// Leading piece must be a prefix, trailing piece must be a suffix,
	// interior pieces must occur in order.
	rest := value
	if !strings.HasPrefix(rest, pieces[0]) {
		return false
	}
	rest = rest[len(pieces[0]):]

	for i := 1; i < len(pieces)-1; i++ {
		idx := strings.Index(rest, pieces[i])
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(pieces[i]):]
	}

	last := pieces[len(pieces)-1]
	return strings.HasSuffix(rest, last)
}
