package diff

import "strings"

// Tag classifies one word of a suggestion relative to the original text.
type Tag string

const (
	TagUnchanged     Tag = "unchanged"
	TagAdded         Tag = "added"
	TagPositionError Tag = "position-error"
	TagNativeOnly    Tag = "native-only"
)

// Token is one word of the rendered comparison, punctuation included as
// split.
type Token struct {
	Text string
	Tag  Tag
}

// Mode selects the comparison branch. User mode distinguishes word-order
// mistakes from new vocabulary; corrected and natural modes only mark
// words absent from the original.
type Mode string

const (
	ModeUser      Mode = "user"
	ModeCorrected Mode = "corrected"
	ModeNatural   Mode = "natural"
)

// DefaultPositionThreshold is how far a word may drift from its position
// in the original before it counts as a word-order mistake. The value is
// tuned product behavior, kept configurable rather than trusted.
const DefaultPositionThreshold = 2

// Options tune the highlighter per call.
type Options struct {
	Language          string
	PositionThreshold int
}

func DefaultOptions() Options {
	return Options{PositionThreshold: DefaultPositionThreshold}
}

func (o Options) threshold() int {
	if o.PositionThreshold <= 0 {
		return DefaultPositionThreshold
	}
	return o.PositionThreshold
}

// Highlight tags every word of suggestion against original. Equivalent or
// degenerate inputs short-circuit to the suggestion fully unchanged.
func Highlight(original, suggestion string, mode Mode, opts Options) []Token {
	words := strings.Fields(suggestion)
	if len(words) == 0 {
		return nil
	}

	if strings.TrimSpace(original) == "" || Equivalent(original, suggestion, opts.Language) {
		return allUnchanged(words)
	}

	switch mode {
	case ModeUser:
		return highlightUser(original, words, opts)
	default:
		return highlightAgainstSet(original, words, opts)
	}
}

// highlightUser aligns suggestion words to their positions in the original.
// A word found within the position threshold of where it sits now is
// unchanged; found only further away it is a word-order mistake, but only
// when ordering is the sole discrepancy. Otherwise it reads as new text.
func highlightUser(original string, words []string, opts Options) []Token {
	origWords := strings.Fields(original)

	positions := make(map[string][]int, len(origWords))
	origSet := make(map[string]struct{}, len(origWords))
	for i, w := range origWords {
		n := Normalize(w, opts.Language)
		positions[n] = append(positions[n], i)
		origSet[n] = struct{}{}
	}

	suggSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		suggSet[Normalize(w, opts.Language)] = struct{}{}
	}

	orderOnly := true
	for n := range origSet {
		if _, ok := suggSet[n]; !ok {
			orderOnly = false
			break
		}
	}
	if orderOnly {
		for n := range suggSet {
			if _, ok := origSet[n]; !ok {
				orderOnly = false
				break
			}
		}
	}

	tokens := make([]Token, 0, len(words))
	for i, w := range words {
		n := Normalize(w, opts.Language)

		occ, ok := positions[n]
		if !ok {
			tokens = append(tokens, Token{Text: w, Tag: TagAdded})
			continue
		}

		closest := -1
		for _, p := range occ {
			d := p - i
			if d < 0 {
				d = -d
			}
			if closest < 0 || d < closest {
				closest = d
			}
		}

		switch {
		case closest <= opts.threshold():
			tokens = append(tokens, Token{Text: w, Tag: TagUnchanged})
		case orderOnly:
			tokens = append(tokens, Token{Text: w, Tag: TagPositionError})
		default:
			tokens = append(tokens, Token{Text: w, Tag: TagAdded})
		}
	}

	return tokens
}

// highlightAgainstSet is the corrected/natural branch: membership in the
// original's normalized word set is all that matters.
func highlightAgainstSet(original string, words []string, opts Options) []Token {
	origSet := make(map[string]struct{})
	for _, w := range strings.Fields(original) {
		origSet[Normalize(w, opts.Language)] = struct{}{}
	}

	tokens := make([]Token, 0, len(words))
	for _, w := range words {
		if _, ok := origSet[Normalize(w, opts.Language)]; ok {
			tokens = append(tokens, Token{Text: w, Tag: TagUnchanged})
		} else {
			tokens = append(tokens, Token{Text: w, Tag: TagAdded})
		}
	}

	return tokens
}

// HighlightNonNative tags words of the user's message that do not occur in
// the native speaker's version.
func HighlightNonNative(userMessage, nativeMessage string, opts Options) []Token {
	words := strings.Fields(userMessage)
	if len(words) == 0 {
		return nil
	}

	if strings.TrimSpace(nativeMessage) == "" {
		return allUnchanged(words)
	}

	nativeSet := make(map[string]struct{})
	for _, w := range strings.Fields(nativeMessage) {
		nativeSet[Normalize(w, opts.Language)] = struct{}{}
	}

	tokens := make([]Token, 0, len(words))
	for _, w := range words {
		if _, ok := nativeSet[Normalize(w, opts.Language)]; ok {
			tokens = append(tokens, Token{Text: w, Tag: TagUnchanged})
		} else {
			tokens = append(tokens, Token{Text: w, Tag: TagNativeOnly})
		}
	}

	return tokens
}

func allUnchanged(words []string) []Token {
	tokens := make([]Token, len(words))
	for i, w := range words {
		tokens[i] = Token{Text: w, Tag: TagUnchanged}
	}
	return tokens
}
