package diff

import "strings"

// Pseudo-markup markers a rendering layer translates into actual styling.
// Corrected-mode additions render red/bold, natural-mode additions orange,
// word-order mistakes underlined.
const (
	markBold      = "**"
	markOrange    = "~~"
	markUnderline = "__"
)

// Markup renders tokens into marked-up text for the given mode.
func Markup(tokens []Token, mode Mode) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = wrap(tok, mode, false)
	}
	return strings.Join(parts, " ")
}

// MarkupNonNative renders the non-native comparison. When emphasize is set,
// matched words get distinct bold styling instead of staying plain.
func MarkupNonNative(tokens []Token, emphasize bool) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = wrap(tok, ModeUser, emphasize)
	}
	return strings.Join(parts, " ")
}

func wrap(tok Token, mode Mode, emphasize bool) string {
	switch tok.Tag {
	case TagAdded:
		if mode == ModeNatural {
			return markOrange + tok.Text + markOrange
		}
		return markBold + tok.Text + markBold
	case TagPositionError:
		return markUnderline + tok.Text + markUnderline
	case TagNativeOnly:
		return markOrange + tok.Text + markOrange
	default:
		if emphasize {
			return markBold + tok.Text + markBold
		}
		return tok.Text
	}
}
