package extract

import (
	"regexp"
	"strings"
)

var (
	reH1to3      = regexp.MustCompile(`(?m)^#{1,3}\s+(.+)$`)
	reH4to6      = regexp.MustCompile(`(?m)^#{4,6}\s+(.+)$`)
	reBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reItalic     = regexp.MustCompile(`\*(.+?)\*`)
	reBoldAlt    = regexp.MustCompile(`__(.+?)__`)
	reItalicAlt  = regexp.MustCompile(`_(.+?)_`)
	reBullet     = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	reNumbered   = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)
	reBlockquote = regexp.MustCompile(`(?m)^\s*>\s+`)
	reCodeBlock  = regexp.MustCompile("```[\\s\\S]*?```")
	reInlineCode = regexp.MustCompile("`([^`]+)`")
	reHRule      = regexp.MustCompile(`(?m)^[-*_]{3,}$`)
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reMultiNL    = regexp.MustCompile(`\n\s*\n\s*\n`)
	reMultiSpace = regexp.MustCompile(`[ \t]+`)
	reLeadSpace  = regexp.MustCompile(`\n[ \t]+`)

	reAnyWS       = regexp.MustCompile(`\s+`)
	reDoubleNL    = regexp.MustCompile(`\n\s*\n`)
	reBoilerplate = regexp.MustCompile(`(?i)cookie|privacy|terms|advertisement`)
)

// NormalizeMarkdown flattens markdown-like markers into plain text:
// headings become "Label:" lines, emphasis and links are stripped, list
// items become uniform bullets, and whitespace is collapsed.
func NormalizeMarkdown(text string) string {
	text = reH1to3.ReplaceAllString(text, "$1:")
	text = reH4to6.ReplaceAllString(text, "$1:")
	text = reBold.ReplaceAllString(text, "$1")
	text = reItalic.ReplaceAllString(text, "$1")
	text = reBoldAlt.ReplaceAllString(text, "$1")
	text = reItalicAlt.ReplaceAllString(text, "$1")
	text = reBullet.ReplaceAllString(text, "• ")
	text = reNumbered.ReplaceAllString(text, "• ")
	text = reBlockquote.ReplaceAllString(text, "")
	text = reCodeBlock.ReplaceAllString(text, "")
	text = reInlineCode.ReplaceAllString(text, "$1")
	text = reHRule.ReplaceAllString(text, "")
	text = reLink.ReplaceAllString(text, "$1")
	text = reMultiNL.ReplaceAllString(text, "\n\n")
	text = reMultiSpace.ReplaceAllString(text, " ")
	text = reLeadSpace.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// CleanText collapses whitespace and strips common page boilerplate words
// from web-extracted text.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = reBoilerplate.ReplaceAllString(text, "")
	text = reDoubleNL.ReplaceAllString(text, "\n\n")
	text = reAnyWS.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
