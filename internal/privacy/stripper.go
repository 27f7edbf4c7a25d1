// Package privacy strips opt-out spans from text before it is stored.
package privacy

import (
	"regexp"
	"strings"
)

var (
	// privateTagRegex matches <private>...</private> spans
	privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

	// contextTagRegex matches <recall-context>...</recall-context> spans
	// injected into prompts by the chat flow
	contextTagRegex = regexp.MustCompile(`(?s)<recall-context>.*?</recall-context>`)
)

// StripPrivateTags removes all <private>...</private> content from text.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, "")
}

// StripContextTags removes all <recall-context>...</recall-context>
// content from text so retrieved context is never re-ingested.
func StripContextTags(text string) string {
	return contextTagRegex.ReplaceAllString(text, "")
}

// IsEntirelyPrivate checks if the text is entirely within <private> tags.
func IsEntirelyPrivate(text string) bool {
	stripped := StripPrivateTags(text)
	return strings.TrimSpace(stripped) == ""
}

// Clean strips private and context spans and trims whitespace. Called on
// any user content before it reaches the store.
func Clean(text string) string {
	text = StripPrivateTags(text)
	text = StripContextTags(text)
	return strings.TrimSpace(text)
}
