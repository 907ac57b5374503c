package httpapi

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength caps chat message bodies; longer input is rejected before
// anything is persisted.
const (
	MaxMessageLength = 4096
	MaxTitleLength   = 200
)

// Stored messages may be rendered by clients, so markup that could execute
// is stripped here rather than trusted downstream.
var (
	controlChars   = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)
	scriptTags     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	iframeTags     = regexp.MustCompile(`(?is)<iframe[^>]*>.*?</iframe>`)
	eventHandlers  = regexp.MustCompile(`(?i)on\w+\s*=\s*["'][^"']*["']`)
	anyTags        = regexp.MustCompile(`<[^>]+>`)
	multiSpaces    = regexp.MustCompile(` {2,}`)
	tabRuns        = regexp.MustCompile(`\t+`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

// sanitizeMessage cleans a chat message and enforces the length limit.
// Length is checked against the raw input, not the cleaned form, so a
// payload over the limit fails even if stripping would shrink it.
func sanitizeMessage(message string) (string, error) {
	if message == "" {
		return "", fmt.Errorf("message cannot be empty")
	}
	// Limits count characters, not bytes; multibyte text gets the full 4096.
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return "", fmt.Errorf("message exceeds max length of %d characters", MaxMessageLength)
	}

	s := strings.TrimSpace(message)
	if s == "" {
		return "", fmt.Errorf("message cannot be empty or whitespace only")
	}

	s = controlChars.ReplaceAllString(s, "")
	s = scriptTags.ReplaceAllString(s, "")
	s = iframeTags.ReplaceAllString(s, "")
	s = eventHandlers.ReplaceAllString(s, "")

	s = multiSpaces.ReplaceAllString(s, " ")
	s = tabRuns.ReplaceAllString(s, " ")
	s = excessNewlines.ReplaceAllString(s, "\n\n")

	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("message cannot be empty after sanitization")
	}
	return s, nil
}

// sanitizeTitle cleans an optional conversation title. An empty or
// whitespace-only title comes back empty, meaning "use the default".
func sanitizeTitle(title string) (string, error) {
	if title == "" {
		return "", nil
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", fmt.Errorf("title exceeds max length of %d characters", MaxTitleLength)
	}

	s := strings.TrimSpace(title)
	if s == "" {
		return "", nil
	}
	s = controlChars.ReplaceAllString(s, "")
	s = anyTags.ReplaceAllString(s, "")
	s = multiSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s), nil
}
