// Package fallback classifies turn-processing failures into a closed
// taxonomy and pairs each kind with a canned, user-safe assistant reply.
// Fallback text never echoes internals: no SQL, no stack frames, no upstream
// response bodies. The only interpolated detail is a validation reason,
// which is written for end users at its source.
package fallback

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/taskpilot/taskpilot/internal/conversation"
	"github.com/taskpilot/taskpilot/internal/tasks"
	"github.com/taskpilot/taskpilot/internal/tools"
)

// Kind labels one failure class. The string values appear verbatim in API
// responses and logs.
type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindNotFound     Kind = "not_found"
	KindToolNotFound Kind = "tool_not_found"
	KindTimeout      Kind = "timeout"
	KindRateLimited  Kind = "rate_limited"
	KindDatabase     Kind = "database_error"
	KindUnknown      Kind = "unknown"
)

// Sentinels for completion-service failures. They live here rather than in
// the agent package so classification does not depend on it.
var (
	// ErrTimeout marks a completion call that exceeded its deadline.
	ErrTimeout = errors.New("completion timed out")
	// ErrRateLimited marks a completion call rejected with HTTP 429.
	ErrRateLimited = errors.New("completion rate limited")
)

// APIError wraps a classified failure for the HTTP surface.
type APIError struct {
	Kind    Kind   `json:"error_type"`
	Message string `json:"response"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Classify maps err onto the taxonomy. Ordering matters: specific sentinel
// and typed checks run before the substring heuristics, and an unrecognized
// error is KindUnknown, never a guess.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var verr *tools.ValidationError
	switch {
	case errors.As(err, &verr):
		return KindValidation
	case errors.Is(err, tools.ErrUnknownTool):
		return KindToolNotFound
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, tasks.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return KindDatabase
	}
	if errors.Is(err, conversation.ErrInvalidRole) ||
		errors.Is(err, conversation.ErrContentTooLong) ||
		errors.Is(err, conversation.ErrEmptyContent) {
		return KindValidation
	}
	return KindUnknown
}

// For returns the canned assistant reply for a classified failure. The
// validation kind folds in the concrete reason when err carries one.
func For(kind Kind, err error) string {
	switch kind {
	case KindValidation:
		reason := "the request did not pass validation"
		var verr *tools.ValidationError
		if errors.As(err, &verr) {
			reason = fmt.Sprintf("%s: %s", verr.Field, verr.Reason)
		} else if err != nil {
			reason = err.Error()
		}
		return fmt.Sprintf(
			"I couldn't validate your request: %s\n\n"+
				"Please check:\n"+
				"• Task titles must be under 200 characters\n"+
				"• Descriptions must be under 1024 characters\n"+
				"• Dates should be in standard format\n\n"+
				"Can you rephrase that?", reason)

	case KindNotFound:
		return "I couldn't find what you were referring to. " +
			"Please make sure you're using the correct task ID, or ask me to list your tasks."

	case KindToolNotFound:
		return "I tried to use an unavailable tool. " +
			"Here's what I can do:" +
			"\n• Add new tasks" +
			"\n• Show your tasks" +
			"\n• Mark tasks as complete" +
			"\n• Delete tasks" +
			"\n• Update task details" +
			"\n\nWhat would you like to do?"

	case KindTimeout:
		return "I'm taking a bit longer than usual to process your request. " +
			"Could you try again, or would you like to:" +
			"\n1. Ask for a list of your tasks" +
			"\n2. Tell me the task number you want to manage" +
			"\n3. Try a simpler request"

	case KindRateLimited:
		return "I've hit a temporary limit on my API usage. " +
			"I'll be back to normal in a moment. " +
			"Please try your request again in 10-30 seconds."

	case KindDatabase:
		return "I had trouble saving your request. " +
			"This might be temporary. Please try again in a moment. " +
			"If the problem persists, please contact support."

	default:
		return "I encountered an unexpected issue. " +
			"I've logged this for investigation. " +
			"Please try your request again, or contact support if it continues."
	}
}

// Wrap classifies err and packages it as an APIError with its fallback text.
func Wrap(err error) *APIError {
	kind := Classify(err)
	return &APIError{Kind: kind, Message: For(kind, err)}
}
