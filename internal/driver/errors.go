package driver

import (
	"strings"

	"github.com/yazinsai/mic-worker/internal/task"
)

// classifyFailure maps an abnormal exit to the error taxonomy using the
// exit code and stderr content. Anything unrecognized is unknown.
func classifyFailure(exitCode int, stderr string) task.ErrorCategory {
	lower := strings.ToLower(stderr)
	switch {
	case exitCode == 124, strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"):
		return task.ErrorCategoryTimeout
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "quota"),
		strings.Contains(lower, "overloaded"), strings.Contains(lower, "429"):
		return task.ErrorCategoryQuota
	case strings.Contains(lower, "permission"), strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "forbidden"), strings.Contains(lower, "401"),
		strings.Contains(lower, "403"):
		return task.ErrorCategoryPermission
	default:
		return task.ErrorCategoryUnknown
	}
}

// truncateTail bounds a string to max bytes keeping the tail;
// conclusions tend to appear last.
func truncateTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
