// Package rate parses EventBridge-style rate expressions into fixed
// intervals: rate(30 seconds), rate(5 minutes), rate(2 hours), rate(1 day).
package rate

import (
	"regexp"
	"strconv"
	"strings"

	"tickq/internal/domain"
)

var expr = regexp.MustCompile(`(?i)^\s*rate\(\s*(\d+)\s*(second|seconds|minute|minutes|hour|hours|day|days)\s*\)\s*$`)

// ParseExpression returns the interval in seconds for a rate(<n> <unit>)
// expression. Cron and at(...) syntax are not recurrence expressions here
// and are rejected.
func ParseExpression(s string) (int64, error) {
	m := expr.FindStringSubmatch(s)
	if m == nil {
		return 0, domain.NewInvalidExpressionError("invalid schedule_expression (supported: rate(N seconds|minutes|hours|days))")
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n < 1 {
		return 0, domain.NewInvalidExpressionError("rate value must be a positive integer")
	}
	switch unit := strings.ToLower(m[2]); {
	case strings.HasPrefix(unit, "second"):
		return n, nil
	case strings.HasPrefix(unit, "minute"):
		return n * 60, nil
	case strings.HasPrefix(unit, "hour"):
		return n * 3600, nil
	default: // day, days
		return n * 86400, nil
	}
}
