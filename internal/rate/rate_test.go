package rate

import (
	"errors"
	"testing"

	"tickq/internal/domain"
)

func TestParseExpression(t *testing.T) {
	cases := []struct {
		expr string
		want int64
	}{
		{"rate(1 second)", 1},
		{"rate(30 seconds)", 30},
		{"rate(1 minute)", 60},
		{"rate(5 minutes)", 300},
		{"rate(2 hours)", 7200},
		{"rate(1 day)", 86400},
		{"rate(7 days)", 604800},
		{"RATE(5 MINUTES)", 300},
		{"  rate( 10   seconds )  ", 10},
	}
	for _, c := range cases {
		got, err := ParseExpression(c.expr)
		if err != nil {
			t.Errorf("ParseExpression(%q): %v", c.expr, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseExpression(%q) = %d, want %d", c.expr, got, c.want)
		}
	}
}

func TestParseExpressionInvalid(t *testing.T) {
	cases := []string{
		"",
		"rate()",
		"rate(5)",
		"rate(five minutes)",
		"rate(0 minutes)",
		"rate(-1 hours)",
		"rate(5 weeks)",
		"5 minutes",
		"cron(0 12 * * ? *)",
		"at(2024-01-01T00:00:00)",
	}
	for _, expr := range cases {
		_, err := ParseExpression(expr)
		if err == nil {
			t.Errorf("ParseExpression(%q): expected error", expr)
			continue
		}
		var de domain.Error
		if !errors.As(err, &de) || de.Code != domain.ErrCodeInvalidExpression {
			t.Errorf("ParseExpression(%q): wrong error %v", expr, err)
		}
	}
}
