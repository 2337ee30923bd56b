package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/aihub/usage-core/internal/errors"
)

var periodPattern = regexp.MustCompile(`^(\d+)\s*([a-z]+)$`)

const day = 24 * time.Hour

// maxPeriod 可解析的最长窗口，超出后 Duration 会溢出
const maxPeriod = 100 * 365 * day

// Period 解析后的统计窗口 [Since, Until)
type Period struct {
	Expr  string
	Since time.Time
	Until time.Time
	// Days 每日序列覆盖的自然日数
	Days int
}

// ParsePeriod 解析相对时间窗口，如 "30 days"、"7d"、"24h"、"2 weeks"、"1 month"、"today"
func ParsePeriod(expr string, now time.Time) (Period, error) {
	now = now.UTC()
	normalized := strings.ToLower(strings.TrimSpace(expr))

	if normalized == "today" {
		start := startOfDay(now)
		return Period{Expr: expr, Since: start, Until: now, Days: 1}, nil
	}

	match := periodPattern.FindStringSubmatch(normalized)
	if match == nil {
		return Period{}, apperrors.NewInvalidInputError("period", "unrecognized period expression "+strconv.Quote(expr))
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n <= 0 {
		return Period{}, apperrors.NewInvalidInputError("period", "period amount must be positive")
	}

	unit, ok := periodUnit(match[2])
	if !ok {
		return Period{}, apperrors.NewInvalidInputError("period", "unknown period unit "+strconv.Quote(match[2]))
	}
	if int64(n) > int64(maxPeriod/unit) {
		return Period{}, apperrors.NewInvalidInputError("period", "period must not exceed 100 years")
	}
	window := time.Duration(n) * unit

	days := int(math.Ceil(float64(window) / float64(day)))
	if days < 1 {
		days = 1
	}
	return Period{Expr: expr, Since: now.Add(-window), Until: now, Days: days}, nil
}

func periodUnit(unit string) (time.Duration, bool) {
	switch unit {
	case "h", "hr", "hrs", "hour", "hours":
		return time.Hour, true
	case "d", "day", "days":
		return day, true
	case "w", "week", "weeks":
		return 7 * day, true
	case "mo", "month", "months":
		return 30 * day, true
	case "y", "year", "years":
		return 365 * day, true
	}
	return 0, false
}

// SeriesDays 每日序列的日期（UTC，升序），以 Until 所在日为最后一天
func (p Period) SeriesDays(maxDays int) []string {
	n := p.Days
	if maxDays > 0 && n > maxDays {
		n = maxDays
	}
	last := startOfDay(p.Until)
	days := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		days = append(days, last.Add(-time.Duration(i)*day).Format("2006-01-02"))
	}
	return days
}

// SeriesStart 每日序列第一天的零点
func (p Period) SeriesStart(maxDays int) time.Time {
	n := p.Days
	if maxDays > 0 && n > maxDays {
		n = maxDays
	}
	return startOfDay(p.Until).Add(-time.Duration(n-1) * day)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
