package util

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Absolute layouts tried in order. Chinese portals mix these freely.
var absoluteLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006年01月02日 15:04:05",
	"2006年01月02日 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006年01月02日",
}

var (
	bareTimeRe  = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)
	monthDayRe  = regexp.MustCompile(`^(\d{1,2})[-/](\d{1,2})\s+(\d{1,2}):(\d{2})(?::(\d{2}))?$`)
	relativeRe  = regexp.MustCompile(`^(\d+)\s*(分钟前|小时前|天前|周前|星期前|个月前|年前|minutes? ago|hours? ago|days? ago|weeks? ago|months? ago|years? ago)$`)
	dayPrefixRe = regexp.MustCompile(`^(昨天|今天|yesterday|today)\s*(\d{1,2}:\d{2}(?::\d{2})?)?$`)
)

// ParseNewsDate parses the date forms news sites emit into a local-zone
// timestamp. Unparseable input yields now and ok=false; callers log that at
// warn level.
func ParseNewsDate(raw string, now time.Time) (t time.Time, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return now, false
	}

	loc := now.Location()

	for _, layout := range absoluteLayouts {
		if parsed, err := time.ParseInLocation(layout, s, loc); err == nil {
			return parsed, true
		}
	}

	// Unix timestamp, seconds or milliseconds.
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		if ts > 1e12 {
			return time.UnixMilli(ts).In(loc), true
		}
		return time.Unix(ts, 0).In(loc), true
	}

	if m := bareTimeRe.FindStringSubmatch(s); m != nil {
		return combineDayAndTime(now, m[1], m[2], m[3]), true
	}

	if m := monthDayRe.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		hour, _ := strconv.Atoi(m[3])
		minute, _ := strconv.Atoi(m[4])
		sec := 0
		if m[5] != "" {
			sec, _ = strconv.Atoi(m[5])
		}
		parsed := time.Date(now.Year(), time.Month(month), day, hour, minute, sec, 0, loc)
		// A date far in the future means the item is from last year.
		if parsed.After(now.Add(24 * time.Hour)) {
			parsed = parsed.AddDate(-1, 0, 0)
		}
		return parsed, true
	}

	lower := strings.ToLower(s)

	if lower == "刚刚" || lower == "just now" {
		return now, true
	}

	if m := relativeRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		return applyRelative(now, n, m[2]), true
	}

	if m := dayPrefixRe.FindStringSubmatch(lower); m != nil {
		base := now
		if m[1] == "昨天" || m[1] == "yesterday" {
			base = now.AddDate(0, 0, -1)
		}
		if m[2] == "" {
			return time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, loc), true
		}
		parts := strings.Split(m[2], ":")
		secPart := ""
		if len(parts) == 3 {
			secPart = parts[2]
		}
		return combineDayAndTime(base, parts[0], parts[1], secPart), true
	}

	return now, false
}

func combineDayAndTime(day time.Time, hourStr, minStr, secStr string) time.Time {
	hour, _ := strconv.Atoi(hourStr)
	minute, _ := strconv.Atoi(minStr)
	sec := 0
	if secStr != "" {
		sec, _ = strconv.Atoi(secStr)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, sec, 0, day.Location())
}

func applyRelative(now time.Time, n int, unit string) time.Time {
	switch {
	case strings.HasPrefix(unit, "分钟") || strings.HasPrefix(unit, "minute"):
		return now.Add(-time.Duration(n) * time.Minute)
	case strings.HasPrefix(unit, "小时") || strings.HasPrefix(unit, "hour"):
		return now.Add(-time.Duration(n) * time.Hour)
	case strings.HasPrefix(unit, "天") || strings.HasPrefix(unit, "day"):
		return now.AddDate(0, 0, -n)
	case strings.HasPrefix(unit, "周") || strings.HasPrefix(unit, "星期") || strings.HasPrefix(unit, "week"):
		return now.AddDate(0, 0, -7*n)
	case strings.HasPrefix(unit, "个月") || strings.HasPrefix(unit, "month"):
		return now.AddDate(0, -n, 0)
	case strings.HasPrefix(unit, "年") || strings.HasPrefix(unit, "year"):
		return now.AddDate(-n, 0, 0)
	}
	return now
}
