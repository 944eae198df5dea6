package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/adhocore/gronx"
)

// ParseSpec normalizes a trigger spec to a 5-field cron expression.
// "HH:MM" (24h) takes precedence and denotes a daily firing at that
// time; otherwise the string must already be a valid 5-field cron
// expression. Anything else is rejected.
func ParseSpec(spec string) (string, error) {
	spec = strings.TrimSpace(spec)

	if expr, ok := parseDailyTime(spec); ok {
		return expr, nil
	}

	if len(strings.Fields(spec)) == 5 && gronx.New().IsValid(spec) {
		return spec, nil
	}

	return "", fmt.Errorf("无法解析调度表达式: %q", spec)
}

func parseDailyTime(spec string) (string, bool) {
	parts := strings.Split(spec, ":")
	if len(parts) != 2 {
		return "", false
	}
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return "", false
	}
	minute, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), true
}
