package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", value)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}

func TestParseCronStep(t *testing.T) {
	expr, err := ParseCron("*/15 * * * *")
	require.NoError(t, err)

	require.True(t, expr.Matches(mustTime(t, "2026-03-02 10:00")))
	require.True(t, expr.Matches(mustTime(t, "2026-03-02 10:15")))
	require.True(t, expr.Matches(mustTime(t, "2026-03-02 10:45")))
	require.False(t, expr.Matches(mustTime(t, "2026-03-02 10:07")))
}

func TestParseCronWeekday(t *testing.T) {
	// 2026-03-02 是周一
	expr, err := ParseCron("0 9 * * 1")
	require.NoError(t, err)

	require.True(t, expr.Matches(mustTime(t, "2026-03-02 09:00")))
	require.False(t, expr.Matches(mustTime(t, "2026-03-02 09:01")))
	require.False(t, expr.Matches(mustTime(t, "2026-03-02 10:00")))
	require.False(t, expr.Matches(mustTime(t, "2026-03-03 09:00")))
}

func TestParseCronSundayAlias(t *testing.T) {
	// 周字段 7 与 0 都表示周日，2026-03-01 是周日
	for _, field := range []string{"0", "7"} {
		expr, err := ParseCron("30 8 * * " + field)
		require.NoError(t, err)
		require.True(t, expr.Matches(mustTime(t, "2026-03-01 08:30")), "dow=%s", field)
	}
}

func TestParseCronRangeAndList(t *testing.T) {
	expr, err := ParseCron("0 9-11 * * 1,3,5")
	require.NoError(t, err)

	require.True(t, expr.Matches(mustTime(t, "2026-03-02 10:00")))  // 周一
	require.True(t, expr.Matches(mustTime(t, "2026-03-04 11:00")))  // 周三
	require.False(t, expr.Matches(mustTime(t, "2026-03-03 10:00"))) // 周二
	require.False(t, expr.Matches(mustTime(t, "2026-03-02 12:00")))
}

func TestParseCronDayOrWeekday(t *testing.T) {
	// 日与周同时受限时取或：1 号或周一都命中
	expr, err := ParseCron("0 0 1 * 1")
	require.NoError(t, err)

	require.True(t, expr.Matches(mustTime(t, "2026-03-01 00:00")))  // 1 号（周日）
	require.True(t, expr.Matches(mustTime(t, "2026-03-09 00:00")))  // 周一（9 号）
	require.False(t, expr.Matches(mustTime(t, "2026-03-03 00:00"))) // 周二 3 号
}

func TestParseCronInvalid(t *testing.T) {
	cases := []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"*/0 * * * *",
		"5-2 * * * *",
		"abc * * * *",
	}
	for _, expr := range cases {
		if _, err := ParseCron(expr); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
}
