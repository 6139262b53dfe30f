package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField 单个字段允许值的集合，star 标记该字段未加限制
type cronField struct {
	values map[int]bool
	star   bool
}

func (f cronField) matches(v int) bool {
	return f.star || f.values[v]
}

// CronExpr 五字段 Cron 表达式（分 时 日 月 周），
// 支持 *、区间、列表与步进
type CronExpr struct {
	minute cronField
	hour   cronField
	dom    cronField
	month  cronField
	dow    cronField
}

// ParseCron 解析五字段 Cron 表达式
func ParseCron(expr string) (*CronExpr, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron 表达式须为五字段: %q", expr)
	}

	bounds := []struct {
		name     string
		min, max int
	}{
		{"分钟", 0, 59},
		{"小时", 0, 23},
		{"日", 1, 31},
		{"月", 1, 12},
		{"周", 0, 7},
	}

	parsed := make([]cronField, 5)
	for i, field := range fields {
		f, err := parseCronField(field, bounds[i].min, bounds[i].max)
		if err != nil {
			return nil, fmt.Errorf("cron %s字段无效: %w", bounds[i].name, err)
		}
		parsed[i] = f
	}

	// 周字段 7 等价于 0（周日）
	if parsed[4].values[7] {
		parsed[4].values[0] = true
		delete(parsed[4].values, 7)
	}

	return &CronExpr{
		minute: parsed[0],
		hour:   parsed[1],
		dom:    parsed[2],
		month:  parsed[3],
		dow:    parsed[4],
	}, nil
}

// Matches 判断时刻是否命中表达式。
// 日与周同时受限时按标准 Cron 规则取或，否则取与
func (c *CronExpr) Matches(t time.Time) bool {
	if !c.minute.matches(t.Minute()) || !c.hour.matches(t.Hour()) || !c.month.matches(int(t.Month())) {
		return false
	}

	domOK := c.dom.matches(t.Day())
	dowOK := c.dow.matches(int(t.Weekday()))
	if !c.dom.star && !c.dow.star {
		return domOK || dowOK
	}
	return domOK && dowOK
}

// parseCronField 解析单个字段：列表项可以是
// "*"、"*/n"、"a"、"a-b"、"a-b/n"
func parseCronField(field string, min, max int) (cronField, error) {
	f := cronField{values: make(map[int]bool)}

	for _, item := range strings.Split(field, ",") {
		base := item
		step := 1

		if idx := strings.Index(item, "/"); idx >= 0 {
			base = item[:idx]
			s, err := strconv.Atoi(item[idx+1:])
			if err != nil || s <= 0 {
				return f, fmt.Errorf("步进值无效: %q", item)
			}
			step = s
		}

		lo, hi := min, max
		switch {
		case base == "*":
			if item == "*" && len(strings.Split(field, ",")) == 1 {
				f.star = true
			}
		case strings.Contains(base, "-"):
			parts := strings.SplitN(base, "-", 2)
			a, err1 := strconv.Atoi(parts[0])
			b, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil || a > b {
				return f, fmt.Errorf("区间无效: %q", item)
			}
			lo, hi = a, b
		default:
			v, err := strconv.Atoi(base)
			if err != nil {
				return f, fmt.Errorf("数值无效: %q", item)
			}
			lo, hi = v, v
			if step > 1 {
				hi = max
			}
		}

		if lo < min || hi > max {
			return f, fmt.Errorf("取值越界 [%d, %d]: %q", min, max, item)
		}
		for v := lo; v <= hi; v += step {
			f.values[v] = true
		}
	}
	return f, nil
}
