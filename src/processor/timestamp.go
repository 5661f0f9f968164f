package processor

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// CanonicalLayout 清洗后时间列的统一格式
const CanonicalLayout = "2006-01-02 15:04:05"

// 通用解析在 cast 的格式表之外补充的常见写法。
// 斜杠/短横线的数字日期一律按日在前处理。
var flexibleLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
	"2006.01.02 15:04:05",
	"02.01.2006 15:04:05",
	"20060102 15:04:05",
	"20060102",
	"Jan 2, 2006 15:04:05",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"January 2, 2006 15:04:05",
	"January 2, 2006 15:04",
	"January 2, 2006",
	"2 Jan 2006 15:04:05",
	"2 Jan 2006 15:04",
	"2 Jan 2006",
	"2 January 2006 15:04:05",
	"2 January 2006 15:04",
	"2 January 2006",
	"02-Jan-2006 15:04:05",
	"02-Jan-2006",
}

// 日在前解析失败(如日大于 12)时再按月在前尝试
var monthFirstLayouts = []string{
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"01-02-2006 15:04:05",
	"01-02-2006 15:04",
	"01-02-2006",
}

// 第三步按顺序尝试的显式格式
var explicitLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"02-01-2006 15:04:05",
	"02/01/2006 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// 预编译
var (
	numericRe  = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	embeddedRe = regexp.MustCompile(`(\d{4}[-/]\d{1,2}[-/]\d{1,2})`)
)

// 纪元秒的可表示范围：0001-01-01 至 9999-12-31
const (
	minEpochSeconds = -62135596800
	maxEpochSeconds = 253402300799
)

// NormalizeTimestamp 把任意时间文本转为 CanonicalLayout，
// 全部失败时返回 ok=false，调用方据此写入 NA。
func NormalizeTimestamp(raw string) (string, bool) {
	t, ok := ParseInstant(raw)
	if !ok {
		return "", false
	}
	return t.Format(CanonicalLayout), true
}

// ParseInstant 依次尝试：通用解析、纪元秒、显式格式、正则提取日期
func ParseInstant(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	if t, ok := parseFlexible(s); ok {
		return t, true
	}
	if t, ok := parseEpoch(s); ok {
		return t, true
	}
	if t, ok := parseLayouts(s, explicitLayouts); ok {
		return t, true
	}
	if m := embeddedRe.FindString(s); m != "" {
		if t, ok := parseLayouts(m, []string{"2006-1-2", "2006/1/2"}); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseFlexible(s string) (time.Time, bool) {
	// 纯数字交给纪元秒处理(8 位紧凑日期除外)
	if numericRe.MatchString(s) && len(s) != 8 {
		return time.Time{}, false
	}
	// 只有时刻没有日期的结果(如 3:04PM)年份为 0，不算解析成功
	if t, err := cast.ToTimeE(s); err == nil && t.Year() != 0 {
		return t, true
	}
	if t, ok := parseLayouts(s, flexibleLayouts); ok {
		return t, true
	}
	return parseLayouts(s, monthFirstLayouts)
}

func parseEpoch(s string) (time.Time, bool) {
	if !numericRe.MatchString(s) {
		return time.Time{}, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f < minEpochSeconds || f > maxEpochSeconds {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func parseLayouts(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
