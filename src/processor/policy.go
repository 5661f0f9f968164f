package processor

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// 天气枚举，顺序即匹配优先级
const (
	WeatherClear  = "clear"
	WeatherCloudy = "cloudy"
	WeatherRainy  = "rainy"
	WeatherSnowy  = "snowy"
)

// 线路号范围
const (
	MinRouteID = 1
	MaxRouteID = 10
)

type weatherCategory struct {
	name     string
	synonyms []string
}

var weatherCategories = []weatherCategory{
	{WeatherClear, []string{"clear", "sunny", "sun", "fair"}},
	{WeatherCloudy, []string{"cloudy", "clouds", "overcast", "cloud"}},
	{WeatherRainy, []string{"rainy", "rain", "raining", "drizzle", "drizzling"}},
	{WeatherSnowy, []string{"snowy", "snow", "snowing", "sleet"}},
}

// WeatherCategories 返回天气枚举(按匹配顺序)
func WeatherCategories() []string {
	out := make([]string, len(weatherCategories))
	for i, c := range weatherCategories {
		out[i] = c.name
	}
	return out
}

var digitsRe = regexp.MustCompile(`\d+`)

// Policy 无法识别的输入采用的默认值。
// 未识别的天气会被当作晴天，线路号会归到默认线路，两者都会丢失原始信息。
type Policy struct {
	UnknownWeather string // 默认 clear
	DefaultRoute   int    // 默认 1
}

func DefaultPolicy() Policy {
	return Policy{
		UnknownWeather: WeatherClear,
		DefaultRoute:   MinRouteID,
	}
}

// NormalizeWeather 把天气文本映射到固定枚举。
// matched=false 表示结果来自默认策略。
func (p Policy) NormalizeWeather(raw string, present bool) (category string, matched bool) {
	if !present {
		return p.UnknownWeather, false
	}

	v := strings.TrimSpace(cases.Lower(language.Und).String(raw))
	for _, c := range weatherCategories {
		for _, syn := range c.synonyms {
			if v == syn || strings.Contains(v, syn) {
				return c.name, true
			}
		}
	}
	return p.UnknownWeather, false
}

// UnifyRouteID 从 "Route 3"、"R3"、"3" 等写法中取出线路号并截断到 [1,10]。
// 没有数字时只识别 one/two，其余归到默认线路。
func (p Policy) UnifyRouteID(raw string, present bool) (route int, matched bool) {
	if !present {
		return p.DefaultRoute, false
	}

	if m := digitsRe.FindString(raw); m != "" {
		n, err := strconv.Atoi(m)
		if err != nil {
			// 数字串超出 int 范围
			return MaxRouteID, true
		}
		return clampInt(n, MinRouteID, MaxRouteID), true
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "one"):
		return 1, true
	case strings.Contains(lower, "two"):
		return 2, true
	}
	return p.DefaultRoute, false
}

// WeatherSeverity 天气严重程度，未知值为 0
func WeatherSeverity(weather string) int {
	switch weather {
	case WeatherClear:
		return 0
	case WeatherCloudy:
		return 1
	case WeatherRainy:
		return 2
	case WeatherSnowy:
		return 3
	default:
		return 0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
