package processor

import (
	"TransportDelay/src/config"
	"TransportDelay/src/utils"
	"fmt"
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/stat"
)

// MaxDelayMinutes 超过一年的延误视为数据错误
const MaxDelayMinutes = 525600.0

// 时段编码
const (
	Morning   = 0 // 6-12
	Afternoon = 1 // 12-18
	Evening   = 2 // 18-24
	Night     = 3 // 0-6
)

// FeatureEngineer 计算目标列与衍生特征，只有延误计算会删除行
type FeatureEngineer struct {
	schema *config.Schema
	audit  *AuditLog
}

func NewFeatureEngineer(schema *config.Schema, audit *AuditLog) *FeatureEngineer {
	if schema == nil {
		schema = config.DefaultSchema()
	}
	if audit == nil {
		audit = NewAuditLog(nil)
	}
	return &FeatureEngineer{schema: schema, audit: audit}
}

// Steps 延误 → 时段 → 周末 → 天气严重度 → 线路频率
func (fe *FeatureEngineer) Steps() []Stage {
	return []Stage{
		{Name: "delay", Requires: []string{config.ColScheduledTime, config.ColActualTime}, Apply: computeDelay},
		{Name: "time_of_day", Requires: []string{config.ColScheduledTime}, Apply: timeOfDayFeatures},
		{Name: "weekend", Requires: []string{config.ColScheduledTime}, Apply: weekendFeatures},
		{Name: "weather_severity", Requires: []string{config.ColWeather}, Apply: weatherSeverityFeature},
		{Name: "route_frequency", Requires: []string{config.ColRouteID}, Apply: routeFrequencyFeature},
	}
}

func (fe *FeatureEngineer) Engineer(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	fe.audit.Add("开始特征工程: %d 行", df.Nrow())
	out, err := runStages(df, fe.Steps(), fe.audit)
	if err != nil {
		return df, err
	}
	fe.audit.Add("特征工程完成: %d 行, %d 列", out.Nrow(), out.Ncol())
	return out, nil
}

// FeatureColumns 表中实际存在的特征列(不含目标列)
func (fe *FeatureEngineer) FeatureColumns(df dataframe.DataFrame) []string {
	return utils.PresentColumns(df, fe.schema.FeatureColumns)
}

func (fe *FeatureEngineer) TargetColumn() string {
	return fe.schema.TargetColumn
}

// TrainingTable 选出训练所需的列，缺少目标列时返回错误
func (fe *FeatureEngineer) TrainingTable(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	if !utils.HasColumn(df, fe.schema.TargetColumn) {
		return df, fmt.Errorf("缺少目标列 %s", fe.schema.TargetColumn)
	}
	cols := append(fe.FeatureColumns(df), fe.schema.TargetColumn)
	if missing := utils.MissingColumns(df, fe.schema.FeatureColumns); len(missing) > 0 {
		fe.audit.Warn("训练表缺少特征列 %v", missing)
	}
	out := df.Select(cols)
	if out.Err != nil {
		return df, fmt.Errorf("选择训练列失败: %w", out.Err)
	}
	return out, nil
}

// DelayMinutes 计算单行延误(分钟)。任一时间无法解析、结果非有限值或超过一年时返回错误；
// 提前到达记为 0。
func DelayMinutes(scheduled, actual string) (float64, error) {
	s, ok := ParseInstant(scheduled)
	if !ok {
		return 0, fmt.Errorf("无法解析计划时间 %q", scheduled)
	}
	a, ok := ParseInstant(actual)
	if !ok {
		return 0, fmt.Errorf("无法解析实际时间 %q", actual)
	}

	// 用秒级整数差避免 time.Duration 在跨度过大时饱和
	seconds := float64(a.Unix()-s.Unix()) + float64(a.Nanosecond()-s.Nanosecond())/1e9
	minutes := seconds / 60
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return 0, fmt.Errorf("延误计算结果无效")
	}
	if math.Abs(minutes) > MaxDelayMinutes {
		return 0, fmt.Errorf("延误 %.1f 分钟超出范围", minutes)
	}
	if minutes < 0 {
		minutes = 0
	}
	return minutes, nil
}

func computeDelay(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error) {
	sched := df.Col(config.ColScheduledTime)
	actual := df.Col(config.ColActualTime)

	delays := make([]float64, df.Nrow())
	keep := make([]bool, df.Nrow())
	outOfRange := 0
	for i := range delays {
		s, okS := stringAt(sched, i)
		a, okA := stringAt(actual, i)
		if !okS || !okA {
			continue
		}
		d, err := DelayMinutes(s, a)
		if err != nil {
			outOfRange++
			audit.Detail("第 %d 行跳过: %v", i, err)
			continue
		}
		delays[i], keep[i] = d, true
	}
	if outOfRange > 0 {
		audit.Warn("%d 行延误无法计算或超出一年，已跳过", outOfRange)
	}

	df = df.Mutate(floatSeries(config.ColDelayMinutes, delays, keep))
	df, dropped := keepRows(df, keep)
	if dropped > 0 {
		audit.Add("删除 %d 行无法计算延误的记录", dropped)
	}

	var kept []float64
	for i, d := range delays {
		if keep[i] {
			kept = append(kept, d)
		}
	}
	if len(kept) > 0 {
		audit.Add("延误计算完成，平均延误 %.2f 分钟", stat.Mean(kept, nil))
	}
	return df, nil
}

// TimeOfDay 小时到时段的映射，缺失小时视为下午
func TimeOfDay(hour int, ok bool) int {
	if !ok {
		return Afternoon
	}
	switch {
	case hour >= 6 && hour < 12:
		return Morning
	case hour >= 12 && hour < 18:
		return Afternoon
	case hour >= 18 && hour < 24:
		return Evening
	default:
		return Night
	}
}

func timeOfDayFeatures(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error) {
	sched := df.Col(config.ColScheduledTime)
	hours := make([]interface{}, df.Nrow())
	buckets := make([]int, df.Nrow())
	for i := range buckets {
		raw, present := stringAt(sched, i)
		t, ok := ParseInstant(raw)
		ok = ok && present
		if ok {
			hours[i] = t.Hour()
		}
		buckets[i] = TimeOfDay(t.Hour(), ok)
	}
	audit.Add("生成 hour 与 time_of_day 特征")
	return df.Mutate(newSeries(hours, series.Int, config.ColHour)).
		Mutate(intSeries(config.ColTimeOfDay, buckets)), nil
}

// IsWeekend 周六、周日为 1
func IsWeekend(dayOfWeek int) int {
	if dayOfWeek >= 5 {
		return 1
	}
	return 0
}

// mondayFirst 把 time.Weekday(周日=0) 转为周一=0
func mondayFirst(d int) int {
	return (d + 6) % 7
}

func weekendFeatures(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error) {
	sched := df.Col(config.ColScheduledTime)
	days := make([]interface{}, df.Nrow())
	weekend := make([]int, df.Nrow())
	count := 0
	for i := range weekend {
		raw, present := stringAt(sched, i)
		if !present {
			continue
		}
		t, ok := ParseInstant(raw)
		if !ok {
			continue
		}
		dow := mondayFirst(int(t.Weekday()))
		days[i] = dow
		weekend[i] = IsWeekend(dow)
		count += weekend[i]
	}
	audit.Add("周末识别完成: %d 条周末行程", count)
	return df.Mutate(newSeries(days, series.Int, config.ColDayOfWeek)).
		Mutate(intSeries(config.ColIsWeekend, weekend)), nil
}

func weatherSeverityFeature(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error) {
	col := df.Col(config.ColWeather)
	severity := make([]int, df.Nrow())
	for i := range severity {
		if v, ok := stringAt(col, i); ok {
			severity[i] = WeatherSeverity(v)
		}
	}
	audit.Add("生成 weather_severity 特征")
	return df.Mutate(intSeries(config.ColWeatherSeverity, severity)), nil
}

// routeFrequencyFeature 按当前表计算每条线路的占比
func routeFrequencyFeature(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error) {
	col := df.Col(config.ColRouteID)
	n := df.Nrow()
	keys := make([]string, n)
	counts := make(map[string]int)
	for i := range keys {
		keys[i] = col.Elem(i).String()
		counts[keys[i]]++
	}

	freq := make([]float64, n)
	for i, k := range keys {
		freq[i] = float64(counts[k]) / float64(n)
	}
	audit.Add("生成 route_frequency 特征: %d 条线路", len(counts))
	return df.Mutate(floatSeries(config.ColRouteFrequency, freq, nil)), nil
}
