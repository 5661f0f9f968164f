package processor

import (
	"TransportDelay/src/config"
	"TransportDelay/src/utils"
	"fmt"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/gonum/floats"
)

// 清洗步骤名称，顺序见 Cleaner.Stages
const (
	StageMissingValues = "missing_values"
	StageTimestamps    = "timestamps"
	StageWeather       = "weather"
	StageRouteID       = "route_id"
	StageOutliers      = "outliers"
	StageGPS           = "gps"
)

// 乘客数的绝对取值范围
const (
	MinPassengers = 0.0
	MaxPassengers = 500.0
)

// Cleaner 按固定顺序执行清洗步骤
type Cleaner struct {
	schema *config.Schema
	policy Policy
	audit  *AuditLog
}

func NewCleaner(schema *config.Schema, policy Policy, audit *AuditLog) *Cleaner {
	if schema == nil {
		schema = config.DefaultSchema()
	}
	if audit == nil {
		audit = NewAuditLog(nil)
	}
	return &Cleaner{schema: schema, policy: policy, audit: audit}
}

// Stages 缺失值处理必须在时间、天气、线路处理之前，
// GPS 校验放在最后，保证前面能修复的行不会被提前删除。
func (c *Cleaner) Stages() []Stage {
	return []Stage{
		{Name: StageMissingValues, Apply: c.resolveMissing},
		{Name: StageTimestamps, Apply: normalizeTimestamps},
		{Name: StageWeather, Requires: []string{config.ColWeather}, Apply: c.normalizeWeather},
		{Name: StageRouteID, Requires: []string{config.ColRouteID}, Apply: c.unifyRouteIDs},
		{Name: StageOutliers, Requires: []string{config.ColPassengerCount}, Apply: capOutliers},
		{Name: StageGPS, Requires: []string{config.ColLatitude, config.ColLongitude}, Apply: validateGPS},
	}
}

// Clean 返回清洗后的新表，入参不变
func (c *Cleaner) Clean(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	c.audit.Add("开始清洗: %d 行, %d 列", df.Nrow(), df.Ncol())
	if missing := utils.MissingColumns(df, c.schema.RequiredColumns); len(missing) > 0 {
		c.audit.Warn("缺少必需列 %v，相关步骤将跳过", missing)
	}
	out, err := runStages(df, c.Stages(), c.audit)
	if err != nil {
		return df, err
	}
	c.audit.Add("清洗完成: 剩余 %d 行", out.Nrow())
	return out, nil
}

func (c *Cleaner) Audit() *AuditLog { return c.audit }

// resolveMissing 各列的缺失值策略：线路前向填充、天气取众数、乘客数取中位数、缺坐标删行
func (c *Cleaner) resolveMissing(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error) {
	if df.Nrow() == 0 {
		audit.Add("缺失值处理: 空表，跳过")
		return df, nil
	}

	if utils.HasColumn(df, config.ColRouteID) {
		df = forwardFillRoute(df, audit)
	}
	if utils.HasColumn(df, config.ColWeather) {
		df = fillWeatherMode(df, audit)
	}
	if utils.HasColumn(df, config.ColPassengerCount) {
		var err error
		if df, err = fillPassengerMedian(df, audit); err != nil {
			return df, err
		}
	}

	if missing := utils.MissingColumns(df, []string{config.ColLatitude, config.ColLongitude}); len(missing) > 0 {
		audit.Warn("缺少列 %v，无法删除缺失坐标的行", missing)
		return df, nil
	}
	lat, lon := df.Col(config.ColLatitude), df.Col(config.ColLongitude)
	keep := make([]bool, df.Nrow())
	for i := range keep {
		_, okLat := floatAt(lat, i)
		_, okLon := floatAt(lon, i)
		keep[i] = okLat && okLon
	}
	df, dropped := keepRows(df, keep)
	if dropped > 0 {
		audit.Add("删除 %d 行缺失 GPS 坐标的记录", dropped)
	}
	return df, nil
}

func forwardFillRoute(df dataframe.DataFrame, audit *AuditLog) dataframe.DataFrame {
	col := df.Col(config.ColRouteID)
	vals := make([]string, col.Len())
	ok := make([]bool, col.Len())

	filled, leading := 0, 0
	last, seen := "", false
	for i := range vals {
		if v, present := stringAt(col, i); present {
			vals[i], ok[i] = v, true
			last, seen = v, true
			continue
		}
		if seen {
			vals[i], ok[i] = last, true
			filled++
		} else {
			leading++
		}
	}
	if filled == 0 {
		if leading > 0 {
			audit.Add("route_id: 开头 %d 行缺失且无可前向填充的值", leading)
		}
		return df
	}

	audit.Add("route_id: 前向填充 %d 个缺失值", filled)
	if leading > 0 {
		audit.Add("route_id: 开头 %d 行缺失且无可前向填充的值", leading)
	}
	return df.Mutate(stringSeries(config.ColRouteID, vals, ok))
}

func fillWeatherMode(df dataframe.DataFrame, audit *AuditLog) dataframe.DataFrame {
	col := df.Col(config.ColWeather)
	vals := make([]string, col.Len())
	var present []string
	missing := 0
	for i := range vals {
		v, ok := stringAt(col, i)
		if !ok {
			missing++
			continue
		}
		vals[i] = v
		present = append(present, v)
	}
	if missing == 0 {
		return df
	}

	fill, ok := mode(present)
	if !ok {
		fill = WeatherClear
	}
	for i := range vals {
		if _, ok := stringAt(col, i); !ok {
			vals[i] = fill
		}
	}
	audit.Add("weather: %d 个缺失值以众数 (%s) 填充", missing, fill)
	return df.Mutate(stringSeries(config.ColWeather, vals, nil))
}

// fillPassengerMedian 非数值文本同样视为缺失
func fillPassengerMedian(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error) {
	vals, ok := floatValues(df.Col(config.ColPassengerCount))

	var present []float64
	for i, v := range vals {
		if ok[i] {
			present = append(present, v)
		}
	}
	missing := len(vals) - len(present)
	if missing == 0 {
		return df, nil
	}
	if len(present) == 0 {
		return df, fmt.Errorf("passenger_count 没有任何数值，无法计算中位数")
	}

	m := median(present)
	for i := range vals {
		if !ok[i] {
			vals[i] = m
		}
	}
	audit.Add("passenger_count: %d 个缺失值以中位数 (%.0f) 填充", missing, m)
	return df.Mutate(floatSeries(config.ColPassengerCount, vals, nil)), nil
}

func normalizeTimestamps(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error) {
	for _, name := range []string{config.ColScheduledTime, config.ColActualTime} {
		if !utils.HasColumn(df, name) {
			audit.Warn("缺少列 %s，跳过时间标准化", name)
			continue
		}

		col := df.Col(name)
		vals := make([]string, col.Len())
		ok := make([]bool, col.Len())
		failed := 0
		for i := range vals {
			raw, present := stringAt(col, i)
			if !present {
				continue
			}
			if vals[i], ok[i] = NormalizeTimestamp(raw); !ok[i] {
				failed++
				audit.Detail("无法解析时间 %s[%d]: %q", name, i, raw)
			}
		}
		df = df.Mutate(stringSeries(name, vals, ok))
		if failed > 0 {
			audit.Warn("%s: %d 个值无法解析，标记为缺失", name, failed)
		}
		audit.Add("%s: 统一为 %s 格式", name, CanonicalLayout)
	}
	return df, nil
}

func (c *Cleaner) normalizeWeather(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error) {
	col := df.Col(config.ColWeather)
	vals := make([]string, col.Len())
	defaulted := 0
	for i := range vals {
		raw, present := stringAt(col, i)
		var matched bool
		if vals[i], matched = c.policy.NormalizeWeather(raw, present); !matched {
			defaulted++
		}
	}
	if defaulted > 0 {
		audit.Warn("weather: %d 个值无法识别，按默认策略归为 %s", defaulted, c.policy.UnknownWeather)
	}
	audit.Add("weather: 归一化为 %v", distinctStrings(vals))
	return df.Mutate(stringSeries(config.ColWeather, vals, nil)), nil
}

func (c *Cleaner) unifyRouteIDs(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error) {
	col := df.Col(config.ColRouteID)
	vals := make([]int, col.Len())
	defaulted := 0
	for i := range vals {
		raw, present := stringAt(col, i)
		var matched bool
		if vals[i], matched = c.policy.UnifyRouteID(raw, present); !matched {
			defaulted++
		}
	}
	if defaulted > 0 {
		audit.Warn("route_id: %d 个值无法识别，按默认策略归为线路 %d", defaulted, c.policy.DefaultRoute)
	}
	audit.Add("route_id: 统一为线路号 %v", distinctInts(vals))
	return df.Mutate(intSeries(config.ColRouteID, vals)), nil
}

// capOutliers 按 IQR 截断乘客数，再截断到 [0,500]，不删除行
func capOutliers(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error) {
	if df.Nrow() == 0 {
		audit.Add("passenger_count: 空表，跳过异常值处理")
		return df, nil
	}

	vals, ok := floatValues(df.Col(config.ColPassengerCount))
	var present []float64
	for i, v := range vals {
		if ok[i] {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return df, fmt.Errorf("passenger_count 无法转换为数值")
	}

	lower, upper := IQRBounds(present)
	capped := 0
	for i, v := range vals {
		if !ok[i] {
			continue
		}
		nv := clampFloat(clampFloat(v, lower, upper), MinPassengers, MaxPassengers)
		if nv != v {
			capped++
		}
		vals[i] = nv
	}

	audit.Add("passenger_count: IQR 截断范围 [%.2f, %.2f]，调整 %d 个值 (原始范围 [%.2f, %.2f])",
		lower, upper, capped, floats.Min(present), floats.Max(present))
	return df.Mutate(floatSeries(config.ColPassengerCount, vals, ok)), nil
}

// IQRBounds 返回 [max(0, Q1-1.5*IQR), min(500, Q3+1.5*IQR)]
func IQRBounds(values []float64) (lower, upper float64) {
	q1 := quantile(values, 0.25)
	q3 := quantile(values, 0.75)
	iqr := q3 - q1
	lower = clampFloat(q1-1.5*iqr, MinPassengers, MaxPassengers)
	upper = clampFloat(q3+1.5*iqr, MinPassengers, MaxPassengers)
	return lower, upper
}

// validateGPS 删除坐标越界或非数值的行，坐标不做修正
func validateGPS(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error) {
	latVals, latOK := floatValues(df.Col(config.ColLatitude))
	lonVals, lonOK := floatValues(df.Col(config.ColLongitude))

	keep := make([]bool, df.Nrow())
	for i := range keep {
		keep[i] = latOK[i] && lonOK[i] &&
			latVals[i] >= -90 && latVals[i] <= 90 &&
			lonVals[i] >= -180 && lonVals[i] <= 180
	}

	df = df.Mutate(floatSeries(config.ColLatitude, latVals, latOK)).
		Mutate(floatSeries(config.ColLongitude, lonVals, lonOK))
	df, dropped := keepRows(df, keep)
	if dropped > 0 {
		audit.Add("删除 %d 行无效 GPS 坐标", dropped)
	}
	return df, nil
}

func distinctStrings(vals []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func distinctInts(vals []int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
