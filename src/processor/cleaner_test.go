package processor

import (
	"TransportDelay/src/config"
	"strings"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasEntry(entries []string, substr string) bool {
	for _, e := range entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestCleanerStageOrder(t *testing.T) {
	c := NewCleaner(nil, DefaultPolicy(), nil)
	var names []string
	for _, s := range c.Stages() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		StageMissingValues, StageTimestamps, StageWeather,
		StageRouteID, StageOutliers, StageGPS,
	}, names)
}

func TestCleanScenarioAWeather(t *testing.T) {
	df := rawFrame(t, fullHeader,
		trip("1", "2024-01-01 06:00:00", "2024-01-01 06:10:00", "Rain", "50", "45", "-75"),
		trip("2", "2024-01-01 07:00:00", "2024-01-01 07:10:00", "foggy", "60", "45", "-75"),
	)
	out, audit := cleanFrame(t, df)
	assert.Equal(t, []string{WeatherRainy, WeatherClear}, out.Col(config.ColWeather).Records())
	assert.True(t, hasEntry(audit.Entries(), "按默认策略归为 clear"))
}

func TestCleanScenarioBRoutes(t *testing.T) {
	df := rawFrame(t, fullHeader,
		trip("Route 12", "2024-01-01 06:00:00", "2024-01-01 06:10:00", "clear", "50", "45", "-75"),
		trip("R3", "2024-01-01 07:00:00", "2024-01-01 07:10:00", "clear", "60", "45", "-75"),
	)
	out, _ := cleanFrame(t, df)
	assert.Equal(t, []int{10, 3}, intsOf(t, out, config.ColRouteID))
}

func TestCleanScenarioDOutliers(t *testing.T) {
	df := rawFrame(t, fullHeader,
		trip("1", "2024-01-01 06:00:00", "2024-01-01 06:10:00", "clear", "-50", "45", "-75"),
		trip("2", "2024-01-01 07:00:00", "2024-01-01 07:10:00", "clear", "60", "45", "-75"),
		trip("3", "2024-01-01 08:00:00", "2024-01-01 08:10:00", "clear", "70", "45", "-75"),
		trip("4", "2024-01-01 09:00:00", "2024-01-01 09:10:00", "clear", "80", "45", "-75"),
		trip("5", "2024-01-01 10:00:00", "2024-01-01 10:10:00", "clear", "600", "45", "-75"),
	)

	lower, upper := IQRBounds([]float64{-50, 60, 70, 80, 600})
	assert.Equal(t, 30.0, lower)
	assert.Equal(t, 110.0, upper)

	out, audit := cleanFrame(t, df)
	assert.Equal(t, []float64{30, 60, 70, 80, 110}, out.Col(config.ColPassengerCount).Float())
	assert.Equal(t, 5, out.Nrow())
	assert.True(t, hasEntry(audit.Entries(), "[30.00, 110.00]"))
}

func TestIQRBoundsClampedToDomain(t *testing.T) {
	lower, upper := IQRBounds([]float64{0, 0, 400, 450, 480})
	assert.Equal(t, 0.0, lower)
	assert.Equal(t, 500.0, upper)
}

func TestCleanScenarioEGPS(t *testing.T) {
	df := rawFrame(t, fullHeader,
		trip("1", "2024-01-01 06:00:00", "2024-01-01 06:10:00", "clear", "50", "91", "-75"),
		trip("2", "2024-01-01 07:00:00", "2024-01-01 07:10:00", "clear", "60", "45", "-75"),
		trip("3", "2024-01-01 08:00:00", "2024-01-01 08:10:00", "clear", "60", "-90", "180"),
		trip("4", "2024-01-01 09:00:00", "2024-01-01 09:10:00", "clear", "60", "10", "-180.5"),
	)
	out, audit := cleanFrame(t, df)
	assert.Equal(t, []int{2, 3}, intsOf(t, out, config.ColRouteID))
	assert.True(t, hasEntry(audit.Entries(), "删除 2 行无效 GPS 坐标"))
}

func TestCleanMissingValues(t *testing.T) {
	df := rawFrame(t, fullHeader,
		trip("", "2024-01-01 06:00:00", "2024-01-01 06:10:00", "rain", "10", "45", "-75"),
		trip("Route 2", "2024-01-01 07:00:00", "2024-01-01 07:10:00", "rain", "", "45", "-75"),
		trip("", "2024-01-01 08:00:00", "2024-01-01 08:10:00", "", "30", "45", "-75"),
		trip("R5", "2024-01-01 09:00:00", "2024-01-01 09:10:00", "sunny", "abc", "45", "-75"),
		trip("", "2024-01-01 10:00:00", "2024-01-01 10:10:00", "sunny", "20", "", "-75"),
	)
	out, audit := cleanFrame(t, df)

	// 开头缺失的线路无法前向填充，统一时归到默认线路
	assert.Equal(t, []int{1, 2, 2, 5}, intsOf(t, out, config.ColRouteID))
	// 众数 rain 填充后再归一化
	assert.Equal(t, []string{"rainy", "rainy", "rainy", "clear"}, out.Col(config.ColWeather).Records())
	// 中位数取 [10, 30, 20] 的 20
	assert.Equal(t, []float64{10, 20, 30, 20}, out.Col(config.ColPassengerCount).Float())

	entries := audit.Entries()
	assert.True(t, hasEntry(entries, "route_id: 前向填充 2 个缺失值"))
	assert.True(t, hasEntry(entries, "开头 1 行缺失"))
	assert.True(t, hasEntry(entries, "众数 (rain)"))
	assert.True(t, hasEntry(entries, "中位数 (20)"))
	assert.True(t, hasEntry(entries, "删除 1 行缺失 GPS 坐标"))
}

func TestCleanTimestamps(t *testing.T) {
	df := rawFrame(t, fullHeader,
		trip("1", "15/03/2024 08:30:00", "2024-03-15T08:45:00Z", "clear", "50", "45", "-75"),
		trip("2", "garbage", "", "clear", "60", "45", "-75"),
	)
	out, audit := cleanFrame(t, df)

	sched := out.Col(config.ColScheduledTime)
	actual := out.Col(config.ColActualTime)
	assert.Equal(t, "2024-03-15 08:30:00", sched.Elem(0).String())
	assert.Equal(t, "2024-03-15 08:45:00", actual.Elem(0).String())
	// 无法解析的值保留为缺失，行不在清洗阶段删除
	assert.True(t, sched.Elem(1).IsNA())
	assert.True(t, actual.Elem(1).IsNA())
	assert.Equal(t, 2, out.Nrow())
	assert.True(t, hasEntry(audit.Entries(), "scheduled_time: 1 个值无法解析"))
}

func TestCleanInvariantsOnNoisyInput(t *testing.T) {
	df := rawFrame(t, fullHeader,
		trip("Route 12", "2024-01-01 06:00:00", "2024-01-01 06:20:00", "Rain", "120", "45.1", "-75.2"),
		trip("R3", "2024/01/02 07:00:00", "02/01/2024 07:05", "foggy", "", "44.0", "-74.0"),
		trip("", "15-01-2024 18:00:00", "", "", "-10", "46.0", "-73.0"),
		trip("two", "garbage", "2024-01-03", "SNOW", "1000", "", "-70.0"),
		trip("7", "1704096000", "1704099600", "overcast", "90", "200", "-70.0"),
		trip("Express", "2024-01-05 12:00:00", "2024-01-05 11:00:00", "sunny", "abc", "47.5", "181"),
		trip("5", "2024-01-06 09:00:00", "2024-01-06 09:45:00", "drizzle", "150", "-33.9", "151.2"),
	)
	out, audit := cleanFrame(t, df)
	require.Equal(t, 4, out.Nrow())

	for _, w := range out.Col(config.ColWeather).Records() {
		assert.Contains(t, WeatherCategories(), w)
	}
	for _, r := range intsOf(t, out, config.ColRouteID) {
		assert.GreaterOrEqual(t, r, MinRouteID)
		assert.LessOrEqual(t, r, MaxRouteID)
	}
	for _, p := range out.Col(config.ColPassengerCount).Float() {
		assert.GreaterOrEqual(t, p, MinPassengers)
		assert.LessOrEqual(t, p, MaxPassengers)
	}
	for i := 0; i < out.Nrow(); i++ {
		lat := out.Col(config.ColLatitude).Elem(i).Float()
		lon := out.Col(config.ColLongitude).Elem(i).Float()
		assert.True(t, lat >= -90 && lat <= 90)
		assert.True(t, lon >= -180 && lon <= 180)
	}

	assert.Equal(t, []int{10, 3, 3, 5}, intsOf(t, out, config.ColRouteID))
	assert.Equal(t, []string{"rainy", "clear", "rainy", "rainy"}, out.Col(config.ColWeather).Records())
	assert.Equal(t, []float64{120, 120, 63.75, 150}, out.Col(config.ColPassengerCount).Float())
	assert.Equal(t, "2024-01-15 18:00:00", out.Col(config.ColScheduledTime).Elem(2).String())
	assert.Greater(t, audit.Warnings(), 0)
}

func TestCleanIsIdempotent(t *testing.T) {
	df := rawFrame(t, fullHeader,
		trip("Route 1", "2024-01-01 06:00:00", "2024-01-01 06:10:00", "Sunny", "-50", "45", "-75"),
		trip("", "2024/01/01 07:00:00", "01/01/2024 07:20", "clouds", "60", "45", "-75"),
		trip("R3", "2024-01-01 08:00:00", "", "", "70", "45", "-75"),
		trip("4", "garbage", "2024-01-01 09:10:00", "SNOW", "80", "45", "-75"),
		trip("Route 9", "2024-01-06 10:00:00", "2024-01-06 10:10:00", "rainy", "600", "45", "-75"),
	)
	first, _ := cleanFrame(t, df)
	second, audit := cleanFrame(t, first)

	assert.Equal(t, first.Records(), second.Records())
	assert.Zero(t, audit.Warnings())
}

// outliers 在 gps 之前执行：第一遍的四分位数包含随后被删除的越界坐标行，
// 第二遍在剩余行上重新计算，截断上限下降
func TestCleanRecapsAfterGPSDrop(t *testing.T) {
	df := rawFrame(t, fullHeader,
		trip("1", "2024-01-01 06:00:00", "2024-01-01 06:10:00", "clear", "10", "45", "-75"),
		trip("2", "2024-01-01 07:00:00", "2024-01-01 07:10:00", "clear", "20", "45", "-75"),
		trip("3", "2024-01-01 08:00:00", "2024-01-01 08:10:00", "clear", "30", "45", "-75"),
		trip("4", "2024-01-01 09:00:00", "2024-01-01 09:10:00", "clear", "90", "45", "-75"),
		trip("5", "2024-01-01 10:00:00", "2024-01-01 10:10:00", "clear", "200", "200", "-75"),
	)

	first, audit := cleanFrame(t, df)
	assert.True(t, hasEntry(audit.Entries(), "[0.00, 195.00]"))
	assert.True(t, hasEntry(audit.Entries(), "删除 1 行无效 GPS 坐标"))
	assert.Equal(t, []float64{10, 20, 30, 90}, first.Col(config.ColPassengerCount).Float())

	second, audit := cleanFrame(t, first)
	assert.True(t, hasEntry(audit.Entries(), "[0.00, 86.25]"))
	assert.Equal(t, []float64{10, 20, 30, 86.25}, second.Col(config.ColPassengerCount).Float())
}

func TestCleanDoesNotMutateInput(t *testing.T) {
	df := rawFrame(t, fullHeader,
		trip("Route 12", "15/03/2024 08:30:00", "", "Rain", "-50", "91", "-75"),
		trip("", "2024-01-01 07:00:00", "2024-01-01 07:10:00", "", "600", "45", "-75"),
	)
	before := df.Records()
	_, _ = cleanFrame(t, df)
	assert.Equal(t, before, df.Records())
}

func TestCleanSkipsStagesForMissingColumns(t *testing.T) {
	header := []string{config.ColRouteID, config.ColScheduledTime, config.ColPassengerCount}
	df := rawFrame(t, header,
		[]string{"R2", "2024-01-01 06:00:00", "40"},
		[]string{"R4", "2024-01-01 07:00:00", "50"},
	)
	out, audit := cleanFrame(t, df)

	entries := audit.Entries()
	assert.True(t, hasEntry(entries, "缺少必需列"))
	assert.True(t, hasEntry(entries, "跳过 weather"))
	assert.True(t, hasEntry(entries, "跳过 gps"))
	assert.True(t, hasEntry(entries, "缺少列 actual_time"))
	assert.Equal(t, []int{2, 4}, intsOf(t, out, config.ColRouteID))
	assert.Equal(t, 2, out.Nrow())
}

func TestCleanFailsWithoutNumericPassengers(t *testing.T) {
	df := rawFrame(t, fullHeader,
		trip("1", "2024-01-01 06:00:00", "2024-01-01 06:10:00", "clear", "many", "45", "-75"),
		trip("2", "2024-01-01 07:00:00", "2024-01-01 07:10:00", "clear", "few", "45", "-75"),
	)
	_, err := NewCleaner(nil, DefaultPolicy(), nil).Clean(df)
	require.Error(t, err)
	assert.Contains(t, err.Error(), StageMissingValues)
}

func TestCleanEmptyTable(t *testing.T) {
	cols := make([]series.Series, len(fullHeader))
	for i, name := range fullHeader {
		cols[i] = series.New([]string{}, series.String, name)
	}
	df := dataframe.New(cols...)
	require.NoError(t, df.Err)

	out, err := NewCleaner(nil, DefaultPolicy(), nil).Clean(df)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Nrow())
}
