package processor

import (
	"TransportDelay/src/config"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineRun(t *testing.T) {
	raw := rawFrame(t, fullHeader,
		trip("Route 12", "2024-01-01 06:00:00", "2024-01-01 06:20:00", "Rain", "120", "45.1", "-75.2"),
		trip("R3", "2024/01/02 07:00:00", "02/01/2024 07:05", "foggy", "", "44.0", "-74.0"),
		trip("", "15-01-2024 18:00:00", "", "", "-10", "46.0", "-73.0"),
		trip("7", "1704096000", "1704099600", "overcast", "90", "200", "-70.0"),
		trip("5", "2024-01-06 09:00:00", "2024-01-06 09:45:00", "drizzle", "150", "-33.9", "151.2"),
	)

	res, err := NewPipeline(nil, DefaultPolicy(), nil).Run(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, 5, res.RowsRaw)
	assert.Equal(t, 4, res.Cleaned.Nrow())
	// 第三行缺少实际时间，特征阶段删除
	assert.Equal(t, 3, res.Features.Nrow())
	assert.Equal(t, []float64{20, 5, 45}, res.Features.Col(config.ColDelayMinutes).Float())
	assert.Equal(t, config.DefaultSchema().OutputColumns(), res.Training.Names())
	assert.Equal(t, config.ColDelayMinutes, res.Target)
	assert.Equal(t, config.DefaultSchema().FeatureColumns, res.FeatureNames)
	assert.Empty(t, res.Issues)
	assert.Greater(t, res.Warnings, 0)
	assert.NotEmpty(t, res.Audit)

	require.Equal(t, 3, res.Routes.Nrow())
	routes, err := res.Routes.Col(config.ColRouteID).Int()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 10}, routes)
	assert.Equal(t, []float64{5, 45, 20}, res.Routes.Col(ColMeanDelay).Float())
}

func TestPipelineRunCanceled(t *testing.T) {
	raw := rawFrame(t, fullHeader,
		trip("1", "2024-01-01 06:00:00", "2024-01-01 06:15:00", "clear", "50", "45", "-75"),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipeline(nil, DefaultPolicy(), nil).Run(ctx, raw)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipelineRunCleanFailure(t *testing.T) {
	raw := rawFrame(t, fullHeader,
		trip("1", "2024-01-01 06:00:00", "2024-01-01 06:15:00", "clear", "n/a", "45", "-75"),
	)
	res, err := NewPipeline(nil, DefaultPolicy(), nil).Run(context.Background(), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "数据清洗失败")
	assert.NotEmpty(t, res.Audit)
}

func TestPipelineRunWithoutTarget(t *testing.T) {
	header := []string{
		config.ColRouteID, config.ColScheduledTime, config.ColWeather,
		config.ColPassengerCount, config.ColLatitude, config.ColLongitude,
	}
	raw := rawFrame(t, header,
		[]string{"1", "2024-01-01 08:00:00", "rain", "40", "45", "-75"},
		[]string{"2", "2024-01-01 09:00:00", "snow", "45", "45", "-75"},
	)
	res, err := NewPipeline(nil, DefaultPolicy(), nil).Run(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultSchema().FeatureColumns, res.Training.Names())
	assert.True(t, hasEntry(res.Audit, "无法生成训练表"))
	assert.True(t, hasEntry(res.Audit, "跳过线路汇总"))
	assert.Equal(t, 0, res.Routes.Ncol())
}

func TestValidate(t *testing.T) {
	good := rawFrame(t, fullHeader,
		trip("1", "2024-01-01 06:00:00", "2024-01-01 06:15:00", "clear", "50", "45", "-75"),
	)
	ok, issues := Validate(good, nil)
	assert.True(t, ok)
	assert.Empty(t, issues)

	bad := rawFrame(t, []string{config.ColRouteID, config.ColPassengerCount, config.ColLatitude},
		[]string{"1", "lots", "north"},
		[]string{"2", "", "45"},
	)
	ok, issues = Validate(bad, config.DefaultSchema())
	assert.False(t, ok)
	require.Len(t, issues, 3)
	assert.Contains(t, issues[0], "缺少必需列")
	assert.Contains(t, issues[1], "passenger_count 应为数值: 1 个非数值")
	assert.Contains(t, issues[2], "latitude 应为数值: 1 个非数值")
}
