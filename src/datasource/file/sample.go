// sample.go
package file

import (
	"TransportDelay/src/config"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// DefaultSampleSize 默认生成的记录数
const DefaultSampleSize = 300

var (
	sampleWeathers       = []string{"clear", "cloudy", "rainy", "snowy"}
	sampleWeatherVariant = map[string][]string{
		"clear":  {"clear", "sunny", "Sun", "CLEAR"},
		"cloudy": {"cloudy", "Cloudy", "overcast", "clouds"},
		"rainy":  {"rainy", "rain", "Rain", "drizzle"},
		"snowy":  {"snowy", "snow", "Snow", "sleet"},
	}
	samplePassengerOutliers = []int{-50, 600, 1000, -10}
	sampleBadLatitudes      = []float64{91, -91, 200, -200}
	sampleBadLongitudes     = []float64{181, -181, 300}
)

// GenerateDirtyDataset 生成带噪声的测试数据集，相同 seed 结果相同。
// 噪声比例: 30% 文本线路号，10% 缺实际时间，20% 日在前格式，30% 天气变体，
// 15% 缺乘客数，10% 乘客数异常，10% 缺坐标，5% 坐标越界。
func GenerateDirtyDataset(n int, seed int64) dataframe.DataFrame {
	if n < 0 {
		n = 0
	}
	r := rand.New(rand.NewSource(seed))
	base := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)

	routes := make([]interface{}, n)
	scheduled := make([]interface{}, n)
	actual := make([]interface{}, n)
	weather := make([]interface{}, n)
	passengers := make([]interface{}, n)
	lats := make([]interface{}, n)
	lons := make([]interface{}, n)

	for i := 0; i < n; i++ {
		route := r.Intn(10) + 1
		if r.Float64() < 0.3 {
			if r.Float64() < 0.5 {
				routes[i] = fmt.Sprintf("Route %d", route)
			} else {
				routes[i] = fmt.Sprintf("R%d", route)
			}
		} else {
			routes[i] = strconv.Itoa(route)
		}

		sched := base.AddDate(0, 0, i/10).
			Add(time.Duration(i%24) * time.Hour).
			Add(time.Duration(r.Intn(60)) * time.Minute)
		scheduled[i] = sched.Format("2006-01-02 15:04:05")

		if r.Float64() >= 0.1 {
			delay := time.Duration(r.ExpFloat64() * 10 * float64(time.Minute))
			at := sched.Add(delay)
			if r.Float64() < 0.2 {
				actual[i] = at.Format("02/01/2006 15:04")
			} else {
				actual[i] = at.Format("2006-01-02 15:04:05")
			}
		}

		w := sampleWeathers[r.Intn(len(sampleWeathers))]
		if r.Float64() < 0.3 {
			variants := sampleWeatherVariant[w]
			w = variants[r.Intn(len(variants))]
		}
		weather[i] = w

		switch {
		case r.Float64() < 0.15:
		case r.Float64() < 0.1:
			passengers[i] = strconv.Itoa(samplePassengerOutliers[r.Intn(len(samplePassengerOutliers))])
		default:
			passengers[i] = strconv.Itoa(50 + r.Intn(151))
		}

		switch {
		case r.Float64() < 0.1:
		case r.Float64() < 0.05:
			lats[i] = formatCoord(sampleBadLatitudes[r.Intn(len(sampleBadLatitudes))])
			lons[i] = formatCoord(sampleBadLongitudes[r.Intn(len(sampleBadLongitudes))])
		default:
			lats[i] = formatCoord(40 + r.Float64()*10)
			lons[i] = formatCoord(-80 + r.Float64()*10)
		}
	}

	return dataframe.New(
		series.New(routes, series.String, config.ColRouteID),
		series.New(scheduled, series.String, config.ColScheduledTime),
		series.New(actual, series.String, config.ColActualTime),
		series.New(weather, series.String, config.ColWeather),
		series.New(passengers, series.String, config.ColPassengerCount),
		series.New(lats, series.String, config.ColLatitude),
		series.New(lons, series.String, config.ColLongitude),
	)
}

// WriteDirtyDataset 生成并保存测试数据集
func WriteDirtyDataset(filePath string, n int, seed int64) (dataframe.DataFrame, error) {
	df := GenerateDirtyDataset(n, seed)
	if df.Err != nil {
		return df, fmt.Errorf("生成数据集失败: %w", df.Err)
	}
	return df, WriteCSV(df, filePath)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
