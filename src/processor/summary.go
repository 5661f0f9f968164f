package processor

import (
	"TransportDelay/src/config"
	"TransportDelay/src/utils"
	"fmt"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/stat"
)

// 线路汇总阈值(分钟)
const (
	OnTimeMinutes    = 5.0  // 延误不超过该值视为准点
	LongDelayMinutes = 30.0 // 延误达到该值视为长延误
)

// 线路汇总表列名
const (
	ColTrips      = "trips"
	ColMeanDelay  = "mean_delay"
	ColOnTimeRate = "on_time_rate"
	ColLongDelays = "long_delays"
)

// RouteSummary 按线路统计班次数、平均延误、准点率和长延误班次，按线路号升序
func RouteSummary(features dataframe.DataFrame) (dataframe.DataFrame, error) {
	if missing := utils.MissingColumns(features, []string{config.ColRouteID, config.ColDelayMinutes}); len(missing) > 0 {
		return dataframe.DataFrame{}, fmt.Errorf("缺少列 %v", missing)
	}

	routes := features.Col(config.ColRouteID)
	delays := features.Col(config.ColDelayMinutes)
	byRoute := make(map[int][]float64)
	for i := 0; i < features.Nrow(); i++ {
		route, ok := floatAt(routes, i)
		if !ok {
			continue
		}
		delay, ok := floatAt(delays, i)
		if !ok {
			continue
		}
		byRoute[int(route)] = append(byRoute[int(route)], delay)
	}

	ids := make([]int, 0, len(byRoute))
	for id := range byRoute {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	trips := make([]int, len(ids))
	means := make([]float64, len(ids))
	rates := make([]string, len(ids))
	longs := make([]int, len(ids))
	for i, id := range ids {
		d := byRoute[id]
		onTime := 0
		for _, v := range d {
			if v <= OnTimeMinutes {
				onTime++
			}
			if v >= LongDelayMinutes {
				longs[i]++
			}
		}
		trips[i] = len(d)
		means[i] = stat.Mean(d, nil)
		rates[i] = formatRate(onTime, len(d))
	}

	return dataframe.New(
		intSeries(config.ColRouteID, ids),
		intSeries(ColTrips, trips),
		floatSeries(ColMeanDelay, means, nil),
		series.New(rates, series.String, ColOnTimeRate),
		intSeries(ColLongDelays, longs),
	), nil
}

// formatRate 百分比文本，全部准点时写 100%
func formatRate(n, total int) string {
	if total == 0 {
		return ""
	}
	rate := float64(n) / float64(total)
	if rate == 1 {
		return "100%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
