package config

import "fmt"

// 数据集列名
const (
	ColRouteID        = "route_id"
	ColScheduledTime  = "scheduled_time"
	ColActualTime     = "actual_time"
	ColWeather        = "weather"
	ColPassengerCount = "passenger_count"
	ColLatitude       = "latitude"
	ColLongitude      = "longitude"

	ColDelayMinutes    = "delay_minutes"
	ColHour            = "hour"
	ColTimeOfDay       = "time_of_day"
	ColDayOfWeek       = "day_of_week"
	ColIsWeekend       = "is_weekend"
	ColWeatherSeverity = "weather_severity"
	ColRouteFrequency  = "route_frequency"
)

// Schema 是管道各组件共享的唯一列定义
type Schema struct {
	RequiredColumns []string `json:"required_columns"` // 原始数据集必须包含的列
	FeatureColumns  []string `json:"feature_columns"`  // 训练特征列(不含目标列)
	TargetColumn    string   `json:"target_column"`    // 回归目标列
}

// DefaultSchema 返回默认的数据集结构
func DefaultSchema() *Schema {
	return &Schema{
		RequiredColumns: []string{
			ColRouteID, ColScheduledTime, ColActualTime, ColWeather,
			ColPassengerCount, ColLatitude, ColLongitude,
		},
		FeatureColumns: []string{
			ColRouteID, ColWeather, ColPassengerCount, ColTimeOfDay,
			ColIsWeekend, ColWeatherSeverity, ColRouteFrequency,
		},
		TargetColumn: ColDelayMinutes,
	}
}

// Validate 检查结构定义本身是否可用
func (s *Schema) Validate() error {
	if len(s.RequiredColumns) == 0 {
		return fmt.Errorf("schema: required_columns 不能为空")
	}
	if s.TargetColumn == "" {
		return fmt.Errorf("schema: target_column 不能为空")
	}
	for _, c := range s.FeatureColumns {
		if c == s.TargetColumn {
			return fmt.Errorf("schema: 目标列 %s 不能同时作为特征列", c)
		}
	}
	return nil
}

// OutputColumns 返回训练表的列顺序：特征列在前，目标列最后
func (s *Schema) OutputColumns() []string {
	mu.RLock()
	defer mu.RUnlock()

	cols := make([]string, 0, len(s.FeatureColumns)+1)
	cols = append(cols, s.FeatureColumns...)
	return append(cols, s.TargetColumn)
}

func (s *Schema) IsRequired(col string) bool {
	mu.RLock()
	defer mu.RUnlock()
	for _, c := range s.RequiredColumns {
		if c == col {
			return true
		}
	}
	return false
}
