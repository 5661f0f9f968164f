package processor

import (
	"TransportDelay/src/config"
	"TransportDelay/src/utils"
	"fmt"

	"github.com/go-gota/gota/dataframe"
)

// Validate 检查原始表的列与类型，只返回问题列表，不阻止后续处理
func Validate(df dataframe.DataFrame, schema *config.Schema) (bool, []string) {
	if schema == nil {
		schema = config.DefaultSchema()
	}
	if df.Err != nil {
		return false, []string{fmt.Sprintf("数据表无效: %v", df.Err)}
	}

	var issues []string
	if missing := utils.MissingColumns(df, schema.RequiredColumns); len(missing) > 0 {
		issues = append(issues, fmt.Sprintf("缺少必需列: %v", missing))
	}

	if utils.HasColumn(df, config.ColPassengerCount) {
		col := df.Col(config.ColPassengerCount)
		bad := 0
		for i := 0; i < col.Len(); i++ {
			if _, present := stringAt(col, i); !present {
				continue
			}
			if _, ok := floatAt(col, i); !ok {
				bad++
			}
		}
		if bad > 0 {
			issues = append(issues, fmt.Sprintf("passenger_count 应为数值: %d 个非数值", bad))
		}
	}

	for _, name := range []string{config.ColLatitude, config.ColLongitude} {
		if !utils.HasColumn(df, name) {
			continue
		}
		col := df.Col(name)
		bad := 0
		for i := 0; i < col.Len(); i++ {
			if _, present := stringAt(col, i); !present {
				continue
			}
			if _, ok := floatAt(col, i); !ok {
				bad++
			}
		}
		if bad > 0 {
			issues = append(issues, fmt.Sprintf("%s 应为数值: %d 个非数值", name, bad))
		}
	}

	if df.Nrow() == 0 {
		issues = append(issues, "数据表没有任何记录")
	}
	return len(issues) == 0, issues
}

// OperatingWarnings 运营时段提示：工作日夜间、夜间的 8 号以上线路。
// 只用于提示，不影响特征值。
func OperatingWarnings(timeOfDay, isWeekend, routeID int) []string {
	var msgs []string
	if isWeekend == 0 && timeOfDay == Night {
		msgs = append(msgs, "工作日夜间行程，预测可能不够准确")
	}
	if timeOfDay == Night && routeID > 8 {
		msgs = append(msgs, "该线路夜间服务有限")
	}
	return msgs
}

// CountOperatingWarnings 统计特征表中触发运营提示的行数
func CountOperatingWarnings(df dataframe.DataFrame) int {
	if len(utils.MissingColumns(df, []string{config.ColTimeOfDay, config.ColIsWeekend, config.ColRouteID})) > 0 {
		return 0
	}
	tod := df.Col(config.ColTimeOfDay)
	wk := df.Col(config.ColIsWeekend)
	route := df.Col(config.ColRouteID)

	n := 0
	for i := 0; i < df.Nrow(); i++ {
		t, ok1 := floatAt(tod, i)
		w, ok2 := floatAt(wk, i)
		r, ok3 := floatAt(route, i)
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		if len(OperatingWarnings(int(t), int(w), int(r))) > 0 {
			n++
		}
	}
	return n
}
