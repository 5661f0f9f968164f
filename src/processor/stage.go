package processor

import (
	"TransportDelay/src/utils"
	"fmt"

	"github.com/go-gota/gota/dataframe"
)

// Stage 管道中的一个命名步骤。Apply 必须返回新的 DataFrame，不修改入参。
type Stage struct {
	Name     string
	Requires []string // 缺少其中任一列时跳过本步骤
	Apply    func(df dataframe.DataFrame, audit *AuditLog) (dataframe.DataFrame, error)
}

// runStages 按顺序执行步骤，缺列的步骤记录警告后跳过
func runStages(df dataframe.DataFrame, stages []Stage, audit *AuditLog) (dataframe.DataFrame, error) {
	if df.Err != nil {
		return df, fmt.Errorf("输入数据无效: %w", df.Err)
	}

	for _, stage := range stages {
		if missing := utils.MissingColumns(df, stage.Requires); len(missing) > 0 {
			audit.Warn("跳过 %s: 缺少列 %v", stage.Name, missing)
			continue
		}

		out, err := stage.Apply(df, audit)
		if err != nil {
			return df, fmt.Errorf("%s: %w", stage.Name, err)
		}
		if out.Err != nil {
			return df, fmt.Errorf("%s: %w", stage.Name, out.Err)
		}
		df = out
	}
	return df, nil
}

// keepRows 只保留 keep 为 true 的行，全部保留时原样返回
func keepRows(df dataframe.DataFrame, keep []bool) (dataframe.DataFrame, int) {
	dropped := 0
	for _, k := range keep {
		if !k {
			dropped++
		}
	}
	if dropped == 0 {
		return df, 0
	}
	return df.Subset(keep), dropped
}
