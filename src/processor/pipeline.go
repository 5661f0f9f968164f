package processor

import (
	"TransportDelay/src/config"
	"TransportDelay/src/storage"
	"context"
	"fmt"

	"github.com/go-gota/gota/dataframe"
)

// Result 一次管道运行的全部产物
type Result struct {
	Cleaned           dataframe.DataFrame
	Features          dataframe.DataFrame
	Training          dataframe.DataFrame // 特征列 + 目标列
	Routes            dataframe.DataFrame // 线路延误汇总，缺少延误列时为空
	FeatureNames      []string
	Target            string
	Issues            []string // 校验发现的问题
	Audit             []string
	Warnings          int
	OperatingWarnings int
	RowsRaw           int
}

// Pipeline 校验 → 清洗 → 特征工程 → 训练表
type Pipeline struct {
	schema *config.Schema
	policy Policy
	logger *storage.Logger
}

func NewPipeline(schema *config.Schema, policy Policy, logger *storage.Logger) *Pipeline {
	if schema == nil {
		schema = config.DefaultSchema()
	}
	return &Pipeline{schema: schema, policy: policy, logger: logger}
}

// Run 各阶段之间检查 ctx，超时视为本次运行失败
func (p *Pipeline) Run(ctx context.Context, raw dataframe.DataFrame) (*Result, error) {
	audit := NewAuditLog(p.logger)
	res := &Result{RowsRaw: raw.Nrow(), Target: p.schema.TargetColumn}

	valid, issues := Validate(raw, p.schema)
	res.Issues = issues
	if !valid {
		for _, issue := range issues {
			audit.Warn("数据校验: %s", issue)
		}
	}
	if raw.Err != nil {
		return res, fmt.Errorf("读取的数据表无效: %w", raw.Err)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	cleaned, err := NewCleaner(p.schema, p.policy, audit).Clean(raw)
	if err != nil {
		res.Audit = audit.Entries()
		return res, fmt.Errorf("数据清洗失败: %w", err)
	}
	res.Cleaned = cleaned

	if err := ctx.Err(); err != nil {
		return res, err
	}
	fe := NewFeatureEngineer(p.schema, audit)
	features, err := fe.Engineer(cleaned)
	if err != nil {
		res.Audit = audit.Entries()
		return res, fmt.Errorf("特征工程失败: %w", err)
	}
	res.Features = features
	res.FeatureNames = fe.FeatureColumns(features)
	res.OperatingWarnings = CountOperatingWarnings(features)
	if res.OperatingWarnings > 0 {
		audit.Add("%d 条行程触发运营时段提示", res.OperatingWarnings)
	}

	if routes, err := RouteSummary(features); err != nil {
		audit.Warn("跳过线路汇总: %v", err)
	} else {
		res.Routes = routes
	}

	training, err := fe.TrainingTable(features)
	if err != nil {
		// 缺少目标列时仍输出特征表
		audit.Warn("无法生成训练表: %v", err)
		training = features
		if len(res.FeatureNames) > 0 {
			training = features.Select(res.FeatureNames)
		}
	}
	res.Training = training

	res.Audit = audit.Entries()
	res.Warnings = audit.Warnings()
	return res, nil
}
