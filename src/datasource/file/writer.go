// writer.go
package file

import (
	"TransportDelay/src/utils"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"
)

// 输出文件名
const (
	CleanedFile       = "cleaned_dataset.csv"
	FeatureFile       = "feature_dataset.csv"
	ReportFile        = "feature_dataset.xlsx"
	FeatureConfigFile = "feature_config.json"
)

// 报表工作表
const (
	FeaturesSheet = "features"
	AuditSheet    = "audit"
	RoutesSheet   = "routes"
)

// FeatureConfig 训练时使用的特征定义
type FeatureConfig struct {
	FeatureNames []string `json:"feature_names"`
	Target       string   `json:"target"`
	RunID        string   `json:"run_id,omitempty"`
}

// Outputs 一次运行写出的文件路径
type Outputs struct {
	Cleaned       string
	Features      string
	Report        string
	FeatureConfig string
}

// ensureDir 确保目录存在
func ensureDir(dirPath string) error {
	if info, err := os.Stat(dirPath); err == nil {
		if info.IsDir() {
			return nil
		}
		return fmt.Errorf("%s exists but is not a directory", dirPath)
	}
	return os.MkdirAll(dirPath, 0755)
}

// WriteCSV 缺失值写为 NaN，读回时仍识别为缺失
func WriteCSV(df dataframe.DataFrame, filePath string) error {
	if err := ensureDir(filepath.Dir(filePath)); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("创建 %s 失败: %w", filePath, err)
	}
	defer f.Close()

	if err := df.WriteCSV(f); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", filePath, err)
	}
	return f.Close()
}

func WriteFeatureConfig(cfg FeatureConfig, filePath string) error {
	if err := ensureDir(filepath.Dir(filePath)); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化特征配置失败: %w", err)
	}
	return os.WriteFile(filePath, data, 0644)
}

func ReadFeatureConfig(filePath string) (FeatureConfig, error) {
	var cfg FeatureConfig
	data, err := os.ReadFile(filePath)
	if err != nil {
		return cfg, fmt.Errorf("读取特征配置失败: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("解析特征配置失败: %w", err)
	}
	return cfg, nil
}

// WriteReport 特征表与审计记录写入同一个 xlsx，extra 追加在其后
func WriteReport(features dataframe.DataFrame, audit []string, filePath string, extra ...utils.Sheet) error {
	if err := ensureDir(filepath.Dir(filePath)); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	sheets := []utils.Sheet{
		{Name: FeaturesSheet, Data: features},
		{Name: AuditSheet, Data: utils.LinesFrame("entry", audit)},
	}
	return utils.SaveToExcel(filePath, append(sheets, extra...)...)
}

// WriteOutputs 写出清洗表、训练表、报表和特征配置
func WriteOutputs(dir string, cleaned, training dataframe.DataFrame, fc FeatureConfig, audit []string, extra ...utils.Sheet) (Outputs, error) {
	out := Outputs{
		Cleaned:       filepath.Join(dir, CleanedFile),
		Features:      filepath.Join(dir, FeatureFile),
		Report:        filepath.Join(dir, ReportFile),
		FeatureConfig: filepath.Join(dir, FeatureConfigFile),
	}

	if err := WriteCSV(cleaned, out.Cleaned); err != nil {
		return out, err
	}
	if err := WriteCSV(training, out.Features); err != nil {
		return out, err
	}
	if err := WriteReport(training, audit, out.Report, extra...); err != nil {
		return out, err
	}
	if err := WriteFeatureConfig(fc, out.FeatureConfig); err != nil {
		return out, err
	}
	return out, nil
}
