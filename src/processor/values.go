package processor

import (
	"math"
	"strings"

	"github.com/go-gota/gota/series"
	"github.com/spf13/cast"
)

// 单元格读写辅助。缺失值统一用 gota 的 NA 元素表示。

// stringAt 返回第 i 个元素去掉首尾空白后的文本，NA 或空白返回 ok=false
func stringAt(s series.Series, i int) (string, bool) {
	el := s.Elem(i)
	if el.IsNA() {
		return "", false
	}
	v := strings.TrimSpace(el.String())
	if v == "" {
		return "", false
	}
	return v, true
}

// floatAt 把第 i 个元素强制转换为有限浮点数，无法转换视为缺失
func floatAt(s series.Series, i int) (float64, bool) {
	el := s.Elem(i)
	if el.IsNA() {
		return 0, false
	}

	var f float64
	switch el.Type() {
	case series.Float, series.Int:
		f = el.Float()
	default:
		str := strings.TrimSpace(el.String())
		if str == "" {
			return 0, false
		}
		v, err := cast.ToFloat64E(str)
		if err != nil {
			return 0, false
		}
		f = v
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// floatValues 读取整列，返回数值和是否有效
func floatValues(s series.Series) ([]float64, []bool) {
	vals := make([]float64, s.Len())
	ok := make([]bool, s.Len())
	for i := range vals {
		vals[i], ok[i] = floatAt(s, i)
	}
	return vals, ok
}

// newSeries 由带 nil 的切片构造 Series，nil 元素即 NA
func newSeries(values []interface{}, t series.Type, name string) series.Series {
	return series.New(values, t, name)
}

func floatSeries(name string, vals []float64, ok []bool) series.Series {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		if ok == nil || ok[i] {
			out[i] = v
		}
	}
	return newSeries(out, series.Float, name)
}

func intSeries(name string, vals []int) series.Series {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return newSeries(out, series.Int, name)
}

func stringSeries(name string, vals []string, ok []bool) series.Series {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		if ok == nil || ok[i] {
			out[i] = v
		}
	}
	return newSeries(out, series.String, name)
}
