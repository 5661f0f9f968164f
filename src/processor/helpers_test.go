package processor

import (
	"TransportDelay/src/config"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/require"
)

var fullHeader = []string{
	config.ColRouteID, config.ColScheduledTime, config.ColActualTime, config.ColWeather,
	config.ColPassengerCount, config.ColLatitude, config.ColLongitude,
}

// rawFrame 与文件读取一致：全部列为字符串，空串视为缺失
func rawFrame(t *testing.T, header []string, rows ...[]string) dataframe.DataFrame {
	t.Helper()
	records := append([][]string{header}, rows...)
	df := dataframe.LoadRecords(records,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues([]string{"", "NA", "NaN"}),
	)
	require.NoError(t, df.Err)
	return df
}

func trip(route, scheduled, actual, weather, passengers, lat, lon string) []string {
	return []string{route, scheduled, actual, weather, passengers, lat, lon}
}

func cleanFrame(t *testing.T, df dataframe.DataFrame) (dataframe.DataFrame, *AuditLog) {
	t.Helper()
	audit := NewAuditLog(nil)
	out, err := NewCleaner(config.DefaultSchema(), DefaultPolicy(), audit).Clean(df)
	require.NoError(t, err)
	return out, audit
}

func intsOf(t *testing.T, df dataframe.DataFrame, col string) []int {
	t.Helper()
	vals, err := df.Col(col).Int()
	require.NoError(t, err)
	return vals
}
