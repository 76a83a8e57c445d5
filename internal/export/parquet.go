package export

import (
	"github.com/parquet-go/parquet-go"

	"chart-replay/internal/model"
)

// parquetBar pins the column names independently of the JSON wire form.
type parquetBar struct {
	TimeMs int64   `parquet:"time_ms"`
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume float64 `parquet:"volume"`
}

// ParquetSaver writes bars as a Parquet file.
type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) Save(bars []model.Bar, path string) error {
	rows := make([]parquetBar, len(bars))
	for i, b := range bars {
		rows[i] = parquetBar{
			TimeMs: b.Time,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}
	return parquet.WriteFile(path, rows)
}
