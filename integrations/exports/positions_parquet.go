package exports

import (
	"fmt"
	"os"

	"autorepay/native/autorepay"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Amounts stay strings: 18-decimal values overflow every numeric parquet type.
type parquetPosition struct {
	Slot        int64  `parquet:"name=slot, type=INT64"`
	Account     string `parquet:"name=account, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Collateral  string `parquet:"name=collateral, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Borrowed    string `parquet:"name=borrowed, type=UTF8, encoding=PLAIN_DICTIONARY"`
	LastUpdated int64  `parquet:"name=last_updated, type=INT64"`
	TakenAt     int64  `parquet:"name=taken_at, type=INT64"`
}

// WritePositionsParquet writes the snapshot to path as a snappy compressed
// parquet file. The file is removed when writing fails.
func WritePositionsParquet(path string, snapshot *autorepay.Snapshot) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetPosition), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rowsOf(snapshot) {
		pr := &parquetPosition{
			Slot:        int64(row.Slot),
			Account:     row.Account,
			Collateral:  row.Collateral,
			Borrowed:    row.Borrowed,
			LastUpdated: int64(row.LastUpdated),
			TakenAt:     int64(row.TakenAt),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}
