package exports

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"strconv"

	"autorepay/native/autorepay"

	"lukechampine.com/blake3"
)

var positionHeader = []string{"slot", "account", "collateral", "borrowed", "last_updated", "taken_at"}

// PositionsCSV builds a CSV export for the supplied snapshot and returns the
// serialised data alongside a BLAKE3 checksum of the payload.
func PositionsCSV(snapshot *autorepay.Snapshot) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(positionHeader); err != nil {
		return nil, "", err
	}
	for _, row := range rowsOf(snapshot) {
		record := []string{
			strconv.FormatUint(uint64(row.Slot), 10),
			row.Account,
			row.Collateral,
			row.Borrowed,
			strconv.FormatUint(row.LastUpdated, 10),
			strconv.FormatUint(row.TakenAt, 10),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, Checksum(data), nil
}

// Checksum returns the hex BLAKE3-256 digest of data.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type positionRow struct {
	Slot        autorepay.Slot
	Account     string
	Collateral  string
	Borrowed    string
	LastUpdated uint64
	TakenAt     uint64
}

func rowsOf(snapshot *autorepay.Snapshot) []positionRow {
	if snapshot == nil {
		return nil
	}
	rows := make([]positionRow, 0, len(snapshot.Positions))
	for _, entry := range snapshot.Positions {
		pos := entry.Position.Clone()
		rows = append(rows, positionRow{
			Slot:        entry.Slot,
			Account:     entry.Account.Hex(),
			Collateral:  pos.Collateral.String(),
			Borrowed:    pos.Borrowed.String(),
			LastUpdated: pos.LastUpdated,
			TakenAt:     snapshot.TakenAt,
		})
	}
	return rows
}
