package exports

import (
	"bytes"
	"encoding/json"

	"autorepay/native/autorepay"
)

type jsonPosition struct {
	Slot        uint64 `json:"slot"`
	Account     string `json:"account"`
	Collateral  string `json:"collateral"`
	Borrowed    string `json:"borrowed"`
	LastUpdated uint64 `json:"lastUpdated"`
	TakenAt     uint64 `json:"takenAt"`
}

// PositionsJSONL encodes the snapshot as newline delimited JSON and returns a
// BLAKE3 checksum alongside the payload.
func PositionsJSONL(snapshot *autorepay.Snapshot) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	for _, row := range rowsOf(snapshot) {
		payload := jsonPosition{
			Slot:        uint64(row.Slot),
			Account:     row.Account,
			Collateral:  row.Collateral,
			Borrowed:    row.Borrowed,
			LastUpdated: row.LastUpdated,
			TakenAt:     row.TakenAt,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, Checksum(data), nil
}
