package exports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"autorepay/native/autorepay"
)

// Manifest describes one snapshot export run.
type Manifest struct {
	TakenAt         uint64 `json:"takenAt"`
	Positions       int    `json:"positions"`
	FeesSkimmed     string `json:"feesSkimmed"`
	FeesPending     string `json:"feesPending"`
	LastSweep       uint64 `json:"lastSweep"`
	PositionsRoot   string `json:"positionsRoot"`
	CSVPath         string `json:"csvPath"`
	CSVChecksum     string `json:"csvChecksum"`
	ParquetPath     string `json:"parquetPath"`
	ParquetChecksum string `json:"parquetChecksum"`
	ManifestPath    string `json:"-"`
}

// WriteSnapshot writes CSV, parquet and a JSON manifest for snapshot into a
// dated directory below baseDir. Files already written are removed when a
// later step fails, so a failed run leaves no partial export behind.
func WriteSnapshot(baseDir string, snapshot *autorepay.Snapshot) (_ *Manifest, err error) {
	if snapshot == nil {
		return nil, fmt.Errorf("exports: nil snapshot")
	}
	taken := time.Unix(int64(snapshot.TakenAt), 0).UTC()
	runDir := filepath.Join(baseDir, taken.Format("2006-01-02"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("exports: create dir: %w", err)
	}
	stem := "positions-" + taken.Format("20060102T150405Z")

	var written []string
	defer func() {
		if err == nil {
			return
		}
		for _, path := range written {
			_ = os.Remove(path)
		}
	}()

	csvData, csvSum, err := PositionsCSV(snapshot)
	if err != nil {
		return nil, err
	}
	csvPath := filepath.Join(runDir, stem+".csv")
	written = append(written, csvPath)
	if err := os.WriteFile(csvPath, csvData, 0o644); err != nil {
		return nil, fmt.Errorf("exports: write csv: %w", err)
	}

	parquetPath := filepath.Join(runDir, stem+".parquet")
	written = append(written, parquetPath)
	if err := WritePositionsParquet(parquetPath, snapshot); err != nil {
		return nil, err
	}
	parquetData, err := os.ReadFile(parquetPath)
	if err != nil {
		return nil, fmt.Errorf("exports: read parquet: %w", err)
	}

	root, err := PositionsRoot(snapshot)
	if err != nil {
		return nil, err
	}

	fees := snapshot.Fees.Clone()
	manifest := &Manifest{
		TakenAt:         snapshot.TakenAt,
		Positions:       len(snapshot.Positions),
		FeesSkimmed:     fees.Skimmed.String(),
		FeesPending:     fees.Pending.String(),
		LastSweep:       snapshot.Sweep.LastUpdate,
		PositionsRoot:   root.Hex(),
		CSVPath:         csvPath,
		CSVChecksum:     csvSum,
		ParquetPath:     parquetPath,
		ParquetChecksum: Checksum(parquetData),
		ManifestPath:    filepath.Join(runDir, stem+".manifest.json"),
	}
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	written = append(written, manifest.ManifestPath)
	if err := os.WriteFile(manifest.ManifestPath, encoded, 0o644); err != nil {
		return nil, fmt.Errorf("exports: write manifest: %w", err)
	}
	return manifest, nil
}
