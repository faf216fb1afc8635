package exports

import (
	"bufio"
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"autorepay/native/autorepay"
	"autorepay/storage/trie"

	"github.com/ethereum/go-ethereum/common"
)

func sampleSnapshot() *autorepay.Snapshot {
	return &autorepay.Snapshot{
		Positions: []autorepay.AccountPosition{
			{
				Account:  common.HexToAddress("0x00000000000000000000000000000000000000a1"),
				Slot:     0,
				Position: &autorepay.Position{Collateral: big.NewInt(100), Borrowed: big.NewInt(7), LastUpdated: 1700},
			},
			{
				Account:  common.HexToAddress("0x00000000000000000000000000000000000000b2"),
				Slot:     1,
				Position: nil,
			},
		},
		Fees:    autorepay.FeeTotals{Skimmed: big.NewInt(3), Pending: big.NewInt(1)},
		Sweep:   autorepay.SweepState{LastUpdate: 1600},
		TakenAt: 1800,
	}
}

func TestPositionsCSV(t *testing.T) {
	data, checksum, err := PositionsCSV(sampleSnapshot())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(checksum) != 64 {
		t.Fatalf("unexpected checksum %q", checksum)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %d", len(lines))
	}
	if lines[0] != "slot,account,collateral,borrowed,last_updated,taken_at" {
		t.Fatalf("missing header: %s", lines[0])
	}
	if !strings.HasSuffix(lines[1], ",100,7,1700,1800") {
		t.Fatalf("unexpected row: %s", lines[1])
	}
	if !strings.HasSuffix(lines[2], ",0,0,0,1800") {
		t.Fatalf("nil position must export as zero: %s", lines[2])
	}
	again, sum2, _ := PositionsCSV(sampleSnapshot())
	if !bytes.Equal(data, again) || checksum != sum2 {
		t.Fatalf("export is not deterministic")
	}
}

func TestPositionsJSONL(t *testing.T) {
	data, checksum, err := PositionsJSONL(sampleSnapshot())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if checksum != Checksum(data) {
		t.Fatalf("checksum mismatch")
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var rows []jsonPosition
	for scanner.Scan() {
		var row jsonPosition
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("decode: %v", err)
		}
		rows = append(rows, row)
	}
	if len(rows) != 2 || rows[0].Collateral != "100" || rows[1].Slot != 1 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestWriteSnapshot(t *testing.T) {
	dir := t.TempDir()
	manifest, err := WriteSnapshot(dir, sampleSnapshot())
	if err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if manifest.Positions != 2 || manifest.FeesPending != "1" || manifest.LastSweep != 1600 {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
	for _, path := range []string{manifest.CSVPath, manifest.ParquetPath, manifest.ManifestPath} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", path)
		}
	}
	parquetData, err := os.ReadFile(manifest.ParquetPath)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if Checksum(parquetData) != manifest.ParquetChecksum {
		t.Fatalf("parquet checksum mismatch")
	}
	if !bytes.HasPrefix(parquetData, []byte("PAR1")) {
		t.Fatalf("parquet magic missing")
	}
}

func TestWriteSnapshotRemovesPartialFilesOnFailure(t *testing.T) {
	dir := t.TempDir()
	runDir := filepath.Join(dir, "1970-01-01")
	stem := "positions-19700101T003000Z"
	// A directory where the parquet file belongs makes that step fail.
	if err := os.MkdirAll(filepath.Join(runDir, stem+".parquet"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := WriteSnapshot(dir, sampleSnapshot()); err == nil {
		t.Fatalf("expected parquet failure")
	}
	for _, name := range []string{stem + ".csv", stem + ".manifest.json"} {
		if _, err := os.Stat(filepath.Join(runDir, name)); !os.IsNotExist(err) {
			t.Fatalf("%s should not exist after a failed export: %v", name, err)
		}
	}
}

func TestWriteSnapshotRejectsNil(t *testing.T) {
	if _, err := WriteSnapshot(t.TempDir(), nil); err == nil {
		t.Fatalf("expected error for nil snapshot")
	}
}

func TestPositionsRoot(t *testing.T) {
	snapshot := sampleSnapshot()
	root, err := PositionsRoot(snapshot)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if root == trie.EmptyRoot {
		t.Fatalf("expected non-empty root")
	}

	reordered := sampleSnapshot()
	reordered.Positions[0], reordered.Positions[1] = reordered.Positions[1], reordered.Positions[0]
	again, err := PositionsRoot(reordered)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if again != root {
		t.Fatalf("root must not depend on listing order")
	}

	changed := sampleSnapshot()
	changed.Positions[0].Position.Borrowed = big.NewInt(6)
	moved, err := PositionsRoot(changed)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if moved == root {
		t.Fatalf("root must change when a balance changes")
	}

	empty, err := PositionsRoot(&autorepay.Snapshot{})
	if err != nil || empty != trie.EmptyRoot {
		t.Fatalf("unexpected empty root %s %v", empty.Hex(), err)
	}

	manifest, err := WriteSnapshot(t.TempDir(), snapshot)
	if err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if manifest.PositionsRoot != root.Hex() {
		t.Fatalf("manifest root %s, want %s", manifest.PositionsRoot, root.Hex())
	}
}
