// Package results implements the persistent columnar time-series store the
// simulation writes into: one store per run, holding a time index and one
// fixed-size float64 column per variable, append-only along the time
// dimension. A store can be created fresh or extended with further rows by
// a resumed run.
//
// On disk a store is a directory <prefix>.crd containing meta.json, a
// time.bin index and one <variable>.bin file per column, all little-endian
// float64 rows.
package results

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

const storeSuffix = ".crd"

// StoreDir returns the on-disk directory of the store for the given
// output directory and filename prefix.
func StoreDir(dir, prefix string) string {
	return filepath.Join(dir, prefix+storeSuffix)
}

// Exists reports whether a store has previously been created at the
// target location.
func Exists(dir, prefix string) bool {
	_, err := os.Stat(filepath.Join(StoreDir(dir, prefix), "meta.json"))
	return err == nil
}

type variableMeta struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Units string `json:"units"`
}

type unlimitedMeta struct {
	Name     string `json:"name"`
	Units    string `json:"units"`
	Estimate int    `json:"estimated_steps"`
}

type metadata struct {
	FixedDimension int            `json:"fixed_dimension"`
	NodeSubset     []int          `json:"node_subset,omitempty"`
	Variables      []variableMeta `json:"variables"`
	Unlimited      unlimitedMeta  `json:"unlimited"`
	Permuted       bool           `json:"permuted,omitempty"`
}

func readMetadata(storeDir string) (*metadata, error) {
	data, err := os.ReadFile(filepath.Join(storeDir, "meta.json"))
	if err != nil {
		return nil, fmt.Errorf("results: read metadata: %w", err)
	}
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("results: parse metadata: %w", err)
	}
	return &meta, nil
}

func writeMetadata(storeDir string, meta *metadata) error {
	f, err := os.Create(filepath.Join(storeDir, "meta.json"))
	if err != nil {
		return fmt.Errorf("results: write metadata: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("results: encode metadata: %w", err)
	}
	return nil
}

func variableFile(storeDir, name string) string {
	return filepath.Join(storeDir, name+".bin")
}

func timeFile(storeDir string) string {
	return filepath.Join(storeDir, "time.bin")
}

func putFloat(b []byte, v float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}

func readFloats(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("results: %s is truncated mid-value", path)
	}
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out, nil
}
