// Package snapshot loads entity, asset and transaction records from the CSV
// files in a project's data directory.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cleared-dev/farmtax/internal/engine"
)

// Record files inside the data directory.
const (
	EntitiesFile     = "entities.csv"
	AssetsFile       = "assets.csv"
	TransactionsFile = "transactions.csv"
)

// Load reads all three record files from dir. A missing file yields no
// records of that kind.
func Load(dir string) (engine.Snapshot, error) {
	var snap engine.Snapshot
	var err error

	if snap.Entities, err = readFile(dir, EntitiesFile, ReadEntities); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Assets, err = readFile(dir, AssetsFile, ReadAssets); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Transactions, err = readFile(dir, TransactionsFile, ReadTransactions); err != nil {
		return engine.Snapshot{}, err
	}
	return snap, nil
}

// Save writes all three record files to dir, replacing existing ones.
func Save(dir string, snap engine.Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	if err := writeFile(dir, EntitiesFile, func(w io.Writer) error { return WriteEntities(w, snap.Entities) }); err != nil {
		return err
	}
	if err := writeFile(dir, AssetsFile, func(w io.Writer) error { return WriteAssets(w, snap.Assets) }); err != nil {
		return err
	}
	return writeFile(dir, TransactionsFile, func(w io.Writer) error { return WriteTransactions(w, snap.Transactions) })
}

// Scaffold creates dir and writes header-only record files for any that do
// not exist yet.
func Scaffold(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	headers := map[string]string{
		EntitiesFile:     EntityHeader,
		AssetsFile:       AssetHeader,
		TransactionsFile: TransactionHeader,
	}
	for name, header := range headers {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(header+"\n"), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

func readFile[T any](dir, name string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	records, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return records, nil
}

func writeFile(dir, name string, write func(io.Writer) error) error {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	return nil
}
