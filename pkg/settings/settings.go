// Package settings persists process-wide state — the generated PeerID,
// nickname, and config overrides — to a single file under the state
// directory, encoded as canonical CBOR. The write-temp-then-rename shape
// follows PersistantData::setValue, re-expressed the way identity.go's
// SaveToFile/LoadFromFile do file persistence in Go, generalized from a
// single JSON-encoded identity blob to an arbitrary CBOR-encoded settings
// struct.
//
// Unlike PersistantData::setValue, no remove-before-rename step is taken:
// on POSIX, os.Rename atomically replaces an existing destination, so the
// data-loss window that implementation's own comment warns about does not
// exist here (§9, §12 of SPEC_FULL.md).
package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/WebFirstLanguage/lanbeacon/pkg/codec/cborcanon"
)

// Data is the persisted state (§6's "persisted settings").
type Data struct {
	PeerID         string `cbor:"peer_id"`
	Nickname       string `cbor:"nickname"`
	MulticastGroup string `cbor:"multicast_group,omitempty"`
	MulticastPort  int    `cbor:"multicast_port,omitempty"`
	UnicastPort    int    `cbor:"unicast_port,omitempty"`
	ChunkSize      int    `cbor:"chunk_size,omitempty"`
}

const fileName = "lanbeacon.settings"
const tempSuffix = ".tmp"

// Load reads the settings file from dir. A missing file is reported as a
// plain *os.PathError via errors.Is(err, os.ErrNotExist); callers use that
// to distinguish first-run from corruption.
func Load(dir string) (*Data, error) {
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		return nil, err
	}
	var d Data
	if err := cborcanon.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("settings: decode %s: %w", fileName, err)
	}
	return &d, nil
}

// Save writes d to dir via write-temp-then-rename, so a crash mid-write
// never leaves a truncated settings file in place.
func Save(dir string, d *Data) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("settings: create state dir: %w", err)
	}

	data, err := cborcanon.Marshal(d)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}

	target := filepath.Join(dir, fileName)
	tmp := target + tempSuffix
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("settings: write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("settings: rename into place: %w", err)
	}
	return nil
}
