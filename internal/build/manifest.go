package build

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// ManifestFile is the name of the manifest in the output directory.
const ManifestFile = "manifest.cbor"

// Manifest records what was assembled for each engine.
type Manifest struct {
	Programs map[uint8]Entry `cbor:"1,keyasint"`
}

// Entry identifies the inputs of one assembled program.
type Entry struct {
	_ struct{} `cbor:",toarray"`
	// Source is the SHA-256 of the program source.
	Source    [sha256.Size]byte
	Assembler string
	Output    string
}

var encMode, decMode = mustModes()

func mustModes() (cbor.EncMode, cbor.DecMode) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return em, dm
}

// LoadManifest reads the manifest of dir. A missing manifest is empty.
func LoadManifest(dir string) (*Manifest, error) {
	return loadManifest(dir)
}

func loadManifest(dir string) (*Manifest, error) {
	m := &Manifest{Programs: map[uint8]Entry{}}
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := decMode.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("build: %s: %w", ManifestFile, err)
	}
	if m.Programs == nil {
		m.Programs = map[uint8]Entry{}
	}
	return m, nil
}

func (m *Manifest) save(dir string) error {
	data, err := encMode.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644)
}
