package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := &Data{PeerID: "deadbeef", Nickname: "bee", MulticastPort: 27500}

	if err := Save(dir, d); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *got != *d {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, d)
	}
}

func TestLoadMissingFileIsNotExist(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	if !os.IsNotExist(err) {
		t.Fatalf("expected os.IsNotExist, got %v", err)
	}
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, &Data{PeerID: "aa"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, fileName+tempSuffix)); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be gone after rename, stat err=%v", err)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, &Data{PeerID: "first"}); err != nil {
		t.Fatalf("Save 1: %v", err)
	}
	if err := Save(dir, &Data{PeerID: "second"}); err != nil {
		t.Fatalf("Save 2: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.PeerID != "second" {
		t.Fatalf("expected overwritten value, got %q", got.PeerID)
	}
}
