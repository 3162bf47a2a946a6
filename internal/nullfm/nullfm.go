// Package nullfm is a File Manager collaborator with nothing shared: it
// answers every catalog/query request as "nothing here" rather than
// touching a filesystem. Filesystem scanning, hash-tree construction, and
// chunk storage are explicitly out of scope (§1 of SPEC_FULL.md); this
// stands in for a real collaborator so cmd/lanbeacond can start a node that
// discovers peers without also being a File Manager. OpenWriter always
// fails with ErrIOError, so a download through it cannot write any chunk.
package nullfm

import (
	"github.com/WebFirstLanguage/lanbeacon/pkg/filemanager"
)

// Collaborator implements filemanager.Collaborator with no local shares.
type Collaborator struct{}

func (Collaborator) GetChunkHandle(hash string) (string, bool) { return "", false }

func (Collaborator) OpenReader(handle string, offset uint64) (filemanager.ChunkReader, error) {
	return nil, filemanager.ErrUnableToOpen
}

func (Collaborator) OpenWriter(fileKey string, absoluteOffset uint64) (filemanager.ChunkWriter, error) {
	return nil, filemanager.ErrIOError
}

func (Collaborator) Query(pattern string) ([]filemanager.Entry, error) { return nil, nil }

func (Collaborator) GetEntries(sharedRoot, path string) ([]filemanager.Entry, error) {
	return nil, nil
}

func (Collaborator) OnChunkComplete(hash string) {}
