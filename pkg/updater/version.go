package updater

import (
	"encoding/json"
	"os"

	"github.com/moby/sys/atomicwriter"
	"github.com/pkg/errors"
)

// VersionFile names both the remote manifest (relative to the repository
// base) and the local record (relative to the install root).
const VersionFile = "version.json"

// Manifest is the remote repository's release description.
type Manifest struct {
	Version uint32 `json:"version"`
}

// VersionRecord is the locally installed release. Its version never
// decreases over the device's install history.
type VersionRecord struct {
	Version uint32 `json:"version"`
}

func decodeManifest(raw []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, errors.Wrap(err, "unable to decode manifest")
	}
	return m, nil
}

var errCorruptRecord = errors.New("version record is corrupt")

// readRecord reads the record at path. A missing record is version 0.
func readRecord(path string) (VersionRecord, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return VersionRecord{}, nil
	}
	if err != nil {
		return VersionRecord{}, errors.Wrap(err, "unable to read version record")
	}
	var r VersionRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return VersionRecord{}, errors.Wrap(errCorruptRecord, err.Error())
	}
	return r, nil
}

// writeRecord replaces the record at path atomically.
func writeRecord(path string, r VersionRecord) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return errors.Wrap(atomicwriter.WriteFile(path, raw, 0644), "unable to write version record")
}
