// Package migrate versions the on-disk store and upgrades it through an
// ordered migration list. The schema version lives in a JSON file beside
// the store; pending migrations run on daemon start and through the
// migrate command.
package migrate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const versionFile = "schema_version.json"

// versionRecord is the on-disk shape of schema_version.json.
type versionRecord struct {
	Version   int    `json:"version"`
	UpdatedAt string `json:"updated_at"`
}

// VersionPath returns the location of the schema version file under
// dataDir.
func VersionPath(dataDir string) string {
	return filepath.Join(dataDir, versionFile)
}

// ReadVersion reports the schema version recorded under dataDir. A
// missing or unreadable version file reads as 0, the unversioned state,
// which schedules every migration.
func ReadVersion(dataDir string) int {
	data, err := os.ReadFile(VersionPath(dataDir))
	if err != nil {
		return 0
	}
	var rec versionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0
	}
	return rec.Version
}

// WriteVersion stamps dataDir with version. The write is atomic: temp
// file in the same directory, then rename, so a crash mid-write leaves
// the previous version intact.
func WriteVersion(dataDir string, version int) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	rec := versionRecord{
		Version:   version,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	path := VersionPath(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
