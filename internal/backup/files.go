package backup

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/wgui/wgui/internal/database"
)

const (
	filenamePrefix = "wgui-backup-"
	filenameSuffix = ".json"
	// filenameTimeLayout produces filenames whose lexicographic order equals
	// chronological order.
	filenameTimeLayout = "20060102-150405"
)

// A FileManager persists store snapshots to disk and enforces file retention.
type FileManager struct {
	db  database.Client
	log logrus.FieldLogger

	// Now names the files. Tests override it.
	Now func() time.Time
}

// NewFileManager returns a FileManager exporting from db.
func NewFileManager(db database.Client, log logrus.FieldLogger) *FileManager {
	return &FileManager{
		db:  db,
		log: log,
		Now: time.Now,
	}
}

// Write exports the current full state and writes it to a timestamped file
// in directory, creating the directory if needed. It returns the file path.
// Write failures propagate to the caller.
func (f *FileManager) Write(directory string) (string, error) {
	payload, err := Export(f.db)
	if err != nil {
		return "", err
	}
	data, err := Marshal(payload)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", errors.Wrap(err, "could not create backup directory")
	}

	name := filenamePrefix + f.Now().UTC().Format(filenameTimeLayout) + filenameSuffix
	path := filepath.Join(directory, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.Wrap(err, "could not write backup file")
	}
	return path, nil
}

// Prune deletes every backup file in directory beyond the keep newest, by
// filename. Files that do not match the backup filename pattern are never
// touched. Per-file deletion failures are logged and skipped; one stuck file
// must not abort pruning the rest. It returns the deleted paths.
func (f *FileManager) Prune(directory string, keep int) []string {
	names, err := f.backupFilenames(directory)
	if err != nil {
		f.log.WithError(err).Warn("could not list backup files")
		return nil
	}
	if keep < 0 {
		keep = 0
	}

	// Newest first: the timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	var deleted []string
	for _, name := range names[min(keep, len(names)):] {
		path := filepath.Join(directory, name)
		if err := os.Remove(path); err != nil {
			f.log.WithError(err).WithField("path", path).Warn("could not prune backup file")
			continue
		}
		deleted = append(deleted, path)
	}
	return deleted
}

// Latest returns the newest backup file in directory and its modification
// time. Recency is judged by mtime, not filename, to tolerate clock skew in
// the names. An empty or missing directory yields zero values, not an error.
func (f *FileManager) Latest(directory string) (string, time.Time) {
	names, err := f.backupFilenames(directory)
	if err != nil || len(names) == 0 {
		return "", time.Time{}
	}

	var latest string
	var mtime time.Time
	for _, name := range names {
		path := filepath.Join(directory, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(mtime) {
			latest = path
			mtime = info.ModTime()
		}
	}
	return latest, mtime
}

func (f *FileManager) backupFilenames(directory string) ([]string, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "could not read backup directory")
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filenamePrefix) || !strings.HasSuffix(name, filenameSuffix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
