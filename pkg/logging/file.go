package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultMaxFileSize caps the append-only log file. Once the file reaches
// this size further entries are only written to the console.
const DefaultMaxFileSize = 200000

const fileTimeLayout = "2006-01-02 15:04:05"

// FileSink is a logrus hook that appends every entry as a single line to a
// log file on durable storage. Writing stops once the file reaches its size
// cap; the file is never truncated or rotated.
type FileSink struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	levels  []logrus.Level
}

// NewFileSink prepares the sink, creating the log file (and its directory)
// when missing.
func NewFileSink(path string, maxSize int64) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("log file path must be provided")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrap(err, "unable to create log directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create log file")
	}
	f.Close()
	return &FileSink{
		path:    path,
		maxSize: maxSize,
		levels:  logrus.AllLevels,
	}, nil
}

// Levels returns the log levels this hook is being applied to.
func (s *FileSink) Levels() []logrus.Level {
	return s.levels
}

// Fire appends the entry when the file is still under its cap. Each line
// carries the timestamp and the file size at the time of writing.
func (s *FileSink) Fire(entry *logrus.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	size := stat.Size()
	if size >= s.maxSize {
		return nil
	}

	line := fmt.Sprintf("%s %d %s %s", entry.Time.Format(fileTimeLayout), size,
		entry.Level.String(), entry.Message)
	for _, k := range sortedKeys(entry.Data) {
		line += fmt.Sprintf(" %s=%v", k, entry.Data[k])
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func sortedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
