package health

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// FileSource is a state file maintained by an external agent. Each line has
// the form "<key> = UP|DOWN"; blank lines and lines starting with '#' are
// ignored. The file is re-read only when its modification time changes, so
// many FileCheckers can share one source cheaply.
type FileSource struct {
	Path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	states  map[string]bool
	err     error
}

// NewFileSource creates a source for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Lookup returns the state recorded for key.
func (f *FileSource) Lookup(key string) (healthy, found bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.refresh(); err != nil {
		return false, false, err
	}
	healthy, found = f.states[key]
	return healthy, found, nil
}

func (f *FileSource) refresh() error {
	fi, err := os.Stat(f.Path)
	if err != nil {
		f.states, f.err = nil, err
		return err
	}
	if f.states != nil && fi.ModTime().Equal(f.modTime) && fi.Size() == f.size {
		return f.err
	}

	states, err := readStateFile(f.Path)
	f.modTime, f.size = fi.ModTime(), fi.Size()
	f.states, f.err = states, err
	return err
}

func readStateFile(path string) (map[string]bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	states := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected \"key = UP|DOWN\"", path, lineNo)
		}
		key = strings.TrimSpace(key)
		switch strings.ToUpper(strings.TrimSpace(value)) {
		case "UP":
			states[key] = true
		case "DOWN":
			states[key] = false
		default:
			return nil, fmt.Errorf("%s:%d: invalid state %q", path, lineNo, strings.TrimSpace(value))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return states, nil
}

// FileChecker reports the state a FileSource holds for one key.
type FileChecker struct {
	Source *FileSource
	Key    string

	// MissingHealthy is the state used when the key is absent
	MissingHealthy bool
}

// NewFileChecker creates a checker for key in source.
func NewFileChecker(source *FileSource, key string) *FileChecker {
	return &FileChecker{Source: source, Key: key}
}

// Check looks the key up in the state file
func (c *FileChecker) Check(ctx context.Context) Result {
	start := time.Now()

	healthy, found, err := c.Source.Lookup(c.Key)
	if err != nil {
		return failed(start, "state file: %v", err)
	}
	if !found {
		healthy = c.MissingHealthy
	}

	return Result{
		Healthy:   healthy,
		Message:   fmt.Sprintf("%s = %t (found=%t)", c.Key, healthy, found),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (c *FileChecker) Type() CheckType {
	return CheckTypeFile
}

// StaticChecker always returns the same result. It backs the "static"
// monitor plugin and is handy in tests.
type StaticChecker struct {
	Healthy bool
}

// Check returns the fixed result
func (s StaticChecker) Check(ctx context.Context) Result {
	return Result{
		Healthy:   s.Healthy,
		Message:   fmt.Sprintf("static %t", s.Healthy),
		CheckedAt: time.Now(),
	}
}

// Type returns the health check type
func (s StaticChecker) Type() CheckType {
	return CheckTypeStatic
}
