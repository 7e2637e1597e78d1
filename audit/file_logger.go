package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var _ Logger = (*FileLogger)(nil)

// FileLogger appends events as JSON lines and rotates the file by size.
// Rotated files are named audit.log.1 (newest) to audit.log.N (oldest).
type FileLogger struct {
	namespace  string
	file       *os.File
	size       int64
	mu         sync.RWMutex
	config     *Config
	eventCache []Event // Recent events cache for faster queries
	cacheSize  int
	fileOpts   FileOptions
}

type FileOptions struct {
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size,omitempty"`    // Max size in MB
	MaxBackups int    `json:"max_backups,omitempty"` // Max backup files
	MaxAge     int    `json:"max_age,omitempty"`     // Max age in days

	// maxBytes overrides MaxSize; only set by tests
	maxBytes int64
}

// NewFileLogger creates a new file-based audit logger
func NewFileLogger(config *Config) (*FileLogger, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	var fileOpts FileOptions
	if err := parseOptions(config.Options, &fileOpts); err != nil {
		return nil, fmt.Errorf("invalid file logger options: %w", err)
	}

	if fileOpts.FilePath == "" {
		return nil, fmt.Errorf("file_path is required for file logger")
	}

	// Set defaults
	if fileOpts.MaxSize == 0 {
		fileOpts.MaxSize = 100 // 100MB default
	}
	if fileOpts.MaxBackups == 0 {
		fileOpts.MaxBackups = 5
	}
	if fileOpts.MaxAge == 0 {
		fileOpts.MaxAge = 30 // 30 days
	}

	if err := os.MkdirAll(filepath.Dir(fileOpts.FilePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	logger := &FileLogger{
		namespace:  config.Namespace,
		config:     config,
		fileOpts:   fileOpts,
		eventCache: make([]Event, 0),
		cacheSize:  1000,
	}

	if err := logger.ensureFileOpen(); err != nil {
		return nil, err
	}

	return logger, nil
}

// Log implements the Logger interface
func (fl *FileLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	return fl.writeEvent(newEvent(fl.namespace, action, success, metadata))
}

// writeEvent writes an event to the log file in JSONL format and updates cache
func (fl *FileLogger) writeEvent(event Event) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	// the file may have been closed by a previous vault sharing this logger
	if err := fl.ensureFileOpen(); err != nil {
		return err
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}
	line := append(eventJSON, '\n')

	if fl.size > 0 && fl.size+int64(len(line)) > fl.maxBytes() {
		if err = fl.rotate(); err != nil {
			return fmt.Errorf("failed to rotate audit log: %w", err)
		}
	}

	n, err := fl.file.Write(line)
	fl.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	if err = fl.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	fl.updateCache(event)

	return nil
}

func (fl *FileLogger) maxBytes() int64 {
	if fl.fileOpts.maxBytes > 0 {
		return fl.fileOpts.maxBytes
	}
	return int64(fl.fileOpts.MaxSize) * 1024 * 1024
}

// rotate shifts audit.log.N to audit.log.N+1, moves the live file to
// audit.log.1 and drops backups beyond MaxBackups or older than MaxAge.
// The caller holds the write lock.
func (fl *FileLogger) rotate() error {
	path := fl.fileOpts.FilePath

	if err := fl.file.Close(); err != nil {
		return err
	}
	fl.file = nil
	fl.size = 0

	oldest := fmt.Sprintf("%s.%d", path, fl.fileOpts.MaxBackups)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return err
	}

	for i := fl.fileOpts.MaxBackups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", path, i)
		to := fmt.Sprintf("%s.%d", path, i+1)
		if err := os.Rename(from, to); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	if err := os.Rename(path, path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}

	fl.removeExpiredBackups()

	return fl.ensureFileOpen()
}

func (fl *FileLogger) removeExpiredBackups() {
	cutoff := time.Now().Add(-time.Duration(fl.fileOpts.MaxAge) * 24 * time.Hour)
	for _, backup := range fl.backupFiles() {
		info, err := os.Stat(backup)
		if err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(backup)
		}
	}
}

// updateCache adds event to cache and maintains size limit
func (fl *FileLogger) updateCache(event Event) {
	fl.eventCache = append(fl.eventCache, event)

	if len(fl.eventCache) > fl.cacheSize {
		fl.eventCache = fl.eventCache[len(fl.eventCache)-fl.cacheSize:]
	}
}

// Query implements the Logger interface
func (fl *FileLogger) Query(options QueryOptions) (QueryResult, error) {
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	if fl.canUseCacheForQuery(options) {
		return fl.queryFromCache(options), nil
	}

	return fl.queryFromFile(options)
}

// canUseCacheForQuery determines if the cache can satisfy the query
func (fl *FileLogger) canUseCacheForQuery(options QueryOptions) bool {
	if len(fl.eventCache) == 0 {
		return false
	}

	// without a lower bound the cache might not hold everything
	if options.Since == nil {
		return false
	}

	oldestCached := fl.eventCache[0].Timestamp
	return !options.Since.Before(oldestCached)
}

// queryFromCache queries events from the in-memory cache
func (fl *FileLogger) queryFromCache(options QueryOptions) QueryResult {
	var filtered []Event

	for _, event := range fl.eventCache {
		if matchesFilter(event, options) {
			filtered = append(filtered, event)
		}
	}

	return paginate(filtered, len(fl.eventCache), options)
}

// queryFromFile queries events from the live file and its rotated backups
func (fl *FileLogger) queryFromFile(options QueryOptions) (QueryResult, error) {
	files := append([]string{fl.fileOpts.FilePath}, fl.backupFiles()...)

	var allEvents []Event
	totalCount := 0

	for _, filePath := range files {
		events, count, err := readEventsFromFile(filePath, options)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return QueryResult{}, fmt.Errorf("failed to read events from %s: %w", filePath, err)
		}
		allEvents = append(allEvents, events...)
		totalCount += count
	}

	return paginate(allEvents, totalCount, options), nil
}

// paginate sorts newest first and applies offset and limit
func paginate(events []Event, totalCount int, options QueryOptions) QueryResult {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})

	start := options.Offset
	if start > len(events) {
		start = len(events)
	}

	end := len(events)
	if options.Limit > 0 && start+options.Limit < end {
		end = start + options.Limit
	}

	return QueryResult{
		Events:     events[start:end],
		TotalCount: totalCount,
		Filtered:   len(events),
		HasMore:    end < len(events),
	}
}

// backupFiles returns the rotated files ordered newest first
func (fl *FileLogger) backupFiles() []string {
	matches, err := filepath.Glob(fl.fileOpts.FilePath + ".*")
	if err != nil {
		return nil
	}

	type backup struct {
		path  string
		index int
	}
	var backups []backup
	for _, match := range matches {
		index, err := strconv.Atoi(strings.TrimPrefix(match, fl.fileOpts.FilePath+"."))
		if err != nil {
			continue
		}
		backups = append(backups, backup{path: match, index: index})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].index < backups[j].index })

	files := make([]string, 0, len(backups))
	for _, b := range backups {
		files = append(files, b.path)
	}
	return files
}

// readEventsFromFile reads and filters events from a specific file
func readEventsFromFile(filePath string, options QueryOptions) ([]Event, int, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	var events []Event
	totalCount := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		totalCount++

		var event Event
		if err = json.Unmarshal([]byte(line), &event); err != nil {
			// skip torn or foreign lines
			continue
		}

		if matchesFilter(event, options) {
			events = append(events, event)
		}
	}

	if err = scanner.Err(); err != nil {
		return events, totalCount, fmt.Errorf("error reading audit log file: %w", err)
	}

	return events, totalCount, nil
}

// matchesFilter checks if an event matches the query filters
func matchesFilter(event Event, options QueryOptions) bool {
	if options.Namespace != "" && event.Namespace != options.Namespace {
		return false
	}

	if options.Since != nil && event.Timestamp.Before(*options.Since) {
		return false
	}
	if options.Until != nil && event.Timestamp.After(*options.Until) {
		return false
	}

	if options.Action != "" && event.Action != options.Action {
		return false
	}

	if options.Success != nil && event.Success != *options.Success {
		return false
	}

	if options.StorageKey != "" && event.StorageKey != options.StorageKey {
		return false
	}

	if options.SecurityRelevant && !isSecurityCriticalAction(event.Action) {
		return false
	}

	return true
}

// Close implements the Logger interface
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file != nil {
		err := fl.file.Close()
		fl.file = nil
		return err
	}
	return nil
}

func (fl *FileLogger) ensureFileOpen() error {
	if fl.file != nil {
		return nil
	}

	file, err := os.OpenFile(fl.fileOpts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}

	fl.file = file
	fl.size = info.Size()
	return nil
}
