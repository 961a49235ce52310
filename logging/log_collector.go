package logging

import (
	"slices"
	"sync"
	"time"
)

// DefaultMaxEntries is the per-device history kept by a LogCollector.
const DefaultMaxEntries = 500

// LogEntry represents a single log record with structured data.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes"`
}

// LogCollector keeps the most recent log entries of every device. It is
// safe for concurrent use; async devices log from their own goroutines.
type LogCollector struct {
	mu         sync.RWMutex
	maxEntries int
	logs       map[string][]LogEntry // device -> entries, oldest first
}

// NewLogCollector creates a LogCollector that keeps up to maxEntries per
// device. A non-positive value selects DefaultMaxEntries.
func NewLogCollector(maxEntries int) *LogCollector {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &LogCollector{
		maxEntries: maxEntries,
		logs:       make(map[string][]LogEntry),
	}
}

// AddLog records entry for device, dropping the oldest entry once the
// device is at capacity.
func (c *LogCollector) AddLog(device string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := append(c.logs[device], entry)
	if over := len(entries) - c.maxEntries; over > 0 {
		entries = slices.Delete(entries, 0, over)
	}
	c.logs[device] = entries
}

// GetLogs returns a copy of the entries recorded for device.
func (c *LogCollector) GetLogs(device string) []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	logs, exists := c.logs[device]
	if !exists {
		return nil
	}
	return slices.Clone(logs)
}

// Devices returns the sorted names of devices that have logged anything.
func (c *LogCollector) Devices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.logs))
	for name := range c.logs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetAllLogs returns a copy of every device's entries.
func (c *LogCollector) GetAllLogs() map[string][]LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string][]LogEntry, len(c.logs))
	for device, logs := range c.logs {
		result[device] = slices.Clone(logs)
	}
	return result
}

// Forget drops the entries of one device.
func (c *LogCollector) Forget(device string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.logs, device)
}

// Clear removes all stored logs.
func (c *LogCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = make(map[string][]LogEntry)
}
