package core

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
	"time"
)

// BackendStatus is the reachability of one backing store.
type BackendStatus struct {
	OK             bool   `json:"ok"`
	ActiveSessions *int64 `json:"active_sessions,omitempty"`
}

// SystemStatus aggregates backend health for readiness probes and the status page.
type SystemStatus struct {
	Ready        bool          `json:"ready"`
	SessionStore BackendStatus `json:"session_store"`
	UserStore    BackendStatus `json:"user_store"`
	Memory       struct {
		UsedBytes  uint64 `json:"used_bytes"`
		TotalBytes uint64 `json:"total_bytes"`
	} `json:"memory"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

type sessionCounter interface {
	Count(ctx context.Context, prefix string) (int64, error)
}

// StatusCollector probes the session and user stores.
type StatusCollector struct {
	sessions  SessionStore
	users     UserRepository
	prefix    string
	timeout   time.Duration
	startedAt time.Time
}

func NewStatusCollector(sessions SessionStore, users UserRepository, prefix string, timeout time.Duration) *StatusCollector {
	return &StatusCollector{
		sessions:  sessions,
		users:     users,
		prefix:    prefix,
		timeout:   timeout,
		startedAt: time.Now(),
	}
}

// Collect pings both stores. withCounts adds the live session count when the
// session store supports it (best-effort).
func (s *StatusCollector) Collect(ctx context.Context, withCounts bool) SystemStatus {
	var st SystemStatus

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.sessions != nil {
		st.SessionStore.OK = s.sessions.Ping(ctx) == nil
		if counter, ok := s.sessions.(sessionCounter); ok && withCounts && st.SessionStore.OK {
			if n, err := counter.Count(ctx, s.prefix); err == nil {
				st.SessionStore.ActiveSessions = &n
			}
		}
	}
	if s.users != nil {
		st.UserStore.OK = s.users.Ping(ctx) == nil
	}
	st.Ready = st.SessionStore.OK && st.UserStore.OK

	// Memory (best-effort from /proc/meminfo)
	used, total := readMemInfo()
	st.Memory.UsedBytes = used
	st.Memory.TotalBytes = total

	st.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	return st
}

// readMemInfo returns used and total bytes using /proc/meminfo.
// If unavailable, returns zeros.
func readMemInfo() (used, total uint64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	var memTotal, memAvailable uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "MemTotal:") {
			memTotal = parseKiBLine(line)
		} else if strings.HasPrefix(line, "MemAvailable:") {
			memAvailable = parseKiBLine(line)
		}
	}
	if memTotal > 0 {
		total = memTotal
		if memAvailable <= memTotal {
			used = memTotal - memAvailable
		}
		// convert KiB -> bytes
		used *= 1024
		total *= 1024
	}
	return used, total
}

func parseKiBLine(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
