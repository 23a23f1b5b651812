// Package stats implements NodeStats (spec §6): per-channel byte
// counters for bytes sent and received, the small observability surface
// the rest of the daemon reports through.
package stats

import "sync"

// Counters holds the bytes sent/received tally for one channel.
type Counters struct {
	BytesSent     int64
	BytesReceived int64
}

// NodeStats accumulates per-channel byte counters. Safe for concurrent
// use; every report is a single counter add under a short-held lock.
type NodeStats struct {
	mu       sync.Mutex
	channels map[string]*Counters
}

// New returns an empty NodeStats.
func New() *NodeStats {
	return &NodeStats{channels: make(map[string]*Counters)}
}

// ReportBytesSent adds n to channelName's sent counter.
func (s *NodeStats) ReportBytesSent(channelName string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters(channelName).BytesSent += n
}

// ReportBytesReceived adds n to channelName's received counter.
func (s *NodeStats) ReportBytesReceived(channelName string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters(channelName).BytesReceived += n
}

// Snapshot returns a copy of channelName's counters (zero value if
// nothing has been reported for it yet).
func (s *NodeStats) Snapshot(channelName string) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.channels[channelName]; ok {
		return *c
	}
	return Counters{}
}

// counters returns (creating if needed) channelName's counters. Caller
// must hold mu.
func (s *NodeStats) counters(channelName string) *Counters {
	c, ok := s.channels[channelName]
	if !ok {
		c = &Counters{}
		s.channels[channelName] = c
	}
	return c
}
