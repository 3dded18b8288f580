package swarmnet

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsAddDownloadAggregatesBySource(t *testing.T) {
	s := NewStats()
	s.AddDownload(10, testAddr(1))
	s.AddDownload(5, testAddr(1))
	s.AddDownload(7, testAddr(2))

	snap := s.Snapshot()
	assert.Equal(t, int64(22), snap.DownloadBytes)
	require.Len(t, snap.DownloadBySource, 2)

	var byAddr map[string]SourceDownload = make(map[string]SourceDownload)
	for _, sd := range snap.DownloadBySource {
		byAddr[sd.Source] = sd
	}
	assert.Equal(t, int64(15), byAddr[testAddr(1).Addr().String()].TotalBytes)
	assert.Equal(t, int64(15), byAddr[testAddr(1).Addr().String()].TrailingBytes)
	assert.Equal(t, int64(7), byAddr[testAddr(2).Addr().String()].TotalBytes)
}

func TestStatsRecordPeerReportFeedsSameSource(t *testing.T) {
	s := NewStats()
	s.AddDownload(100, testAddr(1))
	s.RecordPeerReport(testAddr(1), []byte(`{}`))

	snap := s.Snapshot()
	require.Len(t, snap.DownloadBySource, 1)
	assert.Equal(t, int64(100), snap.DownloadBySource[0].TotalBytes, "RecordPeerReport must not double-count transport bytes")
}

// TestStatsConcurrentAddDownload exercises the exact race the transport read
// goroutine and the node event loop can otherwise hit: both calling
// AddDownload against the same Stats concurrently. Run with -race.
func TestStatsConcurrentAddDownload(t *testing.T) {
	s := NewStats()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.AddDownload(1, testAddr(1))
		}()
		go func() {
			defer wg.Done()
			s.RecordPeerReport(testAddr(2), nil)
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(50), snap.DownloadBytes) // RecordPeerReport adds no bytes
}
