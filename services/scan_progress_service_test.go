package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProgressService(t *testing.T) *ScanProgressService {
	t.Helper()

	prev := GlobalScanProgress
	require.NoError(t, InitScanProgressService())

	svc := GlobalScanProgress
	t.Cleanup(func() {
		svc.Shutdown()
		GlobalScanProgress = prev
	})
	return svc
}

func TestScanProgressSnapshot(t *testing.T) {
	svc := newTestProgressService(t)

	assert.Equal(t, "idle", svc.GetProgress().Status)

	svc.ScanProgress(1, 100, 0, "1101.TW")
	p := svc.GetProgress()
	assert.Equal(t, "running", p.Status)
	assert.Equal(t, 1, p.Processed)
	assert.Equal(t, 100, p.Total)
	assert.Equal(t, "1101.TW", p.CurrentSymbol)
	assert.NotEmpty(t, p.StartedAt)

	svc.ScanProgress(100, 100, 7, "9958.TW")
	p = svc.GetProgress()
	assert.Equal(t, "completed", p.Status)
	assert.Equal(t, 7, p.Matches)
}

func TestScanProgressReset(t *testing.T) {
	svc := newTestProgressService(t)

	svc.ScanProgress(5, 10, 1, "2330.TW")
	svc.Reset()

	p := svc.GetProgress()
	assert.Equal(t, "idle", p.Status)
	assert.Zero(t, p.Processed)
}

func TestScanProgressPublishNeverBlocks(t *testing.T) {
	svc := newTestProgressService(t)

	// Far more updates than the broadcast buffer holds; extras drop.
	for i := 1; i <= 1000; i++ {
		svc.ScanProgress(i, 1000, 0, "2330.TW")
	}

	assert.Equal(t, 1000, svc.GetProgress().Processed)
}
