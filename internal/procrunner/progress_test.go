package procrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgressLine(t *testing.T) {
	ev, ok := parseProgressLine("out_time_ms=1500000")
	require.True(t, ok)
	assert.Equal(t, int64(1500000), ev.OutTimeMS)
	assert.False(t, ev.Done)

	ev, ok = parseProgressLine("progress=end")
	require.True(t, ok)
	assert.True(t, ev.Done)

	_, ok = parseProgressLine("frame=120")
	assert.False(t, ok)
}

func TestRunWithProgressReportsEvents(t *testing.T) {
	r := New(2, 10)
	var events []ProgressEvent
	err := r.RunWithProgress(context.Background(), "", nil,
		[]string{"sh", "-c", "echo out_time_ms=1000000; echo progress=end"},
		0, func(ev ProgressEvent) { events = append(events, ev) })

	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].Done)
}

func TestRunWithProgressHonorsIdleTimeout(t *testing.T) {
	r := New(2, 10)
	err := r.RunWithProgress(context.Background(), "", nil,
		[]string{"sleep", "2"}, 100*time.Millisecond, nil)
	require.Error(t, err)
}
