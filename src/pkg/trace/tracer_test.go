package trace

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStep_DisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracer("allure-pr-report", false, t.TempDir())
	require.NoError(t, err)
	defer shutdown()

	called := false
	err = Step(context.Background(), "upload", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestInitTracer_WritesPerformanceReport(t *testing.T) {
	dir := t.TempDir()
	shutdown, err := InitTracer("allure-pr-report", true, dir)
	require.NoError(t, err)

	ctx, root := StartSpan(context.Background(), "run")
	require.NoError(t, Step(ctx, "collect", func(context.Context) error { return nil }))
	stepErr := Step(ctx, "generate", func(context.Context) error { return errors.New("missing report_url") })
	require.Error(t, stepErr)
	root.End()
	shutdown()

	data, err := os.ReadFile(filepath.Join(dir, "performance-report.json"))
	require.NoError(t, err)

	var report PerformanceReport
	require.NoError(t, json.Unmarshal(data, &report))
	require.Len(t, report.Spans, 1)
	assert.Equal(t, "run", report.Spans[0].Name)
	require.Len(t, report.Spans[0].Children, 2)
	assert.Equal(t, "collect", report.Spans[0].Children[0].Name)
	assert.Equal(t, "generate", report.Spans[0].Children[1].Name)
	assert.Equal(t, "missing report_url", report.Spans[0].Children[1].Error)
}

func TestBuildHierarchy_OrphansBecomeRoots(t *testing.T) {
	now := time.Now()
	records := []spanRecord{
		{Name: "b", SpanID: "2", Start: now.Add(time.Second), End: now.Add(2 * time.Second), Duration: time.Second},
		{Name: "a", SpanID: "1", ParentID: "missing", Start: now, End: now.Add(time.Second), Duration: time.Second},
		{Name: "c", SpanID: "3", ParentID: "2", Start: now.Add(time.Second), End: now.Add(time.Second), Duration: 1500 * time.Microsecond},
	}

	infos := buildHierarchy(records)
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, "b", infos[1].Name)
	require.Len(t, infos[1].Children, 1)
	assert.Equal(t, "c", infos[1].Children[0].Name)
	assert.Equal(t, 1.5, infos[1].Children[0].DurationMs)
}
