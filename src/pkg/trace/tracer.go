package trace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const reportFileName = "performance-report.json"

var tracer trace.Tracer
var spanRecorder *SpanRecorder
var outputDir string

// SpanRecorder keeps finished spans for the performance report
type SpanRecorder struct {
	mu    sync.Mutex
	spans []spanRecord
}

type spanRecord struct {
	Name     string
	Duration time.Duration
	Start    time.Time
	End      time.Time
	ParentID string
	SpanID   string
	Error    string
}

type SpanInfo struct {
	Name       string     `json:"name"`
	DurationMs float64    `json:"durationMs"`
	Start      string     `json:"start"`
	End        string     `json:"end"`
	Error      string     `json:"error,omitempty"`
	Children   []SpanInfo `json:"children,omitempty"`
}

type PerformanceReport struct {
	Spans           []SpanInfo `json:"spans"`
	TotalDurationMs float64    `json:"totalDurationMs"`
	Timestamp       string     `json:"timestamp"`
}

// InitTracer enables span recording. The returned shutdown function
// flushes the provider and writes performance-report.json into outDir.
func InitTracer(serviceName string, enabled bool, outDir string) (func(), error) {
	if !enabled {
		return func() {}, nil
	}

	spanRecorder = &SpanRecorder{}
	outputDir = outDir

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(&recordingSpanProcessor{recorder: spanRecorder}),
	)

	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(serviceName)

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
		_ = ExportReport()
		tracer = nil
		spanRecorder = nil
	}

	return shutdown, nil
}

// StartSpan starts a new span; without InitTracer it is a no-op
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name)
}

// Step runs fn inside a span named name and marks the span failed when fn errors
func Step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := StartSpan(ctx, name)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// recordingSpanProcessor records spans for the performance report
type recordingSpanProcessor struct {
	recorder *SpanRecorder
}

func (p *recordingSpanProcessor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {}

func (p *recordingSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if p.recorder == nil {
		return
	}
	parentID := ""
	if s.Parent().IsValid() {
		parentID = s.Parent().SpanID().String()
	}
	errMsg := ""
	if s.Status().Code == codes.Error {
		errMsg = s.Status().Description
	}

	p.recorder.mu.Lock()
	defer p.recorder.mu.Unlock()
	p.recorder.spans = append(p.recorder.spans, spanRecord{
		Name:     s.Name(),
		Duration: s.EndTime().Sub(s.StartTime()),
		Start:    s.StartTime(),
		End:      s.EndTime(),
		SpanID:   s.SpanContext().SpanID().String(),
		ParentID: parentID,
		Error:    errMsg,
	})
}

func (p *recordingSpanProcessor) Shutdown(ctx context.Context) error   { return nil }
func (p *recordingSpanProcessor) ForceFlush(ctx context.Context) error { return nil }

// ExportReport writes the performance report to the output directory
func ExportReport() error {
	if spanRecorder == nil || outputDir == "" {
		return nil
	}
	spanRecorder.mu.Lock()
	records := append([]spanRecord(nil), spanRecorder.spans...)
	spanRecorder.mu.Unlock()
	if len(records) == 0 {
		return nil
	}

	hierarchy := buildHierarchy(records)

	totalDurationMs := 0.0
	for _, span := range hierarchy {
		totalDurationMs += span.DurationMs
	}

	report := PerformanceReport{
		Spans:           hierarchy,
		TotalDurationMs: totalDurationMs,
		Timestamp:       time.Now().Format(time.RFC3339Nano),
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal report")
	}

	if err := os.WriteFile(filepath.Join(outputDir, reportFileName), data, 0644); err != nil {
		return errors.Wrap(err, "failed to write report")
	}

	return nil
}

// buildHierarchy nests span records under their parents, ordered by start time
func buildHierarchy(records []spanRecord) []SpanInfo {
	children := make(map[string][]spanRecord)
	known := make(map[string]bool, len(records))
	for _, record := range records {
		known[record.SpanID] = true
	}

	var roots []spanRecord
	for _, record := range records {
		if record.ParentID == "" || !known[record.ParentID] {
			roots = append(roots, record)
			continue
		}
		children[record.ParentID] = append(children[record.ParentID], record)
	}

	var build func(list []spanRecord) []SpanInfo
	build = func(list []spanRecord) []SpanInfo {
		sort.Slice(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })
		infos := make([]SpanInfo, 0, len(list))
		for _, record := range list {
			infos = append(infos, SpanInfo{
				Name:       record.Name,
				DurationMs: float64(record.Duration.Microseconds()) / 1000.0,
				Start:      record.Start.Format(time.RFC3339Nano),
				End:        record.End.Format(time.RFC3339Nano),
				Error:      record.Error,
				Children:   build(children[record.SpanID]),
			})
		}
		return infos
	}

	return build(roots)
}
