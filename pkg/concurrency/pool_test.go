package concurrency

import (
	"sync/atomic"
	"testing"

	"github.com/alkahfi23/aibottrading/internal/core"
)

type nopLogger struct{}

func (l *nopLogger) Debug(msg string, fields ...interface{})               {}
func (l *nopLogger) Info(msg string, fields ...interface{})                {}
func (l *nopLogger) Warn(msg string, fields ...interface{})                {}
func (l *nopLogger) Error(msg string, fields ...interface{})               {}
func (l *nopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *nopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *nopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func TestWorkerPool_SubmitAndWait(t *testing.T) {
	wp := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 2}, &nopLogger{})
	defer wp.Stop()

	var ran atomic.Bool
	wp.SubmitAndWait(func() { ran.Store(true) })

	if !ran.Load() {
		t.Error("Expected task to finish before SubmitAndWait returned")
	}
}

func TestWorkerPool_StatsCountSubmissions(t *testing.T) {
	wp := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 2}, &nopLogger{})
	defer wp.Stop()

	for i := 0; i < 3; i++ {
		wp.SubmitAndWait(func() {})
	}

	stats := wp.Stats()
	if got := stats["submitted_tasks"].(uint64); got < 3 {
		t.Errorf("Expected at least 3 submitted tasks, got %d", got)
	}
}
