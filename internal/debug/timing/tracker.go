// Package timing measures how long named operations take.
package timing

import (
	"context"
	"sort"
	"sync"
	"time"

	"fvfm-analyzer/internal/debug/eventbus"
)

type timingKey struct{}

type TimingInfo struct {
	Operation string
	StartTime time.Time
}

type Tracker struct {
	timings  map[string][]time.Duration
	order    []string
	mu       sync.RWMutex
	eventBus eventbus.Publisher
	enabled  bool
}

// NewTracker returns an enabled tracker. eventBus may be nil.
func NewTracker(eventBus eventbus.Publisher) *Tracker {
	return &Tracker{
		timings:  make(map[string][]time.Duration),
		eventBus: eventBus,
		enabled:  true,
	}
}

// Start records the start of operation in a context derived from parent
func (tt *Tracker) Start(parent context.Context, operation string) context.Context {
	if !tt.isEnabled() {
		return parent
	}

	start := time.Now()
	ctx := context.WithValue(parent, timingKey{}, TimingInfo{
		Operation: operation,
		StartTime: start,
	})

	if tt.eventBus != nil {
		tt.eventBus.Publish(eventbus.Event{
			Type:      eventbus.StageStarted,
			Timestamp: start,
			Data:      map[string]interface{}{"stage": operation},
		})
	}

	return ctx
}

// End closes the operation started on ctx and returns its duration; zero
// when ctx carries no timing
func (tt *Tracker) End(ctx context.Context) time.Duration {
	return tt.finish(ctx, nil)
}

// Fail is End for an operation that returned err
func (tt *Tracker) Fail(ctx context.Context, err error) time.Duration {
	return tt.finish(ctx, err)
}

func (tt *Tracker) finish(ctx context.Context, opErr error) time.Duration {
	if !tt.isEnabled() {
		return 0
	}

	info, ok := ctx.Value(timingKey{}).(TimingInfo)
	if !ok {
		return 0
	}

	duration := time.Since(info.StartTime)

	tt.mu.Lock()
	if _, seen := tt.timings[info.Operation]; !seen {
		tt.order = append(tt.order, info.Operation)
	}
	tt.timings[info.Operation] = append(tt.timings[info.Operation], duration)
	tt.mu.Unlock()

	if tt.eventBus != nil {
		data := map[string]interface{}{
			"stage":    info.Operation,
			"duration": duration,
		}
		eventType := eventbus.StageCompleted
		if opErr != nil {
			eventType = eventbus.StageFailed
			data["error"] = opErr.Error()
		}
		tt.eventBus.Publish(eventbus.Event{Type: eventType, Data: data})
	}

	return duration
}

func (tt *Tracker) GetTimings(operation string) []time.Duration {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	timings := tt.timings[operation]
	if timings == nil {
		return nil
	}

	result := make([]time.Duration, len(timings))
	copy(result, timings)
	return result
}

func (tt *Tracker) GetAverageTime(operation string) time.Duration {
	timings := tt.GetTimings(operation)
	if len(timings) == 0 {
		return 0
	}

	var total time.Duration
	for _, duration := range timings {
		total += duration
	}

	return total / time.Duration(len(timings))
}

// Operations lists operations in the order they first completed
func (tt *Tracker) Operations() []string {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	return append([]string(nil), tt.order...)
}

// Fields summarises total milliseconds per operation for a log line
func (tt *Tracker) Fields() map[string]interface{} {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	fields := make(map[string]interface{}, len(tt.timings)+1)
	var total time.Duration
	names := make([]string, 0, len(tt.timings))
	for name := range tt.timings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var sum time.Duration
		for _, d := range tt.timings[name] {
			sum += d
		}
		total += sum
		fields[name+"_ms"] = sum.Milliseconds()
	}
	fields["total_ms"] = total.Milliseconds()
	return fields
}

func (tt *Tracker) SetEnabled(enabled bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.enabled = enabled
}

func (tt *Tracker) isEnabled() bool {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return tt.enabled
}

func (tt *Tracker) Reset(operation string) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	if operation == "" {
		tt.timings = make(map[string][]time.Duration)
		tt.order = nil
		return
	}
	delete(tt.timings, operation)
	for i, op := range tt.order {
		if op == operation {
			tt.order = append(tt.order[:i:i], tt.order[i+1:]...)
			break
		}
	}
}
