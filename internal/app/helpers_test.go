package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	service "github.com/okian/teamrun/internal/app"
	"github.com/okian/teamrun/internal/domain/model"
	"github.com/okian/teamrun/internal/domain/types"
	"github.com/okian/teamrun/pkg/logger"
	"github.com/okian/teamrun/pkg/metrics"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var t0 = time.Date(2026, 10, 1, 20, 0, 0, 0, time.UTC)

// sequentialIDs returns r1, r2, ... so tests can name records.
func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("r%d", n.Add(1)) }
}

// captureSink keeps every delivered board event.
type captureSink struct {
	mu     sync.Mutex
	events []model.BoardEvent
}

func (c *captureSink) Deliver(ctx context.Context, e model.BoardEvent) error { //nolint:gocritic // hugeParam: events travel by value
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captureSink) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Key())
	}
	sort.Strings(out)
	return out
}

func startService(opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithClock(func() time.Time { return t0 }),
		service.WithIDGenerator(sequentialIDs()),
		service.WithWorkerCount(2),
	}
	svc := service.New(append(base, opts...)...)
	if err := svc.Start(context.Background()); err != nil {
		panic(err)
	}
	return svc
}

func rule(allowRich bool, classes ...string) types.RuleSpec {
	return types.RuleSpec{AllowRich: allowRich, Classes: classes}
}

func selfSignup(who, class string) types.SignupRequest {
	return types.SignupRequest{SubmitterID: who, DisplayName: who, CharacterName: who + "-main", Class: class}
}

// sampleCount returns how many observations the named histogram holds.
func sampleCount(name string) uint64 {
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		panic(err)
	}
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}
