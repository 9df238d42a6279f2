package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/rbacadmin/pkg/observability"
)

// DefaultRefreshInterval renews ahead of the 15 minute access token lifetime
const DefaultRefreshInterval = 12 * time.Minute

// constantDelay fires every d after the previous activation. Unlike
// cron.Every it keeps sub-second precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

// refreshScheduler runs the proactive renewal job while armed
type refreshScheduler struct {
	interval time.Duration
	logger   cron.Logger

	mu         sync.Mutex
	cron       *cron.Cron
	generation uint64
}

func newRefreshScheduler(interval time.Duration, logger *observability.Logger) *refreshScheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &refreshScheduler{interval: interval, logger: cronLogger{logger}}
}

// arm starts the job unless it is already running. job receives the
// generation it was armed under.
func (s *refreshScheduler) arm(job func(generation uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}

	s.generation++
	gen := s.generation
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(s.logger)), cron.WithLogger(s.logger))
	c.Schedule(constantDelay(s.interval), cron.FuncJob(func() { job(gen) }))
	c.Start()
	s.cron = c
}

// disarm stops scheduling synchronously. It does not wait for a job that
// already started, since that job may be the one clearing the session.
func (s *refreshScheduler) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.generation++
}

func (s *refreshScheduler) armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// current reports whether gen is the live arming
func (s *refreshScheduler) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil && s.generation == gen
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug("scheduler: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(fields(keysAndValues)).Error("scheduler: " + msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
