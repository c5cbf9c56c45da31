package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
)

const cleanerTimeout = 10 * time.Second

type Callable interface {
	Invoke(ctx context.Context) error
}

// CallableFunc adapts a plain function to Callable.
type CallableFunc func(ctx context.Context) error

func (f CallableFunc) Invoke(ctx context.Context) error {
	return f(ctx)
}

// Cleaner runs shutdown callbacks in reverse registration order, so that
// resources are released after everything that uses them.
type Cleaner struct {
	cleaners []Callable
	mu       sync.Mutex
	cleaning bool
	timeout  time.Duration
}

func NewCleaner() *Cleaner {
	return &Cleaner{timeout: cleanerTimeout}
}

func (c *Cleaner) Add(callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.Debug("Cleaner is already shutting down, ignoring new cleaner")
		return
	}
	c.cleaners = append(c.cleaners, callable)
}

// Clean invokes every registered callable once, each under its own timeout,
// and returns the joined errors. Later calls are no-ops.
func (c *Cleaner) Clean() error {
	c.mu.Lock()
	if c.cleaning {
		c.mu.Unlock()
		return nil
	}
	c.cleaning = true
	cleanersCopy := make([]Callable, len(c.cleaners))
	copy(cleanersCopy, c.cleaners)
	c.mu.Unlock()

	logger.DebugF("Starting cleanup of %d registered functions", len(cleanersCopy))

	var errs []error
	for i := len(cleanersCopy) - 1; i >= 0; i-- {
		callable := cleanersCopy[i]
		func() {
			logger.DebugF("Invoking cleaner #%d (%T)", i+1, callable)
			timeoutCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if err := callable.Invoke(timeoutCtx); err != nil {
				logger.ErrorF("Cleaner #%d (%T) failed: %v", i+1, callable, err)
				errs = append(errs, fmt.Errorf("cleaner #%d: %w", i+1, err))
			}
		}()
	}

	if len(errs) > 0 {
		logger.ErrorF("%d errors occurred during cleanup", len(errs))
	} else {
		logger.Debug("All cleaners executed successfully")
	}
	return errors.Join(errs...)
}
