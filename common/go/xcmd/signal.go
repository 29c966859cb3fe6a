package xcmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Interrupted is returned when a termination signal arrives before the
// task completes.
type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return m.String()
}

// IsInterrupted reports whether the error chain contains Interrupted.
func IsInterrupted(err error) bool {
	var target Interrupted
	return errors.As(err, &target)
}

// RunInterruptible runs the task until it returns or until SIGINT or
// SIGTERM arrives, whichever happens first.
//
// On a signal the task context is canceled and the returned error is
// Interrupted. Otherwise the task error is returned as is.
func RunInterruptible(ctx context.Context, task func(ctx context.Context) error) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	return runInterruptible(ctx, ch, task)
}

func runInterruptible(ctx context.Context, signals <-chan os.Signal, task func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	wg.Go(func() error {
		defer close(done)
		return task(ctx)
	})
	wg.Go(func() error {
		select {
		case v := <-signals:
			return Interrupted{Signal: v}
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		}
	})

	return wg.Wait()
}
