package main

import (
	"context"
	"log"
	"time"
)

// supervise keeps fn running until ctx is done. Whenever fn returns, with or
// without an error, it is started again after delay.
func supervise(ctx context.Context, name string, delay time.Duration, fn func(ctx context.Context) error) {
	for {
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			log.Printf("%s failed, restarting in %s: %v", name, delay, err)
		} else {
			log.Printf("%s stopped, restarting in %s", name, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
