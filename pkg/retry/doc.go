// Package retry provides exponential backoff for transient failures.
//
// # Overview
//
// Reel listeners lose their device whenever a cable is pulled or a USB
// adapter resets. This package gives them a reconnect policy:
//
//   - Do: run a function until it succeeds, with exponential backoff
//   - DoWithResult: Do for functions returning a value
//   - Backoff: the delay sequence on its own, for hand-written reconnect loops
//
// # Configuration
//
//   - DefaultConfig(): unlimited attempts, 500ms-30s delay (listener reconnect)
//   - Quick(): 10 attempts, 50ms-1s delay (startup)
//
// A MaxAttempts of zero means retry until the context ends.
//
// # Usage
//
// Reconnect loop:
//
//	backoff := retry.NewBackoff(cfg)
//	for {
//	    err := session(ctx)
//	    if ctx.Err() != nil {
//	        return nil
//	    }
//	    if retry.IsNonRetryable(err) {
//	        return err
//	    }
//	    if err := backoff.Wait(ctx); err != nil {
//	        return err
//	    }
//	}
//
// Bounded retry:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return client.Connect(ctx)
//	})
//
// # Error Classification
//
// Errors wrapped with NonRetryable, and errors the errors package classifies
// as fatal, stop the retry immediately.
//
// # Thread Safety
//
// Do is safe for concurrent use. A Backoff belongs to one loop.
package retry
