// Package bridge hosts a native computation worker inside a long-lived call
// and lets host code feed it work.
//
// A [Supervisor] owns one worker session. Establish allocates the transfer
// buffer and starts the call thread, a goroutine locked to its OS thread
// that makes the single blocking [Worker.Run] call. The worker then pulls
// argument batches through its [CallbackTable], moves pixel slices through
// the shared transfer buffer, exchanges protobuf metadata with collaborators,
// polls for cooperative cancellation and reports progress. Host goroutines
// only talk to the Supervisor.
//
// Callback failures never cross into the worker. They are caught at the
// table boundary, logged, and added to the return code of the current
// computing phase; a blocking Run reports a nonzero code as
// [errors.ErrRunFailed].
//
// Lifecycle:
//
//	s := bridge.New(worker, catalog, bridge.WithLogger(logger))
//	s.Establish(initialArgs, imaging.Dimensions{})
//	s.Run(ctx, []string{"copy"}, bridge.RunOptions{KeepAlive: true, Block: true})
//	// ... more runs ...
//	s.Terminate(ctx, true) // waits until StillAlive reports false
//
// A Supervisor is one-shot: once terminated it cannot be established again.
package bridge
