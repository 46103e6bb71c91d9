// Package fs provides filesystem abstractions for testability and fault injection.
//
//   - [LocalFS]: Production implementation using standard os package
//   - [FaultyFS]: Test utility for fault injection (failed writes, syncs, reads, removes)
//
// The local blob store writes tile pages through a [FileSystem]; tests swap in
// a [FaultyFS] to exercise eviction failures and torn writes:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("3/7/1", fs.Fault{FailAfterBytes: -1, FailOnRemove: true})
//
// The package intentionally does NOT take context.Context parameters. Local
// filesystem operations are not interruptible at the syscall level.
package fs
