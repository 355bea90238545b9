// Package daemon is the core of hald: the single-threaded event loop, the
// wiring between the device store, the FDI rule machinery and the
// change-notification consumers, and the rename-and-merge routine backends
// use to publish discovered devices.
//
// # Concurrency model
//
// One goroutine runs the Loop; every store operation, rule evaluation and
// notification dispatch happens inside its tasks, so they observe
// consistent state without locks. Off-loop producers (bus method handlers,
// file watchers) post tasks and, when they need a result, block on
// Loop.Call.
//
// The cache compiler runs as a subprocess, but not asynchronously: the loop
// task that finds the cache stale (Decorate, through the coherency
// controller) waits for the compiler to exit, and no other task runs until
// it does or its time budget expires.
package daemon
