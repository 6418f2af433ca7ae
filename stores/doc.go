// Package stores provides implementations of the pipeline's store
// collaborators: in-memory stores for tests and single-process use, and a
// Redis-backed secret store for deployments where concurrent sessions land
// on different processes.
package stores
