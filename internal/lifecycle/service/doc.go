// Package service exposes the lifecycle command surface. Each command loads
// the aggregate's read model, decides against the injected catalog, and
// appends its events as one atomic batch using the observed sequence as the
// expected sequence. Validation failures and concurrency conflicts are
// returned inside the command result, never as panics past the boundary.
package service
