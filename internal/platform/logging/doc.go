// Package logging constructs the shared structured logger.
package logging
