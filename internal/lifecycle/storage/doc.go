// Package storage defines the persistence interfaces and record types for the
// lifecycle journal and its read models.
package storage
