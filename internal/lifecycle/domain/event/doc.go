// Package event defines the immutable company-product journal entries and
// their typed payloads.
package event
