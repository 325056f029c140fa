// Package command defines command decisions and rejection codes.
package command
