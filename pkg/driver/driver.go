// Package driver defines the browser abstraction run units execute against.
//
// A Browser is the shared engine, started once per run. Each attempt of a
// run unit opens its own Session (an isolated context and page) and closes
// it before the unit's slot is released.
package driver

import (
	"time"
)

// Browser creates isolated sessions on a shared engine.
type Browser interface {
	// NewSession opens a fresh context and page
	NewSession(opts SessionOptions) (Session, error)

	// Close stops the engine. Sessions must already be closed.
	Close() error
}

// Session is one isolated browsing context with a single page.
type Session interface {
	// Navigate loads url and waits for the load event
	Navigate(url string) error

	// Click clicks the first element matching selector
	Click(selector string) error

	// Fill sets the value of the first input matching selector
	Fill(selector, value string) error

	// WaitForText waits until text is visible on the page
	WaitForText(text string, timeout time.Duration) error

	// TextContent returns the text of the first element matching selector
	TextContent(selector string) (string, error)

	// URL returns the current page URL
	URL() string

	// Screenshot captures the viewport as PNG
	Screenshot() ([]byte, error)

	// Close releases the context and page. Safe to call more than once.
	Close() error
}

// SessionOptions selects the browser profile for a session.
// Device and Viewport are mutually exclusive; neither means engine defaults.
type SessionOptions struct {
	Device  string        // Named device descriptor, e.g. "iPhone 13"
	Width   int           // Viewport width in CSS pixels
	Height  int           // Viewport height in CSS pixels
	Timeout time.Duration // Default action timeout
	UnitID  string        // For logs
	Attempt int           // 1-based
}

// Default viewport when neither device nor size is given.
const (
	DefaultWidth   = 1280
	DefaultHeight  = 720
	DefaultTimeout = 30 * time.Second
)
