package storage

import "time"

// DDFMatcher is implemented by the device description file subsystem.
// Rows matching a managed DDF are skipped during legacy replay;
// ownership of those devices hands off to the normalized path.
type DDFMatcher interface {
	Managed(manufacturer, model string) bool
	// RefreshInterval returns the DDF declared refresh interval for a
	// resource item, or zero when none is declared.
	RefreshInterval(uniqueid, item string) time.Duration
}

// nopDDFMatcher treats every row as unmanaged.
type nopDDFMatcher struct{}

func (nopDDFMatcher) Managed(string, string) bool { return false }

func (nopDDFMatcher) RefreshInterval(string, string) time.Duration { return 0 }
