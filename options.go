// Package launchpad is the persistent workflow scheduler: it stores
// directed acyclic graphs of fireworks, dispatches ready ones to
// distributed workers, tracks retries and duplicates, and propagates
// state changes through the graph until terminal (spec §1).
package launchpad

import "github.com/dshills/launchpad-go/dispatch"

// Config carries the process-wide immutable settings named in spec §5.
// There is no file-format loader here — loading configuration from disk
// or flags remains an external collaborator's job per spec §1; this
// struct is just the value object a caller populates (directly or via
// Option) before constructing a LaunchPad.
type Config struct {
	// SortFws picks the dispatcher's created_on tie-break direction
	// (FIFO or FILO). Defaults to FIFO.
	SortFws dispatch.CreatedOnPolicy

	// ReservationExpirationSecs bounds how long a RESERVED firework may
	// sit unclaimed before the janitor reclaims it. Defaults to 1800.
	ReservationExpirationSecs float64

	// RunExpirationSecs bounds how long a RUNNING firework may go
	// without a tracker tick before the janitor marks it FIZZLED.
	// Defaults to 14400.
	RunExpirationSecs float64

	// WFLockExpirationSecs bounds how long WFLock.Acquire backs off
	// before giving up or killing. Defaults to wflock.DefaultExpireSecs.
	WFLockExpirationSecs float64

	// WFLockExpirationKill, when true, forcibly takes a contended
	// workflow lock once WFLockExpirationSecs elapses instead of
	// surfacing errs.LockedWorkflow. Defaults to false.
	WFLockExpirationKill bool

	// MongoSocketTimeoutMS is carried over as a field name for
	// store-adapter timeout plumbing even though the store interface
	// here is backend-agnostic (spec §5). No store in this module reads
	// it: SQLiteStore and MySQLStore apply no timeout taken from Config to
	// their database/sql operations.
	MongoSocketTimeoutMS int

	// BlobCollectionName names the blob side-store's backing table or
	// collection. No store in this module reads it: SQLiteStore and
	// MySQLStore always use a table named blobs.
	BlobCollectionName string

	// MaintainIntervalSecs is the janitor's sweep period. Defaults to
	// 3600 (spec §4.7). LaunchPad does not run its own ticker — the
	// embedding process calls Tuneup/DetectUnreserved/DetectLostRuns on
	// this cadence itself.
	MaintainIntervalSecs float64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		SortFws:                   dispatch.FIFO,
		ReservationExpirationSecs: 1800,
		RunExpirationSecs:         14400,
		WFLockExpirationSecs:      300,
		WFLockExpirationKill:      false,
		MongoSocketTimeoutMS:      30000,
		BlobCollectionName:        "blobs",
		MaintainIntervalSecs:      3600,
	}
}

// Option configures a Config, applied in order over DefaultConfig's
// result.
type Option func(*Config)

// WithSortPolicy sets the dispatcher's created_on tie-break direction.
func WithSortPolicy(policy dispatch.CreatedOnPolicy) Option {
	return func(c *Config) { c.SortFws = policy }
}

// WithReservationExpiration sets how long a reservation may go unclaimed
// before the janitor reclaims it.
func WithReservationExpiration(secs float64) Option {
	return func(c *Config) { c.ReservationExpirationSecs = secs }
}

// WithRunExpiration sets how long a run may go without a tracker tick
// before the janitor marks it FIZZLED.
func WithRunExpiration(secs float64) Option {
	return func(c *Config) { c.RunExpirationSecs = secs }
}

// WithWFLockExpiration sets the workflow lock's acquisition timeout and
// whether it kills a contended lock once that timeout elapses.
func WithWFLockExpiration(secs float64, kill bool) Option {
	return func(c *Config) {
		c.WFLockExpirationSecs = secs
		c.WFLockExpirationKill = kill
	}
}

// WithSocketTimeoutMS sets MongoSocketTimeoutMS.
func WithSocketTimeoutMS(ms int) Option {
	return func(c *Config) { c.MongoSocketTimeoutMS = ms }
}

// WithBlobCollectionName sets BlobCollectionName.
func WithBlobCollectionName(name string) Option {
	return func(c *Config) { c.BlobCollectionName = name }
}

// WithMaintainInterval sets the janitor's sweep period.
func WithMaintainInterval(secs float64) Option {
	return func(c *Config) { c.MaintainIntervalSecs = secs }
}
