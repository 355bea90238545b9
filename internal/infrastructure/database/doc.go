// Package database opens the SQLite store backing the device event
// journal: WAL mode, busy timeout, owner-only permissions, single-writer
// connection settings. Schema management lives with the journal itself;
// this package only hands out configured connections.
package database
