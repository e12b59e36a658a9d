// Package ingest runs one fetch, diff, persist and notify cycle.
//
// The first ingestion of a (date, queue) key is a silent baseline. Only a
// revision of previously stored windows produces a notification.
package ingest
