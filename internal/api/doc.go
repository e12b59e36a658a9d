// Package api serves a small read-only JSON status API: health, stored
// schedules, change history and the last ingestion cycle.
//
// A stored empty schedule is returned as 200 with "windows": []; a key that
// was never ingested is 404.
package api
