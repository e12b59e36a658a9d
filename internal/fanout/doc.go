// Package fanout delivers change notifications to the recipients subscribed
// to a queue.
//
// Each recipient is handled independently: a failure or timeout for one
// recipient is recorded in the Result and never stops the others.
package fanout
