// Package report carries document status changes from stage workers to the
// status history.
//
// Reporters never fail the caller: a store that cannot be reached degrades to
// local logging so a worker loop is never stopped by its status sink.
package report
