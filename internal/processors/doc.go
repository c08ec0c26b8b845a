// Package processors provides the document processors that plan files can
// reference by kind.
//
// Field and payload transforms (set_field, copy_field, truncate, keywords)
// mutate the document in place and pass it on. drop and mark_status end a
// document's flow with a terminal status. s3_store, kafka_publish,
// archive_file and notify reach outside the process and therefore report
// external side effects.
package processors
