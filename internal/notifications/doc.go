// Package notifications publishes short push messages to an ntfy topic.
//
// The daemon announces start, source failures and drained runs through it,
// and the notify processor sends one message per document. When no topic is
// configured NewService returns a no-op so callers never branch on whether
// notifications are enabled.
package notifications
