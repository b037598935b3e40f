// Package notifications delivers push notifications for pipeline milestones
// through ntfy. When no topic is configured the service degrades to a noop,
// so callers never need to guard their publish calls.
package notifications
