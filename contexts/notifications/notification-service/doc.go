// Package notificationservice contains the Meridian notification module.
//
// It consumes order outcomes, payment receipts, and user registrations and
// delivers one customer notification per triggering event through a
// pluggable notifier.
package notificationservice
