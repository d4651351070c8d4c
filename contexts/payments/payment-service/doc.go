// Package paymentservice contains the Meridian payment processing module.
//
// It consumes payment commands off the bus, charges through a
// circuit-breaker-guarded gateway, and publishes payment results. Commands
// that find the gateway unavailable are parked on a retry queue and drained
// by the retry relay worker.
package paymentservice
