// Package inventoryservice contains the Meridian inventory module.
//
// It consumes reserve and release commands off the bus, holds stock
// all-or-nothing per order, and publishes reservation outcomes.
package inventoryservice
