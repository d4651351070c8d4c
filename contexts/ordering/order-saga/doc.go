// Package ordersaga contains the Meridian order fulfillment saga.
//
// The orchestrator consumes order, inventory and payment events, advances a
// per-order state machine, and issues the next command or compensation. The
// module keeps domain/application logic decoupled from runtime/platform
// concerns through ports and adapter composition.
package ordersaga
