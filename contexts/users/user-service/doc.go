// Package userservice contains the Meridian user module.
//
// It registers customer accounts and announces each registration on the
// users topic for downstream consumers such as notifications.
package userservice
