// Package common contains shared constants and sentinel errors used across
// the sync engine's components.
package common

// SessionTokenHeaderName is the HTTP header carrying the homeserver session
// token on outbound requests.
const SessionTokenHeaderName = "Authorization"
