package routing

import "errors"

// ErrUnreachableAddress is returned when no forwarding-table entry matches
// the peer's remote address.
var ErrUnreachableAddress = errors.New("routing: no route to remote address")

// ErrNetworkPath is returned when a matching interface was found but the OS
// could not produce a source address for it.
var ErrNetworkPath = errors.New("routing: no source address for egress interface")

// ErrNoRemoteAddress is returned when the peer's endpoint has no remote
// address set yet (family is FamilyNone).
var ErrNoRemoteAddress = errors.New("routing: peer has no remote address")
