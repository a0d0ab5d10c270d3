package core

import (
	"errors"

	"github.com/jroosing/hydralink/internal/sendpipe"
)

// Sentinel errors returned by the lifecycle controller and socket-creation
// helpers. Named after the driver status codes the behavior is modeled on.
var (
	ErrInsufficientResources = errors.New("core: insufficient resources")
	ErrNetworkUnreachable    = errors.New("core: network unreachable")
	ErrAddressInUse          = errors.New("core: address already in use")
	ErrNotRunning            = errors.New("core: device is not running")
	ErrAlreadyRunning        = errors.New("core: device is already running")
)

// ErrAlreadyComplete is the already-complete status the send pipeline
// reports for an empty send; re-exported here so callers of the lifecycle
// controller can check it without reaching into internal/sendpipe
// directly.
var ErrAlreadyComplete = sendpipe.ErrAlreadyComplete
