package routing

import (
	"github.com/vishvananda/netlink"

	"github.com/jroosing/hydralink/internal/endpoint"
)

// Monitor subscribes once to the OS route-change notification stream and
// bumps the shared Generation on every update. It is intentionally
// coarse-grained: any route change bumps both families' generations, since
// the notification payload does not cheaply distinguish "this change can't
// affect you" from "re-resolve everything".
type Monitor struct {
	gen  *Generation
	done chan struct{}
}

// NewMonitor subscribes to route-change notifications and returns a Monitor
// that keeps gen current until Close is called.
func NewMonitor(gen *Generation) (*Monitor, error) {
	updates := make(chan netlink.RouteUpdate)
	done := make(chan struct{})

	if err := netlink.RouteSubscribe(updates, done); err != nil {
		close(done)
		return nil, err
	}

	m := &Monitor{gen: gen, done: done}

	go func() {
		for range updates {
			// A notification does not tell us cheaply which family it
			// affects in every netlink build; bump both, which is always
			// safe (worst case one redundant re-resolution per family).
			m.gen.Bump(endpoint.FamilyV4)
			m.gen.Bump(endpoint.FamilyV6)
		}
	}()

	return m, nil
}

// Close unsubscribes from route-change notifications.
func (m *Monitor) Close() {
	close(m.done)
}
