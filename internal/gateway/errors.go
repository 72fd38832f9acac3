package gateway

import "fmt"

// NotFoundError marks a subdir fetch that 404'd. The gateway treats this as
// a non-fatal empty subdir unless the platform is "noarch".
type NotFoundError struct {
	Channel, Platform string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("gateway: subdir not found: %s/%s", e.Channel, e.Platform)
}

// CoalescedFailureError is returned to every waiter subscribed to a
// pending subdir load when the load fails with anything other than a
// non-noarch 404, including a loader panic, which the gateway recovers and
// converts to this error.
type CoalescedFailureError struct {
	Channel, Platform string
	Cause             error
}

func (e *CoalescedFailureError) Error() string {
	return fmt.Sprintf("gateway: coalesced load for %s/%s failed: %v", e.Channel, e.Platform, e.Cause)
}

func (e *CoalescedFailureError) Unwrap() error { return e.Cause }
