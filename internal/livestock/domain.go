// Package livestock reads the live per-vehicle inventory balances kept
// by the loading and receiving flows. The reconciliation engine uses it
// only as the carry-forward fallback when a vehicle has no usable stock
// day history.
package livestock

import "time"

// Entry is one product's current balance on a vehicle.
type Entry struct {
	VehicleID int64
	ProductID int64
	Qty       float64
	Unit      string
	AsOf      time.Time
}
