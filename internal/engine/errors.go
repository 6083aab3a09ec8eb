package engine

import "errors"

// ErrIllegalTransition is returned when a requested transition is not
// valid from the current mission status. State is unchanged.
var ErrIllegalTransition = errors.New("illegal mission transition")

// ErrNoRouteSelected is returned when start is requested with no route id
// and no route exists to fall back to.
var ErrNoRouteSelected = errors.New("no route selected")

// ErrRouteNotFound is returned when start names an unknown route id.
var ErrRouteNotFound = errors.New("route not found")
