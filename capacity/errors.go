package capacity

import "errors"

// ErrCapacityBelowMinimum is returned by Config.Validate (and hence
// Configure/Reconfigure) when a nonzero total capacity falls below the
// configured minimum.
var ErrCapacityBelowMinimum = errors.New("capacity: total I/O capacity below minimum")
