package timeouts

import "time"

const (
	// Probe bounds a single liveness check against the backend.
	Probe         = 300 * time.Millisecond
	SecondShort   = 2 * time.Second
	SecondDefault = 10 * time.Second
	// SecondLong is the fallback wait for a freshly spawned backend.
	SecondLong = 30 * time.Second
)
