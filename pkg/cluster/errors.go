package cluster

import "errors"

// Configuration errors
var (
	ErrInvalidNodeID  = errors.New("node ID cannot be empty")
	ErrInvalidCluster = errors.New("cluster name cannot be empty")
)

// Election errors
var (
	ErrNoReachableMaster = errors.New("no candidate master is reachable")
	ErrMonitorRunning    = errors.New("monitor already running")
)
