package ports

// ConnectivityPort reports whether the remote store is reachable and fans out
// transitions to subscribers. The queue subscribes so an offline-to-online
// transition triggers a drain without polling.
type ConnectivityPort interface {
	// Online reports the current connectivity state.
	Online() bool

	// Subscribe registers a callback invoked on every state transition with
	// the new state. The returned function removes the subscription; it is
	// safe to call more than once.
	Subscribe(fn func(online bool)) (unsubscribe func())
}
