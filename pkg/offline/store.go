package offline

// Store is the durable home of the pending action list. Implementations must
// persist the full list atomically; the queue always writes the whole slice.
type Store interface {
	Load() ([]Action, error)
	Save(actions []Action) error
}
