package chronodb

// Event describes a committed mutation
type Event struct {
	Op        Op      `json:"op"`
	ID        string  `json:"id"`
	Before    *Entity `json:"before,omitempty"`
	After     *Entity `json:"after,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// OnChange is a hook invoked synchronously after each successful mutation,
// in registration order. Hooks receive deep copies and may not observe the
// store mid-mutation.
type OnChange func(event Event)
