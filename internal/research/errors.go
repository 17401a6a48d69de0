package research

import "errors"

// ErrResearchExhausted means an entire query batch yielded zero sources.
// It is non-fatal: the controller proceeds with whatever evidence exists.
var ErrResearchExhausted = errors.New("research exhausted: batch yielded no sources")

// ErrEmptyQuestion rejects a request before the run starts.
var ErrEmptyQuestion = errors.New("research request has an empty question")
