package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a producer goroutine blocked on a message channel whose
// contents are no longer wanted (e.g. a session being torn down).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
