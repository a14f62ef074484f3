package journal

import "errors"

var (
	// ErrCorrupted indicates unreadable journal content: a bad frame, a
	// checksum mismatch, an unknown entry kind or a gap in sequence numbers.
	ErrCorrupted = errors.New("journal corrupted")

	// ErrNotReplayed is returned by write operations issued before Replay.
	ErrNotReplayed = errors.New("journal has not been replayed")

	// ErrAlreadyReplayed is returned when Replay is called twice.
	ErrAlreadyReplayed = errors.New("journal already replayed")

	// ErrIteratorExhausted is returned by Next on a finished iterator.
	ErrIteratorExhausted = errors.New("iterator exhausted")

	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("journal closed")
)
