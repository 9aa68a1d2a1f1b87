package buddy

import "errors"

var (
	// ErrOutOfMemory indicates that no free chunk at or above the requested class exists.
	ErrOutOfMemory = errors.New("buddy: out of memory")

	// ErrAlreadyInitialized indicates a second Init on the same allocator.
	ErrAlreadyInitialized = errors.New("buddy: already initialized")

	// ErrNotInitialized indicates use of an allocator before Init.
	ErrNotInitialized = errors.New("buddy: not initialized")

	// ErrInvalidParams indicates unusable region, leaf size or alignment parameters.
	ErrInvalidParams = errors.New("buddy: invalid parameters")

	// ErrAlignment indicates an alignment that is not a power of two or exceeds MaxAlignment.
	ErrAlignment = errors.New("buddy: unsupported alignment")

	// ErrBadAddress indicates an address that cannot belong to a chunk of the given layout.
	ErrBadAddress = errors.New("buddy: bad chunk address")

	// ErrDoubleFree indicates freeing a chunk whose allocation bit is already clear.
	ErrDoubleFree = errors.New("buddy: chunk is not allocated")

	// ErrCorrupt indicates inconsistent bitmaps or free lists.
	ErrCorrupt = errors.New("buddy: allocator state corrupt")
)
