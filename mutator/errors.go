package mutator

import "errors"

// Error taxonomy for a single operation (§4.6, §7). A failing operation is
// logged and skipped — the batch always continues (see Apply).
var (
	ErrMissingNode       = errors.New("mutator: missing node")
	ErrMissingParent     = errors.New("mutator: missing parent")
	ErrNotAnElement      = errors.New("mutator: not an element")
	ErrNotCharacterData  = errors.New("mutator: not character data")
	ErrIndexOutOfBounds  = errors.New("mutator: index out of bounds")
	ErrNegativeIndex     = errors.New("mutator: negative index")
)
