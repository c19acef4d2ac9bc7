package vector

import "fmt"

// NotFoundError reports a query against a collection that was never
// registered. It is distinct from an empty result.
type NotFoundError struct {
	Collection string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("collection %q not found", e.Collection)
}

// DimensionError reports a vector whose dimension does not match the
// collection's registered dimension.
type DimensionError struct {
	Collection string
	Want       int
	Got        int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("collection %q expects dimension %d, got %d", e.Collection, e.Want, e.Got)
}
