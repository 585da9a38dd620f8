package domain

import "errors"

// Failure conditions raised while loading and merging gridded products.
// Callers wrap them with context and test with errors.Is.
var (
	// ErrCoordinatesNotFound means no latitude/longitude coordinate matched the known names.
	ErrCoordinatesNotFound = errors.New("latitude/longitude coordinates not found")

	// ErrTimeUnresolved means none of the time-extraction strategies succeeded for a granule.
	ErrTimeUnresolved = errors.New("could not determine time from dataset")

	// ErrTimeCoordinateNotFound means a temporal subset was requested on data without a time coordinate.
	ErrTimeCoordinateNotFound = errors.New("time coordinate not found")

	// ErrVariableNotFound means the requested variable is absent after load and subset.
	ErrVariableNotFound = errors.New("variable not found")

	// ErrNoGranules means a catalog search matched no files for a product and time range.
	ErrNoGranules = errors.New("no granules found")

	// ErrFillValueMissing means a variable has no declared fill value while one is required.
	ErrFillValueMissing = errors.New("fill value not declared")

	// ErrShape means arrays could not be combined because their dimensions disagree.
	ErrShape = errors.New("incompatible array shape")

	// ErrTransport means a catalog search, download or remote job failed.
	ErrTransport = errors.New("transport failure")
)
