package recorder

import (
	"errors"
	"io"

	"github.com/tandem-aerosol/tandemscan/internal/scan"
)

// Multi fans each point out to every sink. All sinks see every point even
// when an earlier one fails; the errors are joined.
type Multi []scan.Recorder

func (m Multi) Record(p scan.Point) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that is closable.
func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if c, ok := r.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
