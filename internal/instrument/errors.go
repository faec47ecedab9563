package instrument

import (
	"errors"
	"fmt"
)

var (
	// ErrConnect reports an unreachable endpoint or an identification
	// mismatch during Connect.
	ErrConnect = errors.New("connect failed")

	// ErrComms reports a timeout or transport failure mid-protocol.
	ErrComms = errors.New("communication failure")

	// ErrSetpointRejected reports a device-side refusal of a commanded value.
	ErrSetpointRejected = errors.New("setpoint rejected")
)

func connectErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConnect, fmt.Sprintf(format, args...))
}

func commsErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrComms, fmt.Sprintf(format, args...))
}
