package instrument

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tandem-aerosol/tandemscan/internal/transport"
)

// TSI instruments answer each command with a single CR/LF-terminated line
// and report refusals with an "ERROR"-prefixed reply.

type tsi struct {
	*Client
	model string
}

func newTSI(dialer transport.Dialer, model string) tsi {
	c := tsi{Client: NewClient(dialer), model: model}
	c.SetQueryDelay(100 * time.Millisecond)
	return c
}

func (c *tsi) Model() string { return c.model }

// sendChecked issues a command and fails if the device answers an error
// frame.
func (c *tsi) sendChecked(ctx context.Context, cmd string) error {
	reply, err := c.query(ctx, cmd)
	if err != nil {
		return err
	}
	if strings.HasPrefix(strings.TrimSpace(reply), "ERROR") {
		return fmt.Errorf("%w: %s: %q answered %q", ErrSetpointRejected, c.model, cmd, reply)
	}
	return nil
}

// sendFloat appends the value in the fixed one-decimal format TSI firmware
// expects, with no separator beyond what cmd itself carries.
func (c *tsi) sendFloat(ctx context.Context, cmd string, v float64) error {
	return c.sendChecked(ctx, fmt.Sprintf("%s%0.1f", cmd, v))
}

// queryFloat issues a command whose reply is a bare number.
func (c *tsi) queryFloat(ctx context.Context, cmd string) (float64, error) {
	reply, err := c.query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return 0, commsErr("%s: malformed numeric reply %q to %s", c.model, reply, cmd)
	}
	return v, nil
}

// TSI3080 is the TSI 3080 electrostatic classifier (3081 DMA column),
// reached over its serial console at 9600 7E1.
type TSI3080 struct {
	tsi
	flow FlowSettings
}

// NewTSI3080 builds the adapter. flow.RorQsh is the sheath flow in lpm.
func NewTSI3080(dialer transport.Dialer, flow FlowSettings) *TSI3080 {
	return &TSI3080{tsi: newTSI(dialer, "tsi-3080"), flow: flow}
}

// Connect opens the link and probes the status flags. The 3080 has no
// identification banner; an intelligible RFL reply stands in for one.
func (c *TSI3080) Connect(ctx context.Context) error {
	if err := c.open(); err != nil {
		return err
	}
	reply, err := c.query(ctx, "RFL")
	if err != nil {
		c.Close()
		return connectErr("%s: status probe: %v", c.Endpoint(), err)
	}
	if len(strings.Split(strings.TrimSpace(reply), ",")) != 3 {
		c.Close()
		return connectErr("%s: unexpected RFL reply %q", c.Endpoint(), reply)
	}
	return nil
}

// Prepare sets the sheath flow. The 3080 controls sample flow mechanically,
// so only the sheath setpoint is commanded.
func (c *TSI3080) Prepare(ctx context.Context) error {
	return c.sendFloat(ctx, "SQS", c.flow.RorQsh)
}

func (c *TSI3080) SetSetpoint(ctx context.Context, diameter float64) error {
	return c.sendFloat(ctx, "SPD", diameter)
}

// Ready checks the flow/voltage/pressure status flags.
func (c *TSI3080) Ready(ctx context.Context) (bool, error) {
	reply, err := c.query(ctx, "RFL")
	if err != nil {
		return false, err
	}
	s := strings.TrimSpace(reply)
	return strings.HasPrefix(s, "1,1,1") || strings.HasPrefix(s, "1,0,1"), nil
}

func (c *TSI3080) Stop(ctx context.Context) error { return nil }

// tsi3082Tolerance is the relative deviation between setpoint and measured
// sheath flow / HV below which the column is considered settled.
const tsi3082Tolerance = 0.05

// TSI3082 is the TSI 3082 electrostatic classifier, reached over TCP.
type TSI3082 struct {
	tsi
	flow FlowSettings
}

// NewTSI3082 builds the adapter. flow.RorQsh is the sheath flow in lpm.
func NewTSI3082(dialer transport.Dialer, flow FlowSettings) *TSI3082 {
	return &TSI3082{tsi: newTSI(dialer, "tsi-3082"), flow: flow}
}

// Connect opens the link and probes the measured sheath flow as an
// identification stand-in.
func (c *TSI3082) Connect(ctx context.Context) error {
	if err := c.open(); err != nil {
		return err
	}
	if _, err := c.queryFloat(ctx, "RMSHFLOW"); err != nil {
		c.Close()
		return connectErr("%s: sheath flow probe: %v", c.Endpoint(), err)
	}
	return nil
}

func (c *TSI3082) Prepare(ctx context.Context) error {
	// Positive column polarity selects negatively charged particles.
	if err := c.sendChecked(ctx, "WSHVPOL 0"); err != nil {
		return err
	}
	if err := c.sendFloat(ctx, "WSAEROSOLFLOW ", c.flow.SampleFlow); err != nil {
		return err
	}
	return c.sendFloat(ctx, "WSSHFLOW ", c.flow.RorQsh)
}

func (c *TSI3082) SetSetpoint(ctx context.Context, diameter float64) error {
	return c.sendFloat(ctx, "WSPARTICLEDIAM ", diameter)
}

// Ready compares sheath flow and HV setpoints against their measured
// values; the 3082 has no single status command.
func (c *TSI3082) Ready(ctx context.Context) (bool, error) {
	ss, err := c.queryFloat(ctx, "RSSHFLOW")
	if err != nil {
		return false, err
	}
	sm, err := c.queryFloat(ctx, "RMSHFLOW")
	if err != nil {
		return false, err
	}
	vs, err := c.queryFloat(ctx, "RSHV")
	if err != nil {
		return false, err
	}
	vm, err := c.queryFloat(ctx, "RMHV")
	if err != nil {
		return false, err
	}
	if ss == 0 || vs == 0 {
		return false, nil
	}
	return math.Abs((ss-sm)/ss) < tsi3082Tolerance && math.Abs((vs-vm)/vs) < tsi3082Tolerance, nil
}

func (c *TSI3082) Stop(ctx context.Context) error { return nil }

// tsiCPC is the concentration-read core shared by the TSI counter family.
type tsiCPC struct {
	tsi
	pollInterval time.Duration
}

func newTSICPC(dialer transport.Dialer, model string) tsiCPC {
	return tsiCPC{tsi: newTSI(dialer, model), pollInterval: time.Second}
}

// SetPollInterval overrides the sampling cadence within an averaging window.
func (c *tsiCPC) SetPollInterval(d time.Duration) { c.pollInterval = d }

// Connect opens the link and probes a concentration read.
func (c *tsiCPC) Connect(ctx context.Context) error {
	if err := c.open(); err != nil {
		return err
	}
	if _, err := c.queryFloat(ctx, "RD"); err != nil {
		c.Close()
		return connectErr("%s: concentration probe: %v", c.Endpoint(), err)
	}
	return nil
}

func (c *tsiCPC) ReadAveraged(ctx context.Context, window time.Duration) (float64, error) {
	return averageSamples(ctx, window, c.pollInterval, func(ctx context.Context) (float64, error) {
		return c.queryFloat(ctx, "RD")
	})
}

// TSI30xx covers the 3022/3025 counters (serial 9600 7E1).
type TSI30xx struct{ tsiCPC }

// NewTSI30xx builds the adapter.
func NewTSI30xx(dialer transport.Dialer) *TSI30xx {
	return &TSI30xx{newTSICPC(dialer, "cpc-tsi-30xx")}
}

// TSI377x covers the 3775/3776 counters (serial 115200 8N1).
type TSI377x struct{ tsiCPC }

// NewTSI377x builds the adapter.
func NewTSI377x(dialer transport.Dialer) *TSI377x {
	return &TSI377x{newTSICPC(dialer, "cpc-tsi-377x")}
}

// TSI375x covers the 3750/3752 counters, reachable over serial or TCP.
type TSI375x struct{ tsiCPC }

// NewTSI375x builds the adapter.
func NewTSI375x(dialer transport.Dialer) *TSI375x {
	return &TSI375x{newTSICPC(dialer, "cpc-tsi-375x")}
}
