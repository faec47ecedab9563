package instrument

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tandem-aerosol/tandemscan/internal/transport"
)

// Cambustion instruments (CPMA, AAC, CPC) share a console-style protocol:
// replies end with a "\r\n>" prompt, successful commands answer "OK", serial
// links are woken with an EOT byte and network sessions are released with
// Ctrl-D on disconnect.
const (
	cambustionTimeout    = 3 * time.Second
	cambustionQueryDelay = 1800 * time.Millisecond
	cambustionPrompt     = "\r\n>"
)

type cambustion struct {
	*Client
	model    string
	banner   string
	isSerial bool
	isTCP    bool
}

func newCambustion(dialer transport.Dialer, model, banner string) cambustion {
	c := cambustion{
		Client: NewClient(dialer),
		model:  model,
		banner: banner,
	}
	c.SetTimeout(cambustionTimeout)
	c.SetQueryDelay(cambustionQueryDelay)
	c.SetReplySuffix(cambustionPrompt)

	switch dialer.(type) {
	case transport.SerialEndpoint:
		c.isSerial = true
	case transport.TCPEndpoint:
		c.isTCP = true
	}
	return c
}

func (c *cambustion) Model() string { return c.model }

// Connect opens the link, wakes a serial console, and checks the
// identification banner.
func (c *cambustion) Connect(ctx context.Context) error {
	if err := c.open(); err != nil {
		return err
	}
	if c.isSerial {
		// EOT prods the console into printing its banner and prompt.
		if err := c.sendRaw([]byte{0x04}); err != nil {
			return err
		}
	}

	reply, err := c.readReply(ctx)
	if err != nil {
		c.Close()
		return connectErr("%s: identification: %v", c.Endpoint(), err)
	}
	if !strings.HasPrefix(cleanPrompt(reply), c.banner) {
		c.Close()
		return connectErr("%s: expected %q banner, got %q", c.Endpoint(), c.banner, cleanPrompt(reply))
	}
	return nil
}

// Close releases a network console with Ctrl-D before dropping the link.
func (c *cambustion) Close() error {
	if c.isTCP && c.State() == Connected {
		c.sendRaw([]byte{'\r', '\n', 0x04})
		time.Sleep(50 * time.Millisecond)
	}
	return c.Client.Close()
}

// sendAndCheck issues a command and requires an "OK" reply.
func (c *cambustion) sendAndCheck(ctx context.Context, cmd string) error {
	reply, err := c.query(ctx, cmd)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(cleanPrompt(reply), "OK") {
		return fmt.Errorf("%w: %s: %q answered %q", ErrSetpointRejected, c.model, cmd, cleanPrompt(reply))
	}
	return nil
}

// sendFloat issues a command with a value in the instrument's exponential
// format, e.g. "SetMass 1.2340E+00".
func (c *cambustion) sendFloat(ctx context.Context, cmd string, v float64) error {
	return c.sendAndCheck(ctx, fmt.Sprintf("%s %0.4E", cmd, v))
}

// cleanPrompt drops stray prompt characters echoed mid-reply.
func cleanPrompt(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, ">", ""))
}

// CPMA is the Cambustion Centrifugal Particle Mass Analyser. Setpoints are
// particle mass in femtograms; sweep resolution is the Rm value.
type CPMA struct {
	cambustion
	flow FlowSettings
}

// NewCPMA builds a CPMA adapter. flow.RorQsh is the Rm resolution.
func NewCPMA(dialer transport.Dialer, flow FlowSettings) *CPMA {
	return &CPMA{
		cambustion: newCambustion(dialer, "cpma", "Cambustion CPMA"),
		flow:       flow,
	}
}

func (c *CPMA) Prepare(ctx context.Context) error {
	if err := c.sendFloat(ctx, "SetSampleFlow", c.flow.SampleFlow); err != nil {
		return err
	}
	if err := c.sendFloat(ctx, "SetRm", c.flow.RorQsh); err != nil {
		return err
	}
	return c.sendAndCheck(ctx, "start")
}

func (c *CPMA) SetSetpoint(ctx context.Context, mass float64) error {
	return c.sendFloat(ctx, "SetMass", mass)
}

func (c *CPMA) Ready(ctx context.Context) (bool, error) {
	reply, err := c.query(ctx, "Status")
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(cleanPrompt(reply), "Running"), nil
}

func (c *CPMA) Stop(ctx context.Context) error {
	return c.sendAndCheck(ctx, "stop")
}

// AAC is the Cambustion Aerodynamic Aerosol Classifier. Setpoints are
// aerodynamic diameter in nanometres; the sweep is parameterised by sheath
// flow.
type AAC struct {
	cambustion
	flow FlowSettings
}

// NewAAC builds an AAC adapter. flow.RorQsh is the sheath flow in lpm.
func NewAAC(dialer transport.Dialer, flow FlowSettings) *AAC {
	return &AAC{
		cambustion: newCambustion(dialer, "aac", "Cambustion AAC"),
		flow:       flow,
	}
}

func (c *AAC) Prepare(ctx context.Context) error {
	if err := c.sendFloat(ctx, "SetSampleFlow", c.flow.SampleFlow); err != nil {
		return err
	}
	if err := c.sendFloat(ctx, "SetSheath", c.flow.RorQsh); err != nil {
		return err
	}
	return c.sendAndCheck(ctx, "start")
}

func (c *AAC) SetSetpoint(ctx context.Context, diameter float64) error {
	return c.sendFloat(ctx, "SetSize", diameter)
}

func (c *AAC) Ready(ctx context.Context) (bool, error) {
	reply, err := c.query(ctx, "Status")
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(cleanPrompt(reply), "Running"), nil
}

func (c *AAC) Stop(ctx context.Context) error {
	return c.sendAndCheck(ctx, "stop")
}

// CambustionCPC is the Cambustion 5210 particle counter. Concentration is
// read with the GCS command.
type CambustionCPC struct {
	cambustion
	pollInterval time.Duration
}

// NewCambustionCPC builds the counter adapter.
func NewCambustionCPC(dialer transport.Dialer) *CambustionCPC {
	c := &CambustionCPC{
		cambustion:   newCambustion(dialer, "cpc-cambustion", "Cambustion CPC"),
		pollInterval: time.Second,
	}
	c.SetQueryDelay(100 * time.Millisecond)
	return c
}

// SetPollInterval overrides the sampling cadence within an averaging window.
func (c *CambustionCPC) SetPollInterval(d time.Duration) { c.pollInterval = d }

func (c *CambustionCPC) ReadAveraged(ctx context.Context, window time.Duration) (float64, error) {
	return averageSamples(ctx, window, c.pollInterval, func(ctx context.Context) (float64, error) {
		reply, err := c.query(ctx, "GCS")
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(cleanPrompt(reply), 64)
		if err != nil {
			return 0, commsErr("%s: malformed concentration %q", c.model, cleanPrompt(reply))
		}
		return v, nil
	})
}
