package instrument

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/tandem-aerosol/tandemscan/internal/transport"
)

// averageSamples runs one sample per interval until the window is covered
// and returns the mean. The call blocks for approximately the window.
func averageSamples(ctx context.Context, window, interval time.Duration, sample func(context.Context) (float64, error)) (float64, error) {
	if interval <= 0 {
		interval = time.Second
	}
	n := int(window / interval)
	if n < 1 {
		n = 1
	}

	var sum float64
	for i := 0; i < n; i++ {
		v, err := sample(ctx)
		if err != nil {
			return 0, err
		}
		sum += v
		if i < n-1 {
			if err := sleepCtx(ctx, interval); err != nil {
				return 0, err
			}
		}
	}
	return sum / float64(n), nil
}

// MagicCPC drives the Aerosol Devices MAGIC water-based counter. The device
// streams log lines once polling is enabled with "log,1"; concentration is
// the second comma-separated field.
type MagicCPC struct {
	*Client
	pollInterval time.Duration
}

// NewMagicCPC builds the adapter. The MAGIC is serial-only at 115200 8N1.
func NewMagicCPC(dialer transport.Dialer) *MagicCPC {
	c := &MagicCPC{
		Client:       NewClient(dialer),
		pollInterval: time.Second,
	}
	c.SetQueryDelay(100 * time.Millisecond)
	return c
}

func (c *MagicCPC) Model() string { return "cpc-magic" }

// SetPollInterval overrides the sampling cadence within an averaging window.
func (c *MagicCPC) SetPollInterval(d time.Duration) { c.pollInterval = d }

// Connect opens the port and checks that the device produces a well-formed
// log line.
func (c *MagicCPC) Connect(ctx context.Context) error {
	if err := c.open(); err != nil {
		return err
	}
	if err := c.send("log,1"); err != nil {
		return err
	}
	line, err := c.readReply(ctx)
	c.send("log,0")
	if err != nil {
		c.Close()
		return connectErr("%s: no log stream: %v", c.Endpoint(), err)
	}
	if len(strings.Split(line, ",")) < 2 {
		c.Close()
		return connectErr("%s: malformed log line %q", c.Endpoint(), line)
	}
	return nil
}

func (c *MagicCPC) ReadAveraged(ctx context.Context, window time.Duration) (float64, error) {
	if err := c.send("log,1"); err != nil {
		return 0, err
	}
	defer c.send("log,0")

	return averageSamples(ctx, window, c.pollInterval, func(ctx context.Context) (float64, error) {
		line, err := c.readReply(ctx)
		if err != nil {
			return 0, err
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			return 0, commsErr("cpc-magic: malformed log line %q", line)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return 0, commsErr("cpc-magic: malformed concentration %q", fields[1])
		}
		return v, nil
	})
}

// DummyCounter produces synthetic concentration readings for dry runs with
// no counter attached. It still honours the averaging window so scan timing
// is representative.
type DummyCounter struct {
	state ConnState
}

// NewDummyCounter builds the stand-in counter.
func NewDummyCounter() *DummyCounter { return &DummyCounter{} }

func (d *DummyCounter) Model() string { return "cpc-dummy" }

func (d *DummyCounter) Connect(ctx context.Context) error {
	d.state = Connected
	return nil
}

func (d *DummyCounter) Close() error {
	d.state = Disconnected
	return nil
}

func (d *DummyCounter) State() ConnState { return d.state }

func (d *DummyCounter) ReadAveraged(ctx context.Context, window time.Duration) (float64, error) {
	if err := sleepCtx(ctx, window); err != nil {
		return 0, err
	}
	return rand.Float64() * 1000.0, nil
}
