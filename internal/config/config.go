// Package config loads the YAML run description: which instruments are
// attached where, the sweep parameters for both classifiers, and where scan
// points are recorded.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tandem-aerosol/tandemscan/internal/instrument"
	"github.com/tandem-aerosol/tandemscan/internal/scan"
	"github.com/tandem-aerosol/tandemscan/internal/transport"
)

// Endpoint selects a transport for one instrument: a serial device path
// (with optional framing overrides) or a TCP host. Exactly one of Device
// and Host must be set. Serial framing and the TCP port default per model.
type Endpoint struct {
	Device string                `yaml:"device"`
	Serial transport.PortOptions `yaml:",inline"`
	Host   string                `yaml:"host"`
	Port   int                   `yaml:"port"`
}

func (e Endpoint) validate() error {
	switch {
	case e.Device == "" && e.Host == "":
		return fmt.Errorf("config: endpoint needs a serial device or a host")
	case e.Device != "" && e.Host != "":
		return fmt.Errorf("config: endpoint %q/%q: device and host are mutually exclusive", e.Device, e.Host)
	}
	return nil
}

// Dialer builds the transport for a model, filling serial framing and TCP
// port from the model's registry defaults where the config is silent.
func (e Endpoint) Dialer(model string) (transport.Dialer, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if e.Device != "" {
		opts := e.Serial
		if defaults, ok := instrument.SerialDefaults(model); ok {
			opts = opts.Merge(defaults)
		}
		norm, err := opts.Normalize()
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", e.Device, err)
		}
		return transport.SerialEndpoint{Path: e.Device, Options: norm}, nil
	}
	port := e.Port
	if port == 0 {
		port = instrument.DefaultTCPPort(model)
	}
	if port == 0 {
		return nil, fmt.Errorf("config: model %q has no default TCP port, set one", model)
	}
	return transport.TCPEndpoint{Host: e.Host, Port: port}, nil
}

// SweepSection holds one classifier's sweep parameters. Time values are in
// seconds.
type SweepSection struct {
	Start        float64 `yaml:"start"`
	End          float64 `yaml:"end"`
	PerDecade    float64 `yaml:"per-decade"`
	DelayS       float64 `yaml:"delay-s"`
	BypassBefore bool    `yaml:"bypass-before"`
	BypassAfter  bool    `yaml:"bypass-after"`
	SampleFlow   float64 `yaml:"sample-flow"`
	Resolution   float64 `yaml:"resolution"`
}

// ClassifierConfig converts the section into the planner's terms.
func (s SweepSection) ClassifierConfig() scan.ClassifierConfig {
	return scan.ClassifierConfig{
		Start:        s.Start,
		End:          s.End,
		PerDecade:    s.PerDecade,
		Delay:        secondsToDuration(s.DelayS),
		BypassBefore: s.BypassBefore,
		BypassAfter:  s.BypassAfter,
		SampleFlow:   s.SampleFlow,
		RorQsh:       s.Resolution,
	}
}

// FlowSettings extracts the adapter flow parameters.
func (s SweepSection) FlowSettings() instrument.FlowSettings {
	return instrument.FlowSettings{SampleFlow: s.SampleFlow, RorQsh: s.Resolution}
}

// ClassifierSection configures one classifier: its model, endpoint, and
// sweep parameters.
type ClassifierSection struct {
	Model    string       `yaml:"model"`
	Endpoint Endpoint     `yaml:"endpoint"`
	Sweep    SweepSection `yaml:"sweep"`
}

// CounterSection configures the particle counter. WindowS is the averaging
// window in seconds.
type CounterSection struct {
	Model    string   `yaml:"model"`
	Endpoint Endpoint `yaml:"endpoint"`
	WindowS  float64  `yaml:"window-s"`
}

// CounterConfig converts the section into the controller's terms.
func (s CounterSection) CounterConfig() scan.CounterConfig {
	return scan.CounterConfig{Window: secondsToDuration(s.WindowS)}
}

// BypassSection configures the optional valve controller. SettleS overrides
// the valve's stock five-second settle delay.
type BypassSection struct {
	Device  string  `yaml:"device"`
	SettleS float64 `yaml:"settle-s"`
}

// OutputSection selects the recorder sinks. Empty fields disable a sink.
type OutputSection struct {
	CSV    string `yaml:"csv"`
	SQLite string `yaml:"sqlite"`
}

// Config is the root of a run description file.
type Config struct {
	RunName     string            `yaml:"run-name"`
	Classifier1 ClassifierSection `yaml:"classifier1"`
	Classifier2 ClassifierSection `yaml:"classifier2"`
	Counter     CounterSection    `yaml:"counter"`
	Bypass      *BypassSection    `yaml:"bypass"`
	Outputs     OutputSection     `yaml:"outputs"`
}

// Load reads and validates a run description.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a run description. Unknown keys are errors so
// a typo cannot silently fall back to a default.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks model tags, endpoints, and sweep parameters. Plan
// coherence between the two classifiers is checked by scan.BuildPlan.
func (c *Config) Validate() error {
	for _, cl := range []struct {
		name string
		sec  ClassifierSection
	}{
		{"classifier1", c.Classifier1},
		{"classifier2", c.Classifier2},
	} {
		if !instrument.IsClassifierModel(cl.sec.Model) {
			return fmt.Errorf("config: %s: unknown classifier model %q", cl.name, cl.sec.Model)
		}
		if err := cl.sec.Endpoint.validate(); err != nil {
			return fmt.Errorf("config: %s: %w", cl.name, err)
		}
		if err := cl.sec.Sweep.ClassifierConfig().Validate(); err != nil {
			return fmt.Errorf("config: %s: %w", cl.name, err)
		}
	}
	if !instrument.IsCounterModel(c.Counter.Model) {
		return fmt.Errorf("config: counter: unknown counter model %q", c.Counter.Model)
	}
	// The dummy counter synthesizes readings and needs no endpoint.
	if c.Counter.Model != "cpc-dummy" {
		if err := c.Counter.Endpoint.validate(); err != nil {
			return fmt.Errorf("config: counter: %w", err)
		}
	}
	if err := c.Counter.CounterConfig().Validate(); err != nil {
		return fmt.Errorf("config: counter: %w", err)
	}
	if c.Bypass != nil && c.Bypass.Device == "" {
		return fmt.Errorf("config: bypass: serial device is required")
	}
	return nil
}

// BuildPlan generates the tandem plan from the two sweep sections.
func (c *Config) BuildPlan() (scan.Plan, error) {
	return scan.BuildPlan(
		c.Classifier1.Sweep.ClassifierConfig(),
		c.Classifier2.Sweep.ClassifierConfig(),
	)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
