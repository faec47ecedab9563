package instrument

import (
	"fmt"

	"github.com/tandem-aerosol/tandemscan/internal/transport"
)

// modelInfo carries the per-model transport defaults used when the run
// configuration leaves framing or port numbers unset.
type modelInfo struct {
	serial  transport.PortOptions
	tcpPort int // 0: no network transport on this model
}

var classifierModels = map[string]modelInfo{
	"cpma":     {serial: transport.PortOptions{BaudRate: 19200, DataBits: 8, StopBits: 1, Parity: "N"}, tcpPort: 23},
	"aac":      {serial: transport.PortOptions{BaudRate: 19200, DataBits: 8, StopBits: 1, Parity: "N"}, tcpPort: 23},
	"tsi-3080": {serial: transport.PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 1, Parity: "E"}},
	"tsi-3082": {tcpPort: 3602},
}

var counterModels = map[string]modelInfo{
	"cpc-cambustion": {serial: transport.PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, tcpPort: 23},
	"cpc-tsi-30xx":   {serial: transport.PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 1, Parity: "E"}},
	"cpc-tsi-377x":   {serial: transport.PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}},
	"cpc-tsi-375x":   {serial: transport.PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, tcpPort: 3603},
	"cpc-magic":      {serial: transport.PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}},
	"cpc-dummy":      {},
}

// NewClassifier builds the adapter for a classifier model tag.
func NewClassifier(model string, dialer transport.Dialer, flow FlowSettings) (Classifier, error) {
	switch model {
	case "cpma":
		return NewCPMA(dialer, flow), nil
	case "aac":
		return NewAAC(dialer, flow), nil
	case "tsi-3080":
		return NewTSI3080(dialer, flow), nil
	case "tsi-3082":
		return NewTSI3082(dialer, flow), nil
	default:
		return nil, fmt.Errorf("unknown classifier model %q", model)
	}
}

// NewCounter builds the adapter for a counter model tag.
func NewCounter(model string, dialer transport.Dialer) (Counter, error) {
	switch model {
	case "cpc-cambustion":
		return NewCambustionCPC(dialer), nil
	case "cpc-tsi-30xx":
		return NewTSI30xx(dialer), nil
	case "cpc-tsi-377x":
		return NewTSI377x(dialer), nil
	case "cpc-tsi-375x":
		return NewTSI375x(dialer), nil
	case "cpc-magic":
		return NewMagicCPC(dialer), nil
	case "cpc-dummy":
		return NewDummyCounter(), nil
	default:
		return nil, fmt.Errorf("unknown counter model %q", model)
	}
}

// SerialDefaults returns the factory serial framing for a model tag.
func SerialDefaults(model string) (transport.PortOptions, bool) {
	if info, ok := classifierModels[model]; ok {
		return info.serial, info.serial.BaudRate != 0
	}
	if info, ok := counterModels[model]; ok {
		return info.serial, info.serial.BaudRate != 0
	}
	return transport.PortOptions{}, false
}

// DefaultTCPPort returns the model's network port, or 0 when the model has
// no network transport.
func DefaultTCPPort(model string) int {
	if info, ok := classifierModels[model]; ok {
		return info.tcpPort
	}
	if info, ok := counterModels[model]; ok {
		return info.tcpPort
	}
	return 0
}

// IsClassifierModel reports whether the tag names a known classifier.
func IsClassifierModel(model string) bool {
	_, ok := classifierModels[model]
	return ok
}

// IsCounterModel reports whether the tag names a known counter.
func IsCounterModel(model string) bool {
	_, ok := counterModels[model]
	return ok
}
