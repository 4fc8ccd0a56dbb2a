package transport

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// PortOptions describes the serial line parameters used when a sensor is
// attached over USB-CDC or RS-232. USB models ignore the bit rate but the
// host side still has to open the port with some mode.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// DefaultBaudRate is used when PortOptions.BaudRate is unset. USB-CDC URG
// models ignore the host bit rate; RS-232 models boot at 19200 and must be
// switched to 115200 with SS before this default applies to them.
const DefaultBaudRate = 115200

// baudRates are the rates the SS command can select on RS-232 models.
var baudRates = map[int]bool{
	19200: true, 38400: true, 57600: true, 115200: true,
	250000: true, 500000: true, 750000: true,
}

var parityNames = map[string]string{
	"": "N", "N": "N", "NONE": "N",
	"E": "E", "EVEN": "E",
	"O": "O", "ODD": "O",
}

// Normalize validates the options and applies defaults for any unset values.
// SCIP is 7-bit ASCII, so 7 or 8 data bits are accepted.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	switch {
	case opts.BaudRate <= 0:
		opts.BaudRate = DefaultBaudRate
	case !baudRates[opts.BaudRate]:
		return opts, fmt.Errorf("unsupported baud rate %d for a SCIP sensor", opts.BaudRate)
	}

	switch opts.DataBits {
	case 0:
		opts.DataBits = 8
	case 7, 8:
	default:
		return opts, fmt.Errorf("invalid data bits %d: SCIP needs 7 or 8", opts.DataBits)
	}

	switch opts.StopBits {
	case 0:
		opts.StopBits = 1
	case 1, 2:
	default:
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity, ok := parityNames[strings.TrimSpace(strings.ToUpper(opts.Parity))]
	if !ok {
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the port options into the serial.Mode structure
// required by go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}

	return mode, nil
}
