package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.bug.st/serial"
)

type fakePort struct {
	read        *bytes.Buffer
	written     bytes.Buffer
	readTimeout time.Duration
	closed      bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.read.Len() == 0 {
		return 0, nil // go.bug.st/serial signals timeout this way
	}
	return p.read.Read(b)
}
func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *fakePort) Close() error                { p.closed = true; return nil }
func (p *fakePort) SetReadTimeout(d time.Duration) error {
	p.readTimeout = d
	return nil
}

func TestPortOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"even parity word", PortOptions{BaudRate: 19200, Parity: "even"}, PortOptions{BaudRate: 19200, DataBits: 8, StopBits: 1, Parity: "E"}, false},
		{"seven data bits", PortOptions{BaudRate: 750000, DataBits: 7}, PortOptions{BaudRate: 750000, DataBits: 7, StopBits: 1, Parity: "N"}, false},
		{"bad data bits", PortOptions{DataBits: 9}, PortOptions{}, true},
		{"six data bits", PortOptions{DataBits: 6}, PortOptions{}, true},
		{"unsupported baud rate", PortOptions{BaudRate: 9600}, PortOptions{}, true},
		{"bad stop bits", PortOptions{StopBits: 3}, PortOptions{}, true},
		{"bad parity", PortOptions{Parity: "mark"}, PortOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%+v) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%+v): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{StopBits: 2, Parity: "O"}.SerialMode()
	if err != nil {
		t.Fatal(err)
	}
	if mode.StopBits != serial.TwoStopBits || mode.Parity != serial.OddParity || mode.BaudRate != DefaultBaudRate {
		t.Errorf("SerialMode() = %+v", mode)
	}

	mode, err = PortOptions{}.SerialMode()
	if err != nil {
		t.Fatal(err)
	}
	if mode.StopBits != serial.OneStopBit || mode.Parity != serial.NoParity {
		t.Errorf("default SerialMode() = %+v", mode)
	}
}

func TestSerial_SendReceive(t *testing.T) {
	port := &fakePort{read: bytes.NewBufferString("VV\n00P\n\n")}
	var openedPath string
	factory := NewSerialWithOpener(PortOptions{}, func(path string, mode *serial.Mode) (SerialPorter, error) {
		openedPath = path
		return port, nil
	})

	tr := factory()
	if err := tr.Connect(context.Background(), "/dev/ttyACM0", 250*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if openedPath != "/dev/ttyACM0" || port.readTimeout != 250*time.Millisecond {
		t.Errorf("opened %q with timeout %v", openedPath, port.readTimeout)
	}

	if _, err := tr.Send([]byte("VV\n")); err != nil {
		t.Fatal(err)
	}
	if port.written.String() != "VV\n" {
		t.Errorf("written = %q", port.written.String())
	}

	got, err := tr.Receive(64)
	if err != nil || string(got) != "VV\n00P\n\n" {
		t.Errorf("Receive = %q, %v", got, err)
	}

	_, err = tr.Receive(64)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Receive on drained port error = %v, want ErrTimeout", err)
	}

	if err := tr.Close(); err != nil || !port.closed {
		t.Errorf("Close() = %v, closed = %v", err, port.closed)
	}
}

func TestSerial_OpenError(t *testing.T) {
	want := errors.New("no such device")
	tr := NewSerialWithOpener(PortOptions{}, func(string, *serial.Mode) (SerialPorter, error) {
		return nil, want
	})()
	if err := tr.Connect(context.Background(), "/dev/ttyACM9", time.Second); !errors.Is(err, want) {
		t.Errorf("Connect error = %v, want %v", err, want)
	}
	if _, err := tr.Send([]byte("BM\n")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after failed connect = %v", err)
	}
}
