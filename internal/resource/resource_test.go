package resource

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Descriptor
	}{
		{
			name: "tcpip socket",
			in:   "TCPIP::192.168.1.50::5025::SOCKET",
			want: Descriptor{Interface: TCPIP, Host: "192.168.1.50", Port: 5025, IsSocket: true, SecondaryAddr: -1},
		},
		{
			name: "tcpip instr",
			in:   "TCPIP::192.168.1.50::INSTR",
			want: Descriptor{Interface: TCPIP, Host: "192.168.1.50", Port: PortVXI11, DeviceName: "inst0", SecondaryAddr: -1},
		},
		{
			name: "tcpip host only",
			in:   "TCPIP::myoscilloscope.local",
			want: Descriptor{Interface: TCPIP, Host: "myoscilloscope.local", Port: PortVXI11, DeviceName: "inst0", SecondaryAddr: -1},
		},
		{
			name: "tcpip with board",
			in:   "TCPIP2::10.0.0.1::INSTR",
			want: Descriptor{Interface: TCPIP, Board: 2, Host: "10.0.0.1", Port: PortVXI11, DeviceName: "inst0", SecondaryAddr: -1},
		},
		{
			name: "tcpip hislip",
			in:   "TCPIP::192.168.1.50::hislip0",
			want: Descriptor{Interface: TCPIP, Host: "192.168.1.50", Port: PortHiSLIP, IsHiSLIP: true, DeviceName: "hislip0", SecondaryAddr: -1},
		},
		{
			name: "tcpip device name",
			in:   "TCPIP::192.168.1.50::inst0::INSTR",
			want: Descriptor{Interface: TCPIP, Host: "192.168.1.50", Port: PortVXI11, DeviceName: "inst0", SecondaryAddr: -1},
		},
		{
			name: "usb",
			in:   "USB::0x1234::0x5678::MY_SERIAL::INSTR",
			want: Descriptor{Interface: USB, VendorID: 0x1234, ProductID: 0x5678, SerialNum: "MY_SERIAL", SecondaryAddr: -1},
		},
		{
			name: "asrl",
			in:   "ASRL3::INSTR",
			want: Descriptor{Interface: ASRL, ComPort: 3, SecondaryAddr: -1},
		},
		{
			name: "gpib",
			in:   "GPIB0::22::INSTR",
			want: Descriptor{Interface: GPIB, PrimaryAddr: 22, SecondaryAddr: -1},
		},
		{
			name: "gpib secondary",
			in:   "GPIB::1::2::INSTR",
			want: Descriptor{Interface: GPIB, PrimaryAddr: 1, SecondaryAddr: 2},
		},
		{
			name: "case insensitive",
			in:   "tcpip::192.168.1.1::INSTR",
			want: Descriptor{Interface: TCPIP, Host: "192.168.1.1", Port: PortVXI11, DeviceName: "inst0", SecondaryAddr: -1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.in)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tc.in, err)
			}
			tc.want.Raw = tc.in
			if got != tc.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("FOOBAR::something"); err == nil {
		t.Fatal("expected error for unrecognized prefix")
	}
}

func TestFormatRoundTrip(t *testing.T) {
	inputs := []string{
		"TCPIP::192.168.1.50::5025::SOCKET",
		"TCPIP::192.168.1.50::inst0::INSTR",
		"ASRL3::INSTR",
		"GPIB::1::2::INSTR",
	}
	for _, in := range inputs {
		d, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		d2, err := Parse(d.Format())
		if err != nil {
			t.Fatalf("Parse(Format(%q)) = %q: %v", in, d.Format(), err)
		}
		if d2.Interface != d.Interface || d2.Host != d.Host {
			t.Fatalf("round trip mismatch: %q -> %q -> %+v", in, d.Format(), d2)
		}
	}
}
