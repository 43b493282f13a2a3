package flow

import "testing"

func TestTupleReverseSwapsDirection(t *testing.T) {
	tp := Tuple{SrcIP: 1, DstIP: 2, SrcPort: 10, DstPort: 20, Protocol: ProtoTCP}
	rev := tp.Reverse()

	if rev.SrcIP != tp.DstIP || rev.DstIP != tp.SrcIP {
		t.Errorf("Reverse did not swap IPs: got %+v", rev)
	}
	if rev.SrcPort != tp.DstPort || rev.DstPort != tp.SrcPort {
		t.Errorf("Reverse did not swap ports: got %+v", rev)
	}
	if rev.Reverse() != tp {
		t.Errorf("Reverse is not its own inverse: got %+v, want %+v", rev.Reverse(), tp)
	}
}

func TestParseIPv4RoundTripsThroughString(t *testing.T) {
	cases := []string{"192.168.0.1", "8.8.8.8", "0.0.0.0", "255.255.255.255"}
	for _, s := range cases {
		ip, err := ParseIPv4(s)
		if err != nil {
			t.Fatalf("ParseIPv4(%q): %v", s, err)
		}
		if got := ipString(ip); got != s {
			t.Errorf("ParseIPv4(%q) -> ipString = %q, want %q", s, got, s)
		}
	}
}

func TestParseIPv4RejectsGarbage(t *testing.T) {
	for _, s := range []string{"not an ip", "1.2.3", "1.2.3.4.5", "999.1.1.1"} {
		if _, err := ParseIPv4(s); err == nil {
			t.Errorf("ParseIPv4(%q): expected error, got none", s)
		}
	}
}

func TestTupleStringFormat(t *testing.T) {
	ip1, _ := ParseIPv4("10.0.0.1")
	ip2, _ := ParseIPv4("10.0.0.2")
	tp := Tuple{SrcIP: ip1, DstIP: ip2, SrcPort: 1111, DstPort: 443, Protocol: ProtoTCP}

	want := "10.0.0.1:1111->10.0.0.2:443/tcp"
	if got := tp.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	tp.Protocol = ProtoUDP
	if got := tp.String(); got != "10.0.0.1:1111->10.0.0.2:443/udp" {
		t.Errorf("String() for UDP = %q", got)
	}

	tp.Protocol = 99
	if got := tp.String(); got != "10.0.0.1:1111->10.0.0.2:443/?" {
		t.Errorf("String() for unknown protocol = %q", got)
	}
}

func TestDirectedTuplesAreDistinct(t *testing.T) {
	ip1, _ := ParseIPv4("1.1.1.1")
	ip2, _ := ParseIPv4("2.2.2.2")
	a := Tuple{SrcIP: ip1, DstIP: ip2, SrcPort: 1, DstPort: 2, Protocol: ProtoTCP}
	b := a.Reverse()

	if a == b {
		t.Error("a directed tuple and its reverse compared equal; flow tracking depends on them being distinct")
	}
}
