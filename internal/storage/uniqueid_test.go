package storage

import "testing"

func TestMACStringRoundTrip(t *testing.T) {
	mac := uint64(0x00212effff0a1b2c)
	s := MACToString(mac)
	if s != "00:21:2e:ff:ff:0a:1b:2c" {
		t.Fatalf("MACToString = %q", s)
	}
	back, ok := MACFromString(s)
	if !ok || back != mac {
		t.Fatalf("MACFromString(%q) = %x, %v", s, back, ok)
	}
}

func TestMACFromStringRejectsMalformed(t *testing.T) {
	for _, input := range []string{
		"", "00:11:22", "00:11:22:33:44:55:66:77:88",
		"zz:11:22:33:44:55:66:77",
	} {
		if _, ok := MACFromString(input); ok {
			t.Errorf("MACFromString(%q) accepted malformed input", input)
		}
	}
}

func TestUniqueID(t *testing.T) {
	mac := uint64(0x0011223344556677)
	withCluster := UniqueID(mac, 0x0b, 0x0406)
	if withCluster != "00:11:22:33:44:55:66:77-0b-0406" {
		t.Fatalf("UniqueID with cluster = %q", withCluster)
	}
	// 0xffff means "no cluster" and drops the third part.
	noCluster := UniqueID(mac, 0x0b, 0xffff)
	if noCluster != "00:11:22:33:44:55:66:77-0b" {
		t.Fatalf("UniqueID without cluster = %q", noCluster)
	}
}

func TestParseUniqueID(t *testing.T) {
	mac, ep, cluster, ok := ParseUniqueID("00:11:22:33:44:55:66:77-0b-0406")
	if !ok {
		t.Fatal("valid uniqueid rejected")
	}
	if mac != 0x0011223344556677 || ep != 0x0b || cluster != 0x0406 {
		t.Fatalf("parsed %x/%x/%x", mac, ep, cluster)
	}

	_, ep, cluster, ok = ParseUniqueID("00:11:22:33:44:55:66:77-02")
	if !ok || ep != 2 || cluster != 0xffff {
		t.Fatalf("cluster-less parse: ep=%x cluster=%x ok=%v", ep, cluster, ok)
	}

	for _, bad := range []string{
		"", "short", "00:11:22:33:44:55:66:77", "00:11:22:33:44:55:66:77-zz",
		"00:11:22:33:44:55:66:7x-01",
	} {
		if _, _, _, ok := ParseUniqueID(bad); ok {
			t.Errorf("ParseUniqueID(%q) accepted malformed input", bad)
		}
	}
}

func TestValidEndpoint(t *testing.T) {
	if validEndpoint(0) || validEndpoint(255) {
		t.Fatal("endpoint 0 and 255 are outside the application range")
	}
	if !validEndpoint(1) || !validEndpoint(254) {
		t.Fatal("endpoints 1 and 254 are inside the application range")
	}
}
