package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// macPrefixLen is the length of the colon separated MAC prefix of a
// uniqueid ("aa:bb:cc:dd:ee:ff:gg:hh"). Joins against the devices table
// use this prefix as the canonical key.
const macPrefixLen = 23

// MACToString renders an extended 64-bit address in the colon separated
// form used throughout uniqueids.
func MACToString(mac uint64) string {
	var b strings.Builder
	b.Grow(macPrefixLen)
	for i := 7; i >= 0; i-- {
		if i != 7 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%02x", byte(mac>>(uint(i)*8)))
	}
	return b.String()
}

// MACFromString parses the colon separated MAC prefix back into its
// numeric form. Returns false on malformed input.
func MACFromString(s string) (uint64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 8 {
		return 0, false
	}
	var mac uint64
	for _, part := range parts {
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return 0, false
		}
		mac = mac<<8 | v
	}
	return mac, true
}

// UniqueID builds the canonical sub-device identifier
// "<mac>-<endpoint>[-<cluster>]". A cluster of 0xffff means "no cluster".
func UniqueID(mac uint64, endpoint uint8, cluster uint16) string {
	if cluster == 0xffff {
		return fmt.Sprintf("%s-%02x", MACToString(mac), endpoint)
	}
	return fmt.Sprintf("%s-%02x-%04x", MACToString(mac), endpoint, cluster)
}

// ParseUniqueID splits a uniqueid into its MAC, endpoint and optional
// cluster parts. The cluster is 0xffff when absent. Returns false for
// identifiers that do not carry a valid MAC prefix or endpoint.
func ParseUniqueID(uniqueid string) (mac uint64, endpoint uint8, cluster uint16, ok bool) {
	cluster = 0xffff
	if len(uniqueid) < macPrefixLen+3 {
		return 0, 0, cluster, false
	}
	mac, ok = MACFromString(uniqueid[:macPrefixLen])
	if !ok || uniqueid[macPrefixLen] != '-' {
		return 0, 0, cluster, false
	}
	rest := uniqueid[macPrefixLen+1:]
	epPart := rest
	if idx := strings.IndexByte(rest, '-'); idx >= 0 {
		epPart = rest[:idx]
		cl, err := strconv.ParseUint(rest[idx+1:], 16, 16)
		if err != nil {
			return 0, 0, 0xffff, false
		}
		cluster = uint16(cl)
	}
	ep, err := strconv.ParseUint(epPart, 16, 8)
	if err != nil {
		return 0, 0, 0xffff, false
	}
	return mac, uint8(ep), cluster, true
}

// validEndpoint reports whether an endpoint byte is inside the Zigbee
// application range.
func validEndpoint(ep uint8) bool {
	return ep >= 1 && ep <= 254
}
