package storage

import "regexp"

// tuyaManufacturerShape matches the machine-generated manufacturer
// names Tuya based products report, e.g. "_TZ3000_ab1cd2ef".
var tuyaManufacturerShape = regexp.MustCompile(`^_T[A-Z0-9]{4,6}_[a-z0-9]{8}$`)

// tuyaProducts maps manufacturer names to the marketed product
// identifier. The table is compile-time constant and consulted during
// entity materialization; it is not persisted state.
var tuyaProducts = map[string]string{
	"_TZ3000_qzjcsmar": "TS0001 switch module",
	"_TZ3000_ji4araar": "TS0011 wall switch",
	"_TZ3000_mmtwjmaq": "TS0203 door sensor",
	"_TZ3000_kmh5qpmb": "TS0202 motion sensor",
	"_TZ3210_eymunffl": "TS0505B light",
	"_TZE200_cwbvmsar": "TS0601 air sensor",
	"_TZE200_bjawzodf": "TS0601 climate sensor",
	"_TYZB01_iuepbmpv": "TS0121 smart plug",
}

// IsTuyaManufacturer reports whether a manufacturer name carries the
// Tuya naming shape.
func IsTuyaManufacturer(name string) bool {
	return tuyaManufacturerShape.MatchString(name)
}

// ProductForManufacturer resolves a Tuya manufacturer name to its
// product identifier, if known.
func ProductForManufacturer(name string) (string, bool) {
	product, ok := tuyaProducts[name]
	return product, ok
}
