package models

import "strings"

// IsCrypto reports whether symbol denotes a crypto pair. Per spec, any
// symbol containing "/" is a 24/7 crypto pair; everything else is an
// equity gated by market hours.
func IsCrypto(symbol string) bool {
	return strings.Contains(symbol, "/")
}
