package raffle

import (
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// ParseAddress accepts a base58 Neo address or a little-endian script hash
// in hex (with or without the 0x prefix).
func ParseAddress(s string) (util.Uint160, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return util.Uint160{}, fmt.Errorf("address is required")
	}
	if u, err := address.StringToUint160(s); err == nil {
		return u, nil
	}
	u, err := util.Uint160DecodeStringLE(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return util.Uint160{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return u, nil
}

// FormatAddress renders a script hash as a base58 Neo address.
func FormatAddress(u util.Uint160) string {
	return address.Uint160ToString(u)
}
