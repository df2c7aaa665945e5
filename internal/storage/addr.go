package storage

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// addrParam encodes an address the way every table stores it: 40 lowercase
// hex chars, no 0x prefix.
func addrParam(a common.Address) string {
	return hex.EncodeToString(a.Bytes())
}

// scanAddr parses an address column value back into a common.Address.
func scanAddr(s string) common.Address {
	return common.HexToAddress(strings.TrimSpace(s))
}
