package helpers

import (
	"encoding/hex"
	"strings"
)

// MustHex accepts spaces between bytes, "55 0d 04".
func MustHex(s string) []byte {
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		panic(err)
	}
	return b
}
