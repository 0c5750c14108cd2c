package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Client order IDs encode the tag and ladder layer so that fills arriving on
// the push stream (or after a restart) can be attributed without a lookup.
// Format: mg<T><LL>-<12 hex>, e.g. "mgL03-9f1c2ab34d5e".
const clientOrderIDPrefix = "mg"

var tagCodes = map[OrderTag]byte{
	TagEntry:     'E',
	TagLadder:    'L',
	TagRebalance: 'R',
	TagExit:      'X',
}

// NewClientOrderID builds a unique client order ID for the given tag and layer.
func NewClientOrderID(tag OrderTag, layer int) string {
	code, ok := tagCodes[tag]
	if !ok {
		code = 'O'
	}
	if layer < 0 || layer > 99 {
		layer = 0
	}
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s%c%02d-%s", clientOrderIDPrefix, code, layer, id[:12])
}

// ParseClientOrderID recovers tag and layer. Unknown formats map to TagExternal, layer -1.
func ParseClientOrderID(id string) (OrderTag, int) {
	if len(id) < 6 || !strings.HasPrefix(id, clientOrderIDPrefix) || id[5] != '-' {
		return TagExternal, -1
	}
	layer, err := strconv.Atoi(id[3:5])
	if err != nil {
		return TagExternal, -1
	}
	for tag, code := range tagCodes {
		if id[2] == code {
			return tag, layer
		}
	}
	return TagExternal, -1
}
