package ticket

import (
	"fmt"

	"github.com/expeditehq/expedite/pkg/enums/ordersource"
)

// Each source owns a reserved prefix band so codes from different channels
// can never collide: W01..W99 for online (web) orders, P01..P99 for POS
// terminal orders.
const shortcodeMax = 99

func shortcodePrefix(source string) string {
	switch source {
	case ordersource.Sources.Online.Code():
		return "W"
	case ordersource.Sources.POSTerminal.Code():
		return "P"
	default:
		return ""
	}
}

// AssignShortcode returns the lowest unused code in the source's band given
// the shortcodes currently in use at the location, or "" when the band is
// exhausted. Pure computation; persisting the code is the caller's job.
func AssignShortcode(locationID, source string, existing map[string]struct{}) string {
	prefix := shortcodePrefix(source)
	if prefix == "" {
		return ""
	}

	for n := 1; n <= shortcodeMax; n++ {
		code := fmt.Sprintf("%s%02d", prefix, n)
		if _, used := existing[code]; !used {
			return code
		}
	}
	return ""
}
