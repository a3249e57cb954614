package network

import (
	"strconv"
	"strings"
)

// nextNetnsIndex computes 1 + the number of existing netns names already
// carrying prefix, per spec §3's "k = 1 + current count of netns names
// prefixed container-ns-". Pulled out as a pure function of "current live
// state" so it is unit-testable without a kernel netns namespace.
func nextNetnsIndex(existingNames []string, prefix string) int {
	count := 0
	for _, n := range existingNames {
		if strings.HasPrefix(n, prefix) {
			count++
		}
	}
	return count + 1
}

// nextVethIndex computes n = 2 + current count of interfaces whose parent
// is the bridge, per spec §3/§4.2.
func nextVethIndex(bridgePortCount int) int {
	return bridgePortCount + 2
}

func hostVethName(n int) string      { return "v" + strconv.Itoa(n) + "br" }
func containerVethName(n int) string { return "v" + strconv.Itoa(n) + "p" }
