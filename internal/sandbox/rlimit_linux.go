//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// limitAddressSpace caps RLIMIT_AS at the current virtual size plus extra, so
// an allocation past the budget fails instead of swapping the host.
func limitAddressSpace(extra int64) error {
	used, err := virtualSize()
	if err != nil {
		return err
	}
	n := uint64(used + extra)
	var cur unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_AS, &cur); err != nil {
		return fmt.Errorf("read address space limit: %w", err)
	}
	if n > cur.Max {
		n = cur.Max
	}
	if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: n, Max: n}); err != nil {
		return fmt.Errorf("set address space limit: %w", err)
	}
	return nil
}

func virtualSize() (int64, error) {
	b, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, fmt.Errorf("read process size: %w", err)
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0, fmt.Errorf("read process size: empty statm")
	}
	pages, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("read process size: %w", err)
	}
	return pages * int64(os.Getpagesize()), nil
}
