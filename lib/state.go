package lib

import "gopherjos/abi"

// PageState describes how a present page is shared. The permission bits
// behind each state are only spelled out at the syscall boundary by Perm.
type PageState uint8

const (
	// PageAbsent means no page is mapped.
	PageAbsent PageState = iota

	// PagePrivate is a writable page owned by a single environment.
	PagePrivate

	// PageSharedReadOnly is a page nobody may write.
	PageSharedReadOnly

	// PageSharedCopyOnWrite is a page shared until one of its users writes
	// to it.
	PageSharedCopyOnWrite
)

var pageStateNames = [...]string{
	PageAbsent:            "absent",
	PagePrivate:           "private",
	PageSharedReadOnly:    "read-only",
	PageSharedCopyOnWrite: "copy-on-write",
}

// String implements fmt.Stringer.
func (s PageState) String() string {
	if int(s) < len(pageStateNames) {
		return pageStateNames[s]
	}
	return "unknown"
}

// Perm returns the permissions to map a page in this state with.
func (s PageState) Perm() abi.PTE {
	const base = abi.FlagPresent | abi.FlagUserAccessible

	switch s {
	case PagePrivate:
		return base | abi.FlagRW
	case PageSharedReadOnly:
		return base
	case PageSharedCopyOnWrite:
		return base | abi.FlagCopyOnWrite
	default:
		return 0
	}
}
