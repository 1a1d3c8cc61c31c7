package knvram

import "strings"

// Flags parameterize every operation on a handle.
type Flags uint32

const (
	// FlagWrite marks the single writer handle of a partition.
	FlagWrite Flags = 1 << iota
	// FlagNonblock makes lock acquisition fail with ErrWouldBlock instead of waiting.
	FlagNonblock
	// FlagUser marks handles opened on behalf of a user-space style front end.
	FlagUser
	// FlagAutoT makes every write implicitly open a transaction.
	FlagAutoT
	// FlagTransaction is set while the handle has a transaction open.
	FlagTransaction
)

// openFlags are the flags a caller may pass to Open.
const openFlags = FlagWrite | FlagNonblock | FlagUser | FlagAutoT

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagWrite, "WRITE"},
	{FlagNonblock, "NONBLOCK"},
	{FlagUser, "USER"},
	{FlagAutoT, "AUTOT"},
	{FlagTransaction, "TRANSACTION"},
}

// Has reports whether all bits of f2 are set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	for _, n := range flagNames {
		if f.Has(n.f) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
