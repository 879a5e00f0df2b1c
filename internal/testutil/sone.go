package testutil

import (
	"strings"

	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

// SoneID returns a 43 character identity id derived from name, the length of a
// real identity id.
func SoneID(name string) string {
	if len(name) >= 43 {
		return name[:43]
	}
	return name + strings.Repeat("~", 43-len(name))
}

// NewBuilders returns entity builders backed by a StubIDGenerator and the fixed clock.
func NewBuilders() *sone.Builders {
	return sone.NewBuilders(NewStubIDGenerator(), FixedClock())
}

// LocalIdentity returns a local identity with addresses derived from name.
func LocalIdentity(name string) sone.Identity {
	id := SoneID(name)
	return sone.Identity{
		ID:             id,
		Name:           name,
		RequestAddress: "USK@" + id + "/Sone/",
		InsertAddress:  "USK@" + id + "-insert/Sone/",
		Local:          true,
	}
}

// RemoteIdentity returns a remote identity with a request address derived from name.
func RemoteIdentity(name string) sone.Identity {
	id := SoneID(name)
	return sone.Identity{ID: id, Name: name, RequestAddress: "USK@" + id + "/Sone/"}
}
