// Package directory supplies the identities the application knows about.
package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/TheSeeker/Sone-sub000/internal/config"
	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

// StaticDirectory is a fixed identity directory, typically built from configuration.
// This implementation is safe for concurrent use.
type StaticDirectory struct {
	mu         sync.RWMutex
	identities map[string]sone.Identity
}

var _ sone.Directory = (*StaticDirectory)(nil)

// NewStaticDirectory creates a directory holding identities. Duplicate or
// empty ids are rejected.
func NewStaticDirectory(identities []sone.Identity) (*StaticDirectory, error) {
	d := &StaticDirectory{identities: make(map[string]sone.Identity, len(identities))}
	for _, identity := range identities {
		if err := d.Add(identity); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// NewDirectoryFromConfig builds a directory from the configured identities.
// A local identity without an insert address publishes to its request address.
func NewDirectoryFromConfig(cfgs []config.IdentityConfig) (*StaticDirectory, error) {
	identities := make([]sone.Identity, 0, len(cfgs))
	for _, c := range cfgs {
		identity := sone.Identity{
			ID:             c.ID,
			Name:           c.Name,
			RequestAddress: c.RequestAddress,
			InsertAddress:  c.InsertAddress,
			Local:          c.Local,
		}
		if identity.Local && identity.InsertAddress == "" {
			identity.InsertAddress = identity.RequestAddress
		}
		identities = append(identities, identity)
	}
	return NewStaticDirectory(identities)
}

// Add registers an identity.
func (d *StaticDirectory) Add(identity sone.Identity) error {
	if identity.ID == "" {
		return fmt.Errorf("identity without id")
	}
	if identity.RequestAddress == "" {
		return fmt.Errorf("identity %s has no request address", identity.ID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.identities[identity.ID]; ok {
		return fmt.Errorf("duplicate identity %s", identity.ID)
	}
	d.identities[identity.ID] = identity
	return nil
}

// Identities returns all identities ordered by id.
func (d *StaticDirectory) Identities(ctx context.Context) ([]sone.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]sone.Identity, 0, len(d.identities))
	for _, identity := range d.identities {
		result = append(result, identity)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Identity returns the identity with the given id.
func (d *StaticDirectory) Identity(id string) (sone.Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.identities[id]
	return identity, ok
}

// ResolveIdentity returns the public request address of an identity.
func (d *StaticDirectory) ResolveIdentity(ctx context.Context, id string) (string, bool, error) {
	identity, ok := d.Identity(id)
	if !ok {
		return "", false, nil
	}
	return identity.RequestAddress, true, nil
}

// Local returns the local identities ordered by id.
func (d *StaticDirectory) Local() []sone.Identity {
	all, _ := d.Identities(context.Background())
	var local []sone.Identity
	for _, identity := range all {
		if identity.Local {
			local = append(local, identity)
		}
	}
	return local
}
