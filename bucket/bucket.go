// Package bucket models capacity-bounded distribution groups and their
// persisted membership.
package bucket

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bridgedist/bucketd/candidate"
)

// Unbounded is the capacity of a bucket configured with "*"
const Unbounded = 1000000

var (
	// ErrAlreadyMember is returned by Admit for a key the bucket already holds
	ErrAlreadyMember = errors.New("already a member")
	// ErrNotMember is returned by Confirm for a key the bucket does not hold
	ErrNotMember = errors.New("not a member")
)

// Member is a candidate once admitted to a bucket
type Member struct {
	IdentityKey string `json:"identity_key"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	Status      Status `json:"status"`
}

// Endpoint returns "address:port"
func (m Member) Endpoint() string {
	return fmt.Sprintf("%s:%d", m.Address, m.Port)
}

// Bucket holds one bucket's membership. Occupancy counts the members
// claimed (admitted or confirmed) during the current pass, which is always
// the number of non-stale members.
type Bucket struct {
	name      string
	capacity  int
	occupancy int
	members   map[string]*Member
}

// New creates an empty bucket. capacity must be positive.
func New(name string, capacity int) *Bucket {
	if capacity < 1 {
		capacity = 1
	}
	return &Bucket{
		name:     name,
		capacity: capacity,
		members:  make(map[string]*Member),
	}
}

// Name returns the bucket name, which is also its snapshot identifier
func (b *Bucket) Name() string { return b.name }

// Capacity returns the configured bound
func (b *Bucket) Capacity() int { return b.capacity }

// Occupancy returns the number of members claimed this pass
func (b *Bucket) Occupancy() int { return b.occupancy }

// Len returns the number of members, stale ones included
func (b *Bucket) Len() int { return len(b.members) }

// NeedsMore reports whether the bucket can claim another member this pass
func (b *Bucket) NeedsMore() bool {
	return b.occupancy < b.capacity
}

// Contains reports whether key is a member
func (b *Bucket) Contains(key string) bool {
	_, ok := b.members[key]
	return ok
}

// Member returns a copy of the member stored under key
func (b *Bucket) Member(key string) (Member, bool) {
	m, ok := b.members[key]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Members returns copies of all members sorted by identity key
func (b *Bucket) Members() []Member {
	out := make([]Member, 0, len(b.members))
	for _, m := range b.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityKey < out[j].IdentityKey })
	return out
}

// Admit inserts c as a new member with status Admitted
func (b *Bucket) Admit(c candidate.Candidate) error {
	if _, ok := b.members[c.IdentityKey]; ok {
		return fmt.Errorf("admit %s into %s: %w", c.IdentityKey, b.name, ErrAlreadyMember)
	}

	b.members[c.IdentityKey] = &Member{
		IdentityKey: c.IdentityKey,
		Address:     c.Address,
		Port:        c.Port,
		Status:      Admitted,
	}
	b.occupancy++
	return nil
}

// Confirm re-validates an existing member. A changed address or port is
// stored and treated as a re-admission; otherwise the member becomes Active.
// It reports whether the endpoint changed.
func (b *Bucket) Confirm(c candidate.Candidate) (bool, error) {
	m, ok := b.members[c.IdentityKey]
	if !ok {
		return false, fmt.Errorf("confirm %s in %s: %w", c.IdentityKey, b.name, ErrNotMember)
	}

	// A member counts once per pass
	if m.Status == Stale {
		b.occupancy++
	}

	changed := m.Address != c.Address || m.Port != c.Port
	if changed {
		m.Address = c.Address
		m.Port = c.Port
		m.Status = Admitted
	} else {
		m.Status = Active
	}
	return changed, nil
}

// Evict removes key. It reports whether a member was removed.
func (b *Bucket) Evict(key string) bool {
	m, ok := b.members[key]
	if !ok {
		return false
	}
	if m.Status != Stale {
		b.occupancy--
	}
	delete(b.members, key)
	return true
}

// ResetForPass starts a pass: nothing is claimed, every member is stale
func (b *Bucket) ResetForPass() {
	b.occupancy = 0
	for _, m := range b.members {
		m.Status = Stale
	}
}

// Replace swaps in a loaded membership. Later duplicates of a key win.
func (b *Bucket) Replace(members []Member) {
	b.members = make(map[string]*Member, len(members))
	b.occupancy = 0
	for i := range members {
		m := members[i]
		if old, ok := b.members[m.IdentityKey]; ok && old.Status != Stale {
			b.occupancy--
		}
		b.members[m.IdentityKey] = &m
		if m.Status != Stale {
			b.occupancy++
		}
	}
}

// CountByStatus returns the number of members per status
func (b *Bucket) CountByStatus() map[Status]int {
	counts := map[Status]int{Admitted: 0, Active: 0, Stale: 0}
	for _, m := range b.members {
		counts[m.Status]++
	}
	return counts
}
