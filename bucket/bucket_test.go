package bucket

import (
	"encoding/json"
	"testing"

	"github.com/bridgedist/bucketd/candidate"
	"github.com/bridgedist/bucketd/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(key, addr string, port int) candidate.Candidate {
	return candidate.Candidate{IdentityKey: key, Address: addr, Port: port, Distributor: candidate.Unallocated}
}

func TestStatusTokens(t *testing.T) {
	for _, s := range []Status{Admitted, Active, Stale} {
		parsed, err := ParseStatus(s.Token())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	assert.Equal(t, "NEW", Admitted.String())
	assert.Equal(t, "RUNNING", Active.String())
	assert.Equal(t, "OLD", Stale.String())

	_, err := ParseStatus("new")
	assert.Error(t, err)
}

func TestAdmit(t *testing.T) {
	b := New("PersonA", 2)
	require.True(t, b.NeedsMore())

	require.NoError(t, b.Admit(cand("k1", "1.2.3.4", 443)))
	assert.Equal(t, 1, b.Occupancy())
	assert.Equal(t, 1, b.Len())

	m, ok := b.Member("k1")
	require.True(t, ok)
	assert.Equal(t, Admitted, m.Status)
	assert.Equal(t, "1.2.3.4:443", m.Endpoint())

	err := b.Admit(cand("k1", "1.2.3.4", 443))
	assert.ErrorIs(t, err, ErrAlreadyMember)
	assert.Equal(t, 1, b.Occupancy())

	require.NoError(t, b.Admit(cand("k2", "5.6.7.8", 443)))
	assert.False(t, b.NeedsMore())
}

func TestConfirm(t *testing.T) {
	b := New("PersonA", 5)
	require.NoError(t, b.Admit(cand("k1", "1.2.3.4", 443)))
	require.NoError(t, b.Admit(cand("k2", "5.6.7.8", 443)))
	b.ResetForPass()

	changed, err := b.Confirm(cand("k1", "1.2.3.4", 443))
	require.NoError(t, err)
	assert.False(t, changed)
	m, _ := b.Member("k1")
	assert.Equal(t, Active, m.Status)

	changed, err = b.Confirm(cand("k2", "5.6.7.8", 9001))
	require.NoError(t, err)
	assert.True(t, changed)
	m, _ = b.Member("k2")
	assert.Equal(t, Admitted, m.Status)
	assert.Equal(t, 9001, m.Port)

	assert.Equal(t, 2, b.Occupancy())

	// A second confirm in the same pass does not count twice
	_, err = b.Confirm(cand("k1", "1.2.3.4", 443))
	require.NoError(t, err)
	assert.Equal(t, 2, b.Occupancy())

	_, err = b.Confirm(cand("nope", "1.1.1.1", 1))
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestConfirm_AddressChange(t *testing.T) {
	b := New("PersonA", 1)
	require.NoError(t, b.Admit(cand("k1", "1.2.3.4", 443)))
	b.ResetForPass()

	changed, err := b.Confirm(cand("k1", "4.3.2.1", 443))
	require.NoError(t, err)
	assert.True(t, changed)

	m, _ := b.Member("k1")
	assert.Equal(t, Member{IdentityKey: "k1", Address: "4.3.2.1", Port: 443, Status: Admitted}, m)
}

func TestResetForPass(t *testing.T) {
	b := New("PersonA", 2)
	require.NoError(t, b.Admit(cand("k1", "1.2.3.4", 443)))
	require.NoError(t, b.Admit(cand("k2", "5.6.7.8", 443)))
	require.False(t, b.NeedsMore())

	b.ResetForPass()
	assert.Equal(t, 0, b.Occupancy())
	assert.Equal(t, 2, b.Len())
	assert.True(t, b.NeedsMore())
	for _, m := range b.Members() {
		assert.Equal(t, Stale, m.Status)
	}
}

func TestEvict(t *testing.T) {
	b := New("PersonA", 2)
	require.NoError(t, b.Admit(cand("k1", "1.2.3.4", 443)))
	require.NoError(t, b.Admit(cand("k2", "5.6.7.8", 443)))

	b.ResetForPass()
	_, err := b.Confirm(cand("k2", "5.6.7.8", 443))
	require.NoError(t, err)
	require.Equal(t, 1, b.Occupancy())

	// Evicting a stale member leaves occupancy untouched
	assert.True(t, b.Evict("k1"))
	assert.Equal(t, 1, b.Occupancy())

	// Evicting a claimed member releases its slot
	assert.True(t, b.Evict("k2"))
	assert.Equal(t, 0, b.Occupancy())

	assert.False(t, b.Evict("k2"))
	assert.Equal(t, 0, b.Len())
}

func TestReplace(t *testing.T) {
	b := New("PersonA", 10)
	require.NoError(t, b.Admit(cand("gone", "9.9.9.9", 1)))

	b.Replace([]Member{
		{IdentityKey: "k1", Address: "1.2.3.4", Port: 443, Status: Active},
		{IdentityKey: "k2", Address: "5.6.7.8", Port: 443, Status: Stale},
		{IdentityKey: "k1", Address: "1.2.3.5", Port: 443, Status: Admitted},
	})

	assert.False(t, b.Contains("gone"))
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 1, b.Occupancy())
	m, _ := b.Member("k1")
	assert.Equal(t, "1.2.3.5", m.Address)

	counts := b.CountByStatus()
	assert.Equal(t, 1, counts[Admitted])
	assert.Equal(t, 0, counts[Active])
	assert.Equal(t, 1, counts[Stale])
}

func TestMembersSortedCopy(t *testing.T) {
	b := New("PersonA", 10)
	require.NoError(t, b.Admit(cand("c", "3.3.3.3", 3)))
	require.NoError(t, b.Admit(cand("a", "1.1.1.1", 1)))
	require.NoError(t, b.Admit(cand("b", "2.2.2.2", 2)))

	members := b.Members()
	require.Len(t, members, 3)
	assert.Equal(t, "a", members[0].IdentityKey)
	assert.Equal(t, "c", members[2].IdentityKey)

	members[0].Address = "mutated"
	m, _ := b.Member("a")
	assert.Equal(t, "1.1.1.1", m.Address)
}

func TestNewClampsCapacity(t *testing.T) {
	assert.Equal(t, 1, New("x", 0).Capacity())
	assert.Equal(t, 1000000, New("y", Unbounded).Capacity())
}

func TestUnboundedMatchesStarCapacity(t *testing.T) {
	n, err := cfg.ParseCapacity("*")
	require.NoError(t, err)
	assert.Equal(t, Unbounded, n)
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(Member{IdentityKey: "k1", Address: "1.2.3.4", Port: 443, Status: Active})
	require.NoError(t, err)
	assert.JSONEq(t, `{"identity_key":"k1","address":"1.2.3.4","port":443,"status":"RUNNING"}`, string(data))

	var m Member
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, Active, m.Status)

	assert.Error(t, json.Unmarshal([]byte(`{"status":"LOST"}`), &m))
}
