package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddProfileRejectsDuplicateIgnoringCase(t *testing.T) {
	s := New(0)
	require.NoError(t, s.AddProfile(Profile{Name: "Alice", Personality: "cheerful"}))

	err := s.AddProfile(Profile{Name: "alice", Personality: "grumpy"})
	require.ErrorIs(t, err, ErrProfileExists)

	ps := s.Profiles()
	require.Len(t, ps, 1)
	assert.Equal(t, "cheerful", ps[0].Personality)
}

func TestAddProfileValidates(t *testing.T) {
	s := New(0)
	assert.ErrorIs(t, s.AddProfile(Profile{Name: "", Personality: "x"}), ErrInvalidProfile)
	assert.ErrorIs(t, s.AddProfile(Profile{Name: "Bob", Personality: "  "}), ErrInvalidProfile)
	assert.Empty(t, s.Profiles())
}

func TestRemoveProfile(t *testing.T) {
	s := New(0)
	s.MergeProfiles([]Profile{
		{Name: "Alice", Personality: "a"},
		{Name: "Bob", Personality: "b"},
		{Name: "alice", Personality: "spawned twin"},
	})

	require.NoError(t, s.RemoveProfile("ALICE"))
	assert.Equal(t, []Profile{{Name: "Bob", Personality: "b"}}, s.Profiles())

	err := s.RemoveProfile("Zed")
	require.ErrorIs(t, err, ErrProfileNotFound)
	assert.Len(t, s.Profiles(), 1)
}

func TestMergeProfilesKeepsDuplicates(t *testing.T) {
	s := New(0)
	require.NoError(t, s.AddProfile(Profile{Name: "Alice", Personality: "a"}))

	n := s.MergeProfiles([]Profile{{Name: "Alice", Personality: "second"}})
	assert.Equal(t, 1, n)
	assert.Len(t, s.Profiles(), 2)
}

func TestHistoryTrimsOldestFirst(t *testing.T) {
	s := New(80)
	for i := 0; i < 81; i++ {
		s.AppendHistory(HistoryEntry{Role: RoleUser, Content: fmt.Sprintf("m%d", i)})
		assert.LessOrEqual(t, s.HistoryLen(), 80)
	}

	snap := s.Snapshot()
	require.Len(t, snap.History, 80)
	assert.Equal(t, "m1", snap.History[0].Content)
	assert.Equal(t, "m80", snap.History[79].Content)
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := New(5)
	require.NoError(t, s.AddProfile(Profile{Name: "Alice", Personality: "a"}))
	s.AppendHistory(HistoryEntry{Role: RoleAssistant, Content: "hi", Speaker: "Alice"})
	s.SetTopic("space")

	snap := s.Snapshot()
	snap.Profiles[0].Name = "Mallory"
	snap.History[0].Content = "tampered"

	assert.Equal(t, "Alice", s.Profiles()[0].Name)
	assert.Equal(t, "hi", s.Snapshot().History[0].Content)
	assert.Equal(t, "space", snap.Topic)
	assert.Equal(t, "space", s.Topic())
}

func TestNewDefaultsLimit(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, New(0).Limit())
	assert.Equal(t, 3, New(3).Limit())
}
