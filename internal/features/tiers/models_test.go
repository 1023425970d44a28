package tiers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePicksHighestReachedTier(t *testing.T) {
	list := []Tier{
		{ID: 3, Name: "Легенда", RequiredScore: 1000},
		{ID: 1, Name: "Новичок", RequiredScore: 0},
		{ID: 2, Name: "Завсегдатай", RequiredScore: 100},
	}

	got, ok := Resolve(list, 0)
	require.True(t, ok)
	require.Equal(t, int64(1), got.ID)

	got, ok = Resolve(list, 999)
	require.True(t, ok)
	require.Equal(t, "Завсегдатай", got.Name)

	got, ok = Resolve(list, 1000)
	require.True(t, ok)
	require.Equal(t, int64(3), got.ID)
}

func TestResolveWithoutMatchingTier(t *testing.T) {
	_, ok := Resolve([]Tier{{ID: 1, RequiredScore: 0}}, -5)
	require.False(t, ok)

	_, ok = Resolve(nil, 10)
	require.False(t, ok)
}

func TestSortByScore(t *testing.T) {
	list := []Tier{{ID: 2, RequiredScore: 50}, {ID: 1, RequiredScore: 0}, {ID: 3, RequiredScore: 500}}
	SortByScore(list)
	require.Equal(t, []int64{1, 2, 3}, []int64{list[0].ID, list[1].ID, list[2].ID})
}
