package engine

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castarr/castarr/internal/models"
)

func makeItems(titles ...string) []models.ChannelItem {
	items := make([]models.ChannelItem, len(titles))
	for i, title := range titles {
		items[i] = models.ChannelItem{
			BaseModel: models.BaseModel{ID: models.NewULID()},
			Position:  i,
			Title:     title,
			Available: true,
		}
	}
	return items
}

func TestSequencer_SequentialLoops(t *testing.T) {
	seq := NewSequencer(makeItems("a", "b", "c"), false)

	var got []string
	for i := 0; i < 7; i++ {
		item, err := seq.Next()
		require.NoError(t, err)
		got = append(got, item.Title)
	}

	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, got)
}

func TestSequencer_SequentialSkipsUnavailable(t *testing.T) {
	items := makeItems("a", "b", "c")
	items[1].Available = false
	seq := NewSequencer(items, false)

	var got []string
	for i := 0; i < 4; i++ {
		item, err := seq.Next()
		require.NoError(t, err)
		got = append(got, item.Title)
	}

	assert.Equal(t, []string{"a", "c", "a", "c"}, got)
}

func TestSequencer_MarkUnavailableTakesEffect(t *testing.T) {
	items := makeItems("a", "b")
	seq := NewSequencer(items, false)

	item, err := seq.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", item.Title)

	seq.MarkUnavailable(items[1].ID)

	item, err = seq.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", item.Title)
}

func TestSequencer_ExhaustedWhenEmpty(t *testing.T) {
	seq := NewSequencer(nil, false)

	_, err := seq.Next()
	assert.ErrorIs(t, err, ErrPlaylistExhausted)
}

func TestSequencer_ExhaustedWhenAllUnavailable(t *testing.T) {
	items := makeItems("a", "b")
	items[0].Available = false
	items[1].Available = false
	seq := NewSequencer(items, false)

	_, err := seq.Next()
	assert.ErrorIs(t, err, ErrPlaylistExhausted)
}

func TestSequencer_ShufflePlaysFullCycle(t *testing.T) {
	items := makeItems("a", "b", "c", "d", "e")
	seq := NewSequencer(items, true).WithRand(rand.New(rand.NewPCG(1, 2)))

	// Each cycle of n draws plays every item exactly once.
	for cycle := 0; cycle < 4; cycle++ {
		seen := make(map[string]int)
		for i := 0; i < len(items); i++ {
			item, err := seq.Next()
			require.NoError(t, err)
			seen[item.Title]++
		}
		for _, title := range []string{"a", "b", "c", "d", "e"} {
			assert.Equal(t, 1, seen[title], "cycle %d title %s", cycle, title)
		}
	}
}

func TestSequencer_ShuffleNoImmediateRepeatAcrossCycles(t *testing.T) {
	items := makeItems("a", "b", "c", "d")
	seq := NewSequencer(items, true).WithRand(rand.New(rand.NewPCG(7, 11)))

	var prev string
	for i := 0; i < 40; i++ {
		item, err := seq.Next()
		require.NoError(t, err)
		if prev != "" {
			assert.NotEqual(t, prev, item.Title, "draw %d repeated the previous item", i)
		}
		prev = item.Title
	}
}

func TestSequencer_ShuffleSkipsUnavailable(t *testing.T) {
	items := makeItems("a", "b", "c")
	items[2].Available = false
	seq := NewSequencer(items, true).WithRand(rand.New(rand.NewPCG(3, 5)))

	for i := 0; i < 10; i++ {
		item, err := seq.Next()
		require.NoError(t, err)
		assert.NotEqual(t, "c", item.Title)
	}
}

func TestSequencer_SetItemsRestartsTraversal(t *testing.T) {
	seq := NewSequencer(makeItems("a", "b"), false)

	item, err := seq.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", item.Title)

	seq.SetItems(makeItems("x", "y"))

	item, err = seq.Next()
	require.NoError(t, err)
	assert.Equal(t, "x", item.Title)
}

func TestSequencer_SingleItemRepeats(t *testing.T) {
	seq := NewSequencer(makeItems("solo"), true).WithRand(rand.New(rand.NewPCG(1, 1)))

	for i := 0; i < 3; i++ {
		item, err := seq.Next()
		require.NoError(t, err)
		assert.Equal(t, "solo", item.Title)
	}
}
