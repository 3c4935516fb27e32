package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDRoundTrip(t *testing.T) {
	id := NewULID()

	parsed, err := ParseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseULID("not-a-ulid")
	assert.Error(t, err)
}

func TestULIDValueScan(t *testing.T) {
	id := NewULID()

	v, err := id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)

	var scanned ULID
	require.NoError(t, scanned.Scan(id.String()))
	assert.Equal(t, id, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsZero())

	zero := ULID{}
	v, err = zero.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestULIDJSON(t *testing.T) {
	id := NewULID()

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(data))

	var back ULID
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, id, back)

	data, err = json.Marshal(ULID{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestULIDListValueScan(t *testing.T) {
	list := ULIDList{NewULID(), NewULID()}

	v, err := list.Value()
	require.NoError(t, err)

	var scanned ULIDList
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, list, scanned)

	empty := ULIDList{}
	v, err = empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestULIDListContains(t *testing.T) {
	a, b := NewULID(), NewULID()
	list := ULIDList{a}

	assert.True(t, list.Contains(a))
	assert.False(t, list.Contains(b))
}
