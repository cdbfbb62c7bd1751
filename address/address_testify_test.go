package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamworksanimation/arras4-core/id"
)

func TestToObjectFromObjectRoundTripTestify(t *testing.T) {
	addr := New(id.New(), id.New(), id.New())

	obj := addr.ToObject()
	back, err := FromObject(obj)
	require.NoError(t, err)
	assert.Equal(t, addr, back)
	assert.False(t, back.IsNull())
}

func TestFromObjectRejectsNonStringField(t *testing.T) {
	_, err := FromObject(map[string]any{
		"session":     123,
		"node":        id.New().String(),
		"computation": id.New().String(),
	})
	assert.Error(t, err)
}
