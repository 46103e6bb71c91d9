package codec

import (
	"testing"

	"github.com/hupe1980/tilecache/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs_RecordAttributes(t *testing.T) {
	rec := model.NewRecord("r1", model.NewEnvelope(0, 0, 1, 1)).
		With("name", "Main St").
		With("lanes", 2).
		With("oneway", true).
		Build()

	for _, c := range []Codec{JSON{}, GoJSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(rec)
			require.NoError(t, err)

			var got model.Record
			require.NoError(t, c.Unmarshal(data, &got))
			assert.Equal(t, rec.ID, got.ID)
			assert.Equal(t, rec.Envelope, got.Envelope)
			assert.Equal(t, "Main St", got.Attributes["name"])
			assert.Equal(t, 2.0, got.Attributes["lanes"])
			assert.Equal(t, true, got.Attributes["oneway"])
		})
	}
}

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	assert.True(t, ok)
	assert.Equal(t, "json", c.Name())

	c, ok = ByName("go-json")
	assert.True(t, ok)
	assert.Equal(t, "go-json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestMustMarshal_Panics(t *testing.T) {
	assert.Panics(t, func() { MustMarshal(JSON{}, func() {}) })
	assert.NotEmpty(t, MustMarshal(nil, map[string]any{"a": 1}))
}
