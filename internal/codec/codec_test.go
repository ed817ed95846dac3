package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type doc struct {
	Base uint64    `json:"i"`
	Data []byte    `json:"d,omitempty"`
	At   time.Time `json:"t"`
}

func TestJSONCodec(t *testing.T) {
	in := doc{Base: 7, Data: []byte(`{"a":1}`), At: time.Unix(1_700_000_000, 0).UTC()}

	for _, c := range []Codec{JSONCodec{}, PrettyJSONCodec{}} {
		b, err := c.Marshal(in)
		require.NoError(t, err)

		var out doc
		require.NoError(t, c.Unmarshal(b, &out))
		require.Equal(t, in, out)
	}
}

func TestJSONCodec_Compact(t *testing.T) {
	b, err := JSONCodec{}.Marshal(doc{Base: 1})
	require.NoError(t, err)
	require.NotContains(t, string(b), "\n")

	b, err = PrettyJSONCodec{}.Marshal(doc{Base: 1})
	require.NoError(t, err)
	require.Contains(t, string(b), "\n  \"i\": 1")
}

func TestValid(t *testing.T) {
	require.True(t, Valid([]byte(`{"n":1}`)))
	require.False(t, Valid([]byte{0x01, 0x02}))
	require.False(t, Valid(nil))
}
