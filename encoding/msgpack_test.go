package encoding

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Bucket string   `json:"bucket"`
	Keys   []string `json:"keys"`
	SentAt int64    `json:"sent_at"`
}

func TestMarshal_RoundTripStruct(t *testing.T) {
	in := record{Bucket: "PersonA", Keys: []string{"k1", "k2"}, SentAt: 1700000000}

	data, err := Marshal(in)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var out record
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshal_LooseInterfaceKeepsStrings(t *testing.T) {
	data, err := Marshal(map[string]interface{}{"address": "1.2.3.4"})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, Unmarshal(data, &out))
	_, isString := out["address"].(string)
	assert.True(t, isString, "expected string, got %T", out["address"])
}

func TestEncode_Formats(t *testing.T) {
	in := record{Bucket: "PersonB", Keys: []string{"k3"}}

	packed, err := Encode("", in)
	require.NoError(t, err)
	var fromPack record
	require.NoError(t, Unmarshal(packed, &fromPack))
	assert.Equal(t, in, fromPack)

	js, err := Encode(FormatJSON, in)
	require.NoError(t, err)
	var fromJSON record
	require.NoError(t, json.Unmarshal(js, &fromJSON))
	assert.Equal(t, in, fromJSON)

	_, err = Encode("yaml", in)
	assert.Error(t, err)
	assert.False(t, ValidFormat("yaml"))
	assert.True(t, ValidFormat(FormatMsgpack))
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				data, err := Marshal(record{Bucket: "b", SentAt: int64(id*1000 + j)})
				if err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
				var out record
				if err := Unmarshal(data, &out); err != nil {
					t.Errorf("Unmarshal failed: %v", err)
					return
				}
				if out.SentAt != int64(id*1000+j) {
					t.Errorf("mismatch: got %d", out.SentAt)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
