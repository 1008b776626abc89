package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		item        WriteItem
		defaultKind Kind
		want        Operation
	}{
		{
			name:        "pair_with_value",
			item:        Pair{[]byte("a"), []byte("1")},
			defaultKind: KindPut,
			want:        Operation{Kind: KindPut, Key: []byte("a"), Value: []byte("1"), ValueSet: true},
		},
		{
			name:        "pair_with_key_only_keeps_value_field",
			item:        Pair{[]byte("b")},
			defaultKind: KindDelete,
			want:        Operation{Kind: KindDelete, Key: []byte("b"), Value: nil, ValueSet: true},
		},
		{
			name:        "pair_takes_default_kind",
			item:        Pair{[]byte("a"), []byte("1")},
			defaultKind: KindDelete,
			want:        Operation{Kind: KindDelete, Key: []byte("a"), Value: []byte("1"), ValueSet: true},
		},
		{
			name:        "record_without_kind",
			item:        Operation{Key: []byte("a")},
			defaultKind: KindPut,
			want:        Operation{Kind: KindPut, Key: []byte("a")},
		},
		{
			name:        "record_without_kind_keeps_value",
			item:        Operation{Key: []byte("a"), Value: []byte("1"), ValueSet: true},
			defaultKind: KindPut,
			want:        Operation{Kind: KindPut, Key: []byte("a"), Value: []byte("1"), ValueSet: true},
		},
		{
			name:        "explicit_delete_wins_over_put",
			item:        Operation{Kind: KindDelete, Key: []byte("a")},
			defaultKind: KindPut,
			want:        Operation{Kind: KindDelete, Key: []byte("a")},
		},
		{
			name:        "explicit_put_wins_over_delete",
			item:        Put([]byte("a"), []byte("2")),
			defaultKind: KindDelete,
			want:        Operation{Kind: KindPut, Key: []byte("a"), Value: []byte("2"), ValueSet: true},
		},
		{
			name:        "pointer_record",
			item:        &Operation{Key: []byte("p"), Value: []byte("v"), ValueSet: true},
			defaultKind: KindPut,
			want:        Operation{Kind: KindPut, Key: []byte("p"), Value: []byte("v"), ValueSet: true},
		},
		{
			name:        "entry_is_a_pair",
			item:        Entry{Key: []byte("e"), Value: []byte("1")},
			defaultKind: KindPut,
			want:        Operation{Kind: KindPut, Key: []byte("e"), Value: []byte("1"), ValueSet: true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.item, tc.defaultKind))
		})
	}
}

func TestNormalizeExtraFieldsPassThrough(t *testing.T) {
	extra := map[string]any{"foo": 123}
	op := Normalize(Operation{Key: []byte("a"), Value: []byte("1"), ValueSet: true, Extra: extra}, KindPut)

	assert.Equal(t, KindPut, op.Kind)
	assert.Equal(t, extra, op.Extra)
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := &Operation{Key: []byte("a")}
	out := Normalize(in, KindPut)

	assert.Equal(t, KindPut, out.Kind)
	assert.Equal(t, Kind(""), in.Kind)
}

func TestValidateBatch(t *testing.T) {
	require.NoError(t, validateBatch([]Operation{Put([]byte("a"), []byte{}), Del([]byte("b"))}))
	require.NoError(t, validateBatch(nil))

	assert.ErrorIs(t, validateBatch([]Operation{Put(nil, []byte("1"))}), ErrEmptyKey)
	assert.ErrorIs(t, validateBatch([]Operation{Normalize(Pair{[]byte("a")}, KindPut)}), ErrMissingValue)
	assert.ErrorIs(t, validateBatch([]Operation{{Kind: "merge", Key: []byte("a")}}), ErrInvalidKind)
	assert.ErrorIs(t, validateBatch([]Operation{Normalize(Pair{}, KindDelete)}), ErrEmptyKey)
}
