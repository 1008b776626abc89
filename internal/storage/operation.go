package storage

import "fmt"

// Kind is the operation discriminator for a write.
// The zero value means the item carries no explicit kind.
type Kind string

const (
	KindPut    Kind = "put"
	KindDelete Kind = "del"
)

// Valid reports whether k is put or del.
func (k Kind) Valid() bool {
	return k == KindPut || k == KindDelete
}

// Operation is the canonical write record handed to a Batcher.
//
// ValueSet reports whether the value field is present at all. A value that
// is present but unset (ValueSet true, Value nil) is what a single-element
// Pair normalizes to; engines may distinguish the two.
type Operation struct {
	Kind     Kind
	Key      []byte
	Value    []byte
	ValueSet bool
	Extra    map[string]any // Caller-defined fields, passed through unchanged
}

// Put returns a put operation for key and value.
func Put(key, value []byte) Operation {
	return Operation{Kind: KindPut, Key: key, Value: value, ValueSet: true}
}

// Del returns a delete operation for key.
func Del(key []byte) Operation {
	return Operation{Kind: KindDelete, Key: key}
}

func (op Operation) String() string {
	if op.ValueSet {
		return fmt.Sprintf("%s %q=%q", op.Kind, op.Key, op.Value)
	}
	return fmt.Sprintf("%s %q", op.Kind, op.Key)
}

// Pair is a write item in entry form: {key} or {key, value}.
type Pair [][]byte

// WriteItem is anything a batch sink accepts: Pair, Operation (or a
// pointer to one) or Entry.
type WriteItem interface {
	operation(defaultKind Kind) Operation
}

// Normalize turns a write item into a canonical Operation.
//
// Pairs and entries always get defaultKind and an explicit value field.
// Operations without a kind get a shallow copy carrying defaultKind.
// Operations with a kind are returned unchanged, even when that kind
// conflicts with defaultKind.
func Normalize(item WriteItem, defaultKind Kind) Operation {
	return item.operation(defaultKind)
}

func (p Pair) operation(defaultKind Kind) Operation {
	op := Operation{Kind: defaultKind, ValueSet: true}
	if len(p) > 0 {
		op.Key = p[0]
	}
	if len(p) > 1 {
		op.Value = p[1]
	}
	return op
}

func (op Operation) operation(defaultKind Kind) Operation {
	if op.Kind == "" {
		op.Kind = defaultKind
	}
	return op
}

func (e Entry) operation(defaultKind Kind) Operation {
	return Pair{e.Key, e.Value}.operation(defaultKind)
}

// validateBatch checks every operation before an engine applies any of them.
func validateBatch(ops []Operation) error {
	for i := range ops {
		op := &ops[i]
		if len(op.Key) == 0 {
			return fmt.Errorf("operation %d: %w", i, ErrEmptyKey)
		}
		switch op.Kind {
		case KindPut:
			if !op.ValueSet || op.Value == nil {
				return fmt.Errorf("operation %d: %w", i, ErrMissingValue)
			}
		case KindDelete:
		default:
			return fmt.Errorf("operation %d (%q): %w", i, op.Kind, ErrInvalidKind)
		}
	}
	return nil
}
