package serializer

import "fmt"

// NameSchema is the wire name of the schema-based strategy.
const NameSchema = "schema"

// SchemaDecoder is the contract a schema-based state implementation
// satisfies. The caller constructs one around its known state schema and
// pre-binds it to the room; the binary schema format is opaque here.
type SchemaDecoder interface {
	// DecodeHandshake consumes the schema reflection bytes from the join
	// frame, if the server sent any.
	DecodeHandshake(data []byte) error

	// DecodeFull replaces the decoded state from a full encoding.
	DecodeFull(encoded []byte) error

	// DecodePatch applies an incremental schema encoding in place.
	DecodePatch(encoded []byte) error

	// Root returns the decoded state root.
	Root() any

	// Release detaches any listeners the decoder registered on its state
	// tree. Must be safe to call more than once.
	Release()
}

// Schema is the strategy wrapping a caller-supplied SchemaDecoder. It is
// normally pre-bound at room construction; constructing it without a
// decoder yields a strategy that rejects every operation.
type Schema struct {
	dec     SchemaDecoder
	hasBase bool
}

// NewSchema creates the strategy around dec.
func NewSchema(dec SchemaDecoder) *Schema {
	return &Schema{dec: dec}
}

func (s *Schema) Handshake(data []byte) error {
	if s.dec == nil {
		return s.unbound()
	}
	if len(data) == 0 {
		return nil
	}
	return s.dec.DecodeHandshake(data)
}

func (s *Schema) SetState(encoded []byte) error {
	if s.dec == nil {
		return s.unbound()
	}
	if err := s.dec.DecodeFull(encoded); err != nil {
		return fmt.Errorf("serializer: %s: decode full state: %w", NameSchema, err)
	}
	s.hasBase = true
	return nil
}

func (s *Schema) Patch(encoded []byte) error {
	if s.dec == nil {
		return s.unbound()
	}
	if !s.hasBase {
		return &InvalidPatchError{Strategy: NameSchema, Reason: "no full state established"}
	}
	if err := s.dec.DecodePatch(encoded); err != nil {
		return fmt.Errorf("serializer: %s: decode patch: %w", NameSchema, err)
	}
	return nil
}

func (s *Schema) State() any {
	if s.dec == nil {
		return nil
	}
	return s.dec.Root()
}

// Teardown releases the decoder's listener registrations. Idempotent.
func (s *Schema) Teardown() {
	if s.dec != nil {
		s.dec.Release()
	}
	s.hasBase = false
}

func (s *Schema) unbound() error {
	return fmt.Errorf("serializer: %s: no schema decoder bound", NameSchema)
}
