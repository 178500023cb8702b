package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// WireVersion is the current module encoding version.
// Increment when making incompatible changes to the format.
const WireVersion uint16 = 1

// cborEncMode is canonical so identical modules encode to identical bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// envelope wraps an encoded module with its format version.
type envelope struct {
	Version uint16 `cbor:"1,keyasint"`
	Module  Module `cbor:"2,keyasint"`
}

// MarshalModule serializes a Module to canonical CBOR bytes.
func MarshalModule(m *Module) ([]byte, error) {
	return cborEncMode.Marshal(envelope{Version: WireVersion, Module: *m})
}

// UnmarshalModule deserializes and validates a Module from CBOR bytes.
func UnmarshalModule(data []byte) (*Module, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal module: %w", err)
	}
	if env.Version > WireVersion {
		return nil, fmt.Errorf("bytecode: module version %d is newer than supported version %d", env.Version, WireVersion)
	}
	if err := env.Module.Validate(); err != nil {
		return nil, fmt.Errorf("bytecode: decoded module: %w", err)
	}
	return &env.Module, nil
}

// Marshal encodes any value with the canonical CBOR mode used for modules.
// The service codec and journal share it so their bytes are deterministic.
func Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into v.
func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
