package felt

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
)

const (
	// Bytes is the canonical big-endian encoding size of a field element.
	Bytes = fp.Bytes

	// KeyBits is the number of usable bits in a trie key. Contract
	// addresses and storage addresses are below 2^251 by protocol.
	KeyBits = 251
)

// Felt is an element of the Stark prime field. The zero value is the field
// element zero and is ready to use. Felt is comparable: two Felts are ==
// exactly when they represent the same field element.
type Felt struct {
	val fp.Element
}

var Zero = Felt{}

// New returns the field element for a small integer.
func New(v uint64) Felt {
	var f Felt
	f.val.SetUint64(v)
	return f
}

// FromElement wraps a raw field element.
func FromElement(e fp.Element) Felt {
	return Felt{val: e}
}

// FromBytes interprets b as a big-endian integer reduced into the field.
func FromBytes(b []byte) Felt {
	var f Felt
	f.val.SetBytes(b)
	return f
}

// FromString parses a decimal or 0x-prefixed hex string.
func FromString(s string) (Felt, error) {
	var f Felt
	if _, err := f.val.SetString(s); err != nil {
		return Felt{}, fmt.Errorf("invalid field element %q: %w", s, err)
	}
	return f, nil
}

// Impl exposes the underlying gnark-crypto element for hashing.
func (f *Felt) Impl() *fp.Element {
	return &f.val
}

// Bytes returns the canonical 32-byte big-endian encoding.
func (f *Felt) Bytes() [Bytes]byte {
	return f.val.Bytes()
}

func (f *Felt) SetBytes(b []byte) *Felt {
	f.val.SetBytes(b)
	return f
}

func (f *Felt) Equal(other *Felt) bool {
	return f.val.Equal(&other.val)
}

func (f *Felt) IsZero() bool {
	return f.val.IsZero()
}

// Cmp compares f and other as integers in [0, p).
func (f *Felt) Cmp(other *Felt) int {
	return f.val.Cmp(&other.val)
}

// Add sets f = a + b and returns f.
func (f *Felt) Add(a, b *Felt) *Felt {
	f.val.Add(&a.val, &b.val)
	return f
}

// BitLen returns the minimal number of bits needed to represent f.
func (f *Felt) BitLen() int {
	return f.val.BitLen()
}

// IsKey reports whether f fits in a 251-bit trie key path.
func (f *Felt) IsKey() bool {
	return f.val.BitLen() <= KeyBits
}

// BigInt returns f as a big integer.
func (f *Felt) BigInt() *big.Int {
	var b big.Int
	f.val.BigInt(&b)
	return &b
}

// String returns the shortest 0x-prefixed hex form.
func (f Felt) String() string {
	return "0x" + f.val.Text(16)
}

func (f Felt) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Felt) UnmarshalText(data []byte) error {
	if _, err := f.val.SetString(string(data)); err != nil {
		return fmt.Errorf("invalid field element %q: %w", data, err)
	}
	return nil
}

func (f Felt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

func (f *Felt) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	return f.UnmarshalText(data)
}
