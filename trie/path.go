package trie

import (
	"fmt"

	"github.com/quarrylabs/quarry/felt"
)

// Path is a sequence of up to 251 key bits, indexed most-significant-first:
// Bit(0) is the first bit consumed when descending from a root. Bits are
// stored right-aligned so that a path doubles as the integer committed in an
// edge node hash.
type Path struct {
	length uint8
	bits   [felt.Bytes]byte
}

// KeyPath returns the full 251-bit descent path for a trie key.
func KeyPath(key *felt.Felt) Path {
	return Path{length: felt.KeyBits, bits: key.Bytes()}
}

// PathFromBits builds a path from explicit bits, MSB-first.
func PathFromBits(bits ...uint8) Path {
	var p Path
	for _, b := range bits {
		p = p.AppendBit(b)
	}
	return p
}

func (p Path) Len() int {
	return int(p.length)
}

// Bit returns bit i of the path, counting from the most significant end.
// i must be in [0, Len()).
func (p Path) Bit(i int) uint8 {
	r := int(p.length) - 1 - i // position from the least significant end
	return (p.bits[felt.Bytes-1-r/8] >> (r % 8)) & 1
}

// Prefix returns the first n bits of p.
func (p Path) Prefix(n int) Path {
	return Path{
		length: uint8(n),
		bits:   shiftRight(p.bits, int(p.length)-n),
	}
}

// Suffix returns the path with the first n bits dropped.
func (p Path) Suffix(n int) Path {
	rest := int(p.length) - n
	return Path{
		length: uint8(rest),
		bits:   maskBits(p.bits, rest),
	}
}

// Join concatenates p followed by q.
func (p Path) Join(q Path) Path {
	out := shiftLeft(p.bits, q.Len())
	for i := range out {
		out[i] |= q.bits[i]
	}
	return Path{length: p.length + q.length, bits: out}
}

// AppendBit extends p by one bit.
func (p Path) AppendBit(b uint8) Path {
	return p.Join(Path{length: 1, bits: [felt.Bytes]byte{felt.Bytes - 1: b & 1}})
}

func (p Path) Equal(q Path) bool {
	return p.length == q.length && p.bits == q.bits
}

// Felt returns the path bits interpreted as an integer, the form hashed into
// an edge node commitment.
func (p Path) Felt() felt.Felt {
	return felt.FromBytes(p.bits[:])
}

// CommonPrefixLen returns the number of leading bits shared by a and b.
func CommonPrefixLen(a, b Path) int {
	n := a.Len()
	if b.Len() < n {
		n = b.Len()
	}
	for i := 0; i < n; i++ {
		if a.Bit(i) != b.Bit(i) {
			return i
		}
	}
	return n
}

func (p Path) String() string {
	return fmt.Sprintf("%d:0x%x", p.length, p.bits)
}

// shiftRight shifts a big-endian byte array right by k bits, discarding the
// k least significant bits.
func shiftRight(b [felt.Bytes]byte, k int) [felt.Bytes]byte {
	if k <= 0 {
		return b
	}
	byteShift := k / 8
	bitShift := k % 8
	var out [felt.Bytes]byte
	for i := felt.Bytes - 1; i >= byteShift; i-- {
		src := i - byteShift
		v := b[src] >> bitShift
		if bitShift > 0 && src > 0 {
			v |= b[src-1] << (8 - bitShift)
		}
		out[i] = v
	}
	return out
}

// shiftLeft shifts a big-endian byte array left by k bits.
func shiftLeft(b [felt.Bytes]byte, k int) [felt.Bytes]byte {
	if k <= 0 {
		return b
	}
	byteShift := k / 8
	bitShift := k % 8
	var out [felt.Bytes]byte
	for i := 0; i+byteShift < felt.Bytes; i++ {
		src := i + byteShift
		v := b[src] << bitShift
		if bitShift > 0 && src < felt.Bytes-1 {
			v |= b[src+1] >> (8 - bitShift)
		}
		out[i] = v
	}
	return out
}

// maskBits zeroes every bit at position >= n, counting from the least
// significant end.
func maskBits(b [felt.Bytes]byte, n int) [felt.Bytes]byte {
	var out [felt.Bytes]byte
	full := n / 8
	for i := 0; i < full; i++ {
		out[felt.Bytes-1-i] = b[felt.Bytes-1-i]
	}
	if rem := n % 8; rem > 0 && full < felt.Bytes {
		out[felt.Bytes-1-full] = b[felt.Bytes-1-full] & byte(1<<rem-1)
	}
	return out
}
