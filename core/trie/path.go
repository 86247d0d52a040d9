package trie

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"

	"github.com/NethermindEth/starktrie/core/felt"
)

// MaxPathLen is the longest path a Path can hold.
const MaxPathLen = 255

var errPathTooLong = errors.New("path longer than 255 bits")

// Path is a bit string of up to 255 bits, read most significant bit first: the first
// step taken from a node is the highest bit of the path's integer value.
// It uses a little endian word representation to do bitwise operations efficiently.
// For example, if len is 10, the 2^9, 2^8, ..., 2^0 bits are used and bit 2^9 is the first step.
type Path struct {
	len   uint8     // number of used bits
	words [4]uint64 // little endian (i.e. words[0] is the least significant)
}

// NewPath returns the path of the given length holding the low bits of val.
func NewPath(length uint8, val uint64) Path {
	p := Path{len: length}
	p.words[0] = val
	p.truncate()
	return p
}

// KeyPath returns the height-bit path of a trie key.
func KeyPath(key *felt.Felt, height uint8) Path {
	p := Path{len: height}
	p.setBytes32(key.Bytes())
	p.truncate()
	return p
}

func (p Path) Len() uint8 {
	return p.len
}

// Felt returns the integer value of the path.
func (p Path) Felt() felt.Felt {
	b := p.Bytes32()
	return felt.FromBytes(b[:])
}

// Bytes32 returns the integer value of the path as 32 big-endian bytes.
func (p Path) Bytes32() [32]byte {
	var res [32]byte
	binary.BigEndian.PutUint64(res[0:8], p.words[3])
	binary.BigEndian.PutUint64(res[8:16], p.words[2])
	binary.BigEndian.PutUint64(res[16:24], p.words[1])
	binary.BigEndian.PutUint64(res[24:32], p.words[0])
	return res
}

// Bit returns the i-th step of the path, counted from the start.
func (p Path) Bit(i uint8) uint8 {
	if i >= p.len {
		panic(fmt.Sprintf("bit %d out of range for path of length %d", i, p.len))
	}
	pos := p.len - 1 - i
	return uint8((p.words[pos/64] >> (pos % 64)) & 1)
}

// Prefix returns the first n steps of the path.
func (p Path) Prefix(n uint8) Path {
	if n >= p.len {
		return p
	}
	return p.rsh(p.len - n)
}

// Suffix returns the path with its first n steps removed.
func (p Path) Suffix(n uint8) Path {
	if n >= p.len {
		return Path{}
	}
	res := p
	res.len = p.len - n
	res.truncate()
	return res
}

// Slice returns the steps [from, to) of the path.
func (p Path) Slice(from, to uint8) Path {
	return p.Prefix(to).Suffix(from)
}

// Append returns p followed by x. Panics if the result exceeds MaxPathLen.
func (p Path) Append(x Path) Path {
	if uint16(p.len)+uint16(x.len) > MaxPathLen {
		panic(errPathTooLong)
	}
	res := p.lsh(x.len)
	res.len = p.len + x.len
	for i := range res.words {
		res.words[i] |= x.words[i]
	}
	return res
}

// HasPrefix reports whether the path starts with x.
func (p Path) HasPrefix(x Path) bool {
	return x.len <= p.len && p.Prefix(x.len).Equal(x)
}

// CommonPrefixLen returns the number of leading steps p and x share.
func (p Path) CommonPrefixLen(x Path) uint8 {
	n := min(p.len, x.len)
	a, b := p.Prefix(n), x.Prefix(n)
	for i := 3; i >= 0; i-- {
		if diff := a.words[i] ^ b.words[i]; diff != 0 {
			highest := uint8(i*64 + 63 - bits.LeadingZeros64(diff))
			return n - 1 - highest
		}
	}
	return n
}

// Equal checks if two paths have the same length and steps.
func (p Path) Equal(x Path) bool {
	return p.len == x.len && p.words == x.words
}

// MarshalBinary serialises the path as one length byte followed by the
// minimum number of big-endian value bytes.
//
//	Path{len: 10, value: 0x3FF} -> [0x0A, 0x03, 0xFF]
func (p Path) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := p.write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p Path) write(buf *bytes.Buffer) (int, error) {
	if err := buf.WriteByte(p.len); err != nil {
		return 0, err
	}
	all := p.Bytes32()
	n, err := buf.Write(all[32-p.byteCount():])
	return n + 1, err
}

// UnmarshalBinary is the inverse of MarshalBinary.
func (p *Path) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty path encoding")
	}
	p.len = data[0]
	if uint(len(data)-1) != p.byteCount() {
		return fmt.Errorf("path of length %d needs %d bytes, got %d", p.len, p.byteCount(), len(data)-1)
	}
	var all [32]byte
	copy(all[32-p.byteCount():], data[1:])
	p.setBytes32(all)
	p.truncate()
	return nil
}

// encodedLen returns the size of the binary encoding.
func (p Path) encodedLen() int {
	return int(p.byteCount()) + 1
}

func (p Path) String() string {
	b := p.Bytes32()
	return fmt.Sprintf("(%d) %s", p.len, hex.EncodeToString(b[32-p.byteCount():]))
}

// BitString renders the steps as 0s and 1s.
func (p Path) BitString() string {
	var sb bytes.Buffer
	for i := range p.len {
		sb.WriteByte('0' + p.Bit(i))
	}
	return sb.String()
}

func (p *Path) setBytes32(data [32]byte) {
	p.words[3] = binary.BigEndian.Uint64(data[0:8])
	p.words[2] = binary.BigEndian.Uint64(data[8:16])
	p.words[1] = binary.BigEndian.Uint64(data[16:24])
	p.words[0] = binary.BigEndian.Uint64(data[24:32])
}

// byteCount returns the minimum number of bytes needed to hold len bits.
func (p Path) byteCount() uint {
	return (uint(p.len) + 7) / 8
}

// rsh drops the last n steps.
func (p Path) rsh(n uint8) Path {
	res := Path{len: p.len - n}
	ws, bs := int(n/64), n%64
	for i := 0; i+ws < 4; i++ {
		res.words[i] = p.words[i+ws] >> bs
		if bs > 0 && i+ws+1 < 4 {
			res.words[i] |= p.words[i+ws+1] << (64 - bs)
		}
	}
	return res
}

// lsh shifts the value left by n bits, leaving the length untouched.
func (p Path) lsh(n uint8) Path {
	res := Path{len: p.len}
	ws, bs := int(n/64), n%64
	for i := 3; i >= ws; i-- {
		res.words[i] = p.words[i-ws] << bs
		if bs > 0 && i-ws-1 >= 0 {
			res.words[i] |= p.words[i-ws-1] >> (64 - bs)
		}
	}
	return res
}

// truncate clears every bit above len.
func (p *Path) truncate() {
	for i := range p.words {
		lo := uint(i) * 64
		switch {
		case uint(p.len) <= lo:
			p.words[i] = 0
		case uint(p.len) < lo+64:
			p.words[i] &= (uint64(1) << (uint(p.len) - lo)) - 1
		}
	}
}
