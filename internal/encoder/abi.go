package encoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Word-level calldata writer. Every static argument is one 32-byte big-endian
// word; dynamic arguments are referenced by a byte offset measured from the
// start of the argument block (immediately after the 4-byte selector).

const wordLen = 32

// calldata accumulates encoded words behind a function selector.
type calldata struct {
	buf []byte
}

func newCalldata(sel [4]byte) *calldata {
	return &calldata{buf: append(make([]byte, 0, 4+8*wordLen), sel[:]...)}
}

func (c *calldata) bytes() []byte { return c.buf }

// argLen returns the current length of the argument block, used to compute
// dynamic-data offsets.
func (c *calldata) argLen() int { return len(c.buf) - 4 }

func (c *calldata) putWord(w []byte) {
	c.buf = append(c.buf, common.LeftPadBytes(w, wordLen)...)
}

func (c *calldata) putUint(n *big.Int) {
	if n == nil {
		c.putWord(nil)
		return
	}
	c.putWord(n.Bytes())
}

func (c *calldata) putUint64(n uint64) {
	c.putUint(new(big.Int).SetUint64(n))
}

func (c *calldata) putAddress(a common.Address) {
	c.putWord(a.Bytes())
}

func (c *calldata) putBool(b bool) {
	if b {
		c.putUint64(1)
	} else {
		c.putUint64(0)
	}
}

func (c *calldata) putHash(h common.Hash) {
	c.putWord(h.Bytes())
}

// putOffset writes a dynamic-data offset word.
func (c *calldata) putOffset(off int) {
	c.putUint64(uint64(off))
}

// putBytesTail appends a dynamic bytes value: length word followed by the
// data right-padded to a word boundary.
func (c *calldata) putBytesTail(data []byte) {
	c.putUint64(uint64(len(data)))
	c.buf = append(c.buf, data...)
	if rem := len(data) % wordLen; rem != 0 {
		c.buf = append(c.buf, make([]byte, wordLen-rem)...)
	}
}

// paddedLen returns the word-aligned length of a dynamic bytes value
// including its length word.
func paddedLen(data []byte) int {
	n := len(data)
	if rem := n % wordLen; rem != 0 {
		n += wordLen - rem
	}
	return wordLen + n
}
