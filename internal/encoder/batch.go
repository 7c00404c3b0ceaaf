package encoder

import (
	"math/big"

	"github.com/openlend/lenderd/internal/domain"
)

// BuildBatch packages an ordered call list into one multicall(bytes[])
// payload. Call order is preserved exactly as given. The summed native value
// of the sub-calls becomes the batch value, and the attribution tag (if any)
// is appended after the calldata so indexers can attribute the transaction
// without affecting execution.
func (e *Encoder) BuildBatch(calls []domain.Call, attribution []byte, gas uint64) domain.Batch {
	c := newCalldata(selMulticall)
	c.putOffset(wordLen)
	c.putUint64(uint64(len(calls)))

	// Element offsets are relative to the start of the array data (the word
	// after the length word).
	off := len(calls) * wordLen
	for _, call := range calls {
		c.putOffset(off)
		off += paddedLen(call.Data)
	}
	for _, call := range calls {
		c.putBytesTail(call.Data)
	}

	data := c.bytes()
	if len(attribution) > 0 {
		data = append(data, attribution...)
	}

	value := new(big.Int)
	for _, call := range calls {
		value.Add(value, call.NativeValue())
	}

	return domain.Batch{To: e.Bundler, Data: data, Value: value, Gas: gas}
}
