package trace

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"

	"github.com/l7mp/dbsp/pkg/zset"
)

// ErrCorrupt marks batch blobs that fail to decode.
var ErrCorrupt = errors.New("corrupt batch encoding")

const (
	codecVersion byte = 1
	headerLen         = 1 + 8
)

// EncodeBatch serializes a batch. The blob is a version byte, the xxhash64 of the payload and
// the snappy-compressed payload. The payload holds the time interval, the number of entries
// and each entry as length-prefixed key and value encodings, the time and the weight.
func EncodeBatch(b *Batch) []byte {
	payload := binary.AppendUvarint(nil, b.lower)
	payload = binary.AppendUvarint(payload, b.upper)
	payload = binary.AppendUvarint(payload, uint64(len(b.entries)))
	var scratch []byte
	for i := range b.entries {
		e := &b.entries[i]
		scratch = e.Key.AppendKey(scratch[:0])
		payload = binary.AppendUvarint(payload, uint64(len(scratch)))
		payload = append(payload, scratch...)
		scratch = e.Val.AppendKey(scratch[:0])
		payload = binary.AppendUvarint(payload, uint64(len(scratch)))
		payload = append(payload, scratch...)
		payload = binary.AppendUvarint(payload, e.Time)
		payload = binary.AppendVarint(payload, e.Weight)
	}

	compressed := snappy.Encode(nil, payload)
	out := make([]byte, 0, headerLen+len(compressed))
	out = append(out, codecVersion)
	out = binary.BigEndian.AppendUint64(out, xxhash.Sum64(compressed))
	return append(out, compressed...)
}

func corrupt(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorrupt)
}

// DecodeBatch deserializes a batch written by EncodeBatch.
func DecodeBatch(blob []byte) (*Batch, error) {
	if len(blob) < headerLen {
		return nil, corrupt("batch blob too short (%d bytes)", len(blob))
	}
	if blob[0] != codecVersion {
		return nil, corrupt("unsupported batch encoding version %d", blob[0])
	}
	sum, compressed := binary.BigEndian.Uint64(blob[1:headerLen]), blob[headerLen:]
	if xxhash.Sum64(compressed) != sum {
		return nil, corrupt("batch checksum mismatch")
	}
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decompress batch"), ErrCorrupt)
	}

	r := reader{buf: payload}
	lower, upper, n := r.uvarint(), r.uvarint(), r.uvarint()
	if r.err != nil {
		return nil, r.err
	}
	if n > uint64(len(payload)) {
		return nil, corrupt("batch claims %d entries in %d bytes", n, len(payload))
	}
	b := &Batch{lower: lower, upper: upper, entries: make([]Entry, 0, n)}
	for i := uint64(0); i < n; i++ {
		key, val := r.tuple(), r.tuple()
		t, w := r.uvarint(), r.varint()
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "entry %d", i)
		}
		if w == 0 {
			return nil, corrupt("entry %d has zero weight", i)
		}
		e := Entry{Key: key, Val: val, Time: t, Weight: w}
		if len(b.entries) > 0 && compareEntries(&b.entries[len(b.entries)-1], &e) >= 0 {
			return nil, corrupt("entry %d out of order", i)
		}
		b.entries = append(b.entries, e)
	}
	if len(r.buf) != 0 {
		return nil, corrupt("%d trailing bytes", len(r.buf))
	}
	return b, nil
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = corrupt("invalid uvarint")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.err = corrupt("invalid varint")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) tuple() zset.Tuple {
	l := r.uvarint()
	if r.err != nil {
		return nil
	}
	if l > uint64(len(r.buf)) {
		r.err = corrupt("tuple length %d exceeds remaining %d bytes", l, len(r.buf))
		return nil
	}
	t, err := zset.DecodeTuple(r.buf[:l])
	if err != nil {
		r.err = errors.Mark(err, ErrCorrupt)
		return nil
	}
	r.buf = r.buf[l:]
	return t
}
