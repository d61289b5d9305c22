package envelope

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"

	"github.com/curately/atsync/telemetry"
)

// Message attribute keys understood by downstream consumers.
const (
	AttrContentEncoding = "contentEncoding"
	AttrAtsName         = "atsName"

	encodingDeflateBase64 = "deflate+base64"
)

// flateWriterPool reuses deflate writers across publishes.
var flateWriterPool = sync.Pool{
	New: func() any {
		w, _ := flate.NewWriter(io.Discard, flate.BestSpeed)
		return w
	},
}

// Compressor deflates oversized wire messages before transmission. Messages
// at or under the threshold pass through untouched. A threshold of 0
// compresses everything.
type Compressor struct {
	Threshold int
}

// Encode returns the bytes to put on the wire plus the message attributes.
// Compressed output is base64 so it survives text-only transports; the
// attributes tell the consumer how to reverse the encoding.
func (c *Compressor) Encode(data []byte, provider string) ([]byte, map[string]string, error) {
	attrs := map[string]string{AttrAtsName: provider}
	if c.Threshold > 0 && len(data) <= c.Threshold {
		return data, attrs, nil
	}

	var buf bytes.Buffer
	w := flateWriterPool.Get().(*flate.Writer)
	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		flateWriterPool.Put(w)
		return nil, nil, fmt.Errorf("deflate failed: %w", err)
	}
	if err := w.Close(); err != nil {
		flateWriterPool.Put(w)
		return nil, nil, fmt.Errorf("deflate close failed: %w", err)
	}
	flateWriterPool.Put(w)

	encoded := make([]byte, base64.StdEncoding.EncodedLen(buf.Len()))
	base64.StdEncoding.Encode(encoded, buf.Bytes())

	attrs[AttrContentEncoding] = encodingDeflateBase64
	telemetry.CompressedPayloadsTotal.Inc()
	return encoded, attrs, nil
}

// Decode reverses Encode for consumers and tests.
func Decode(data []byte, attrs map[string]string) ([]byte, error) {
	if attrs[AttrContentEncoding] != encodingDeflateBase64 {
		return data, nil
	}

	raw := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(raw, data)
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}

	r := flate.NewReader(bytes.NewReader(raw[:n]))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("inflate failed: %w", err)
	}
	return out, nil
}
