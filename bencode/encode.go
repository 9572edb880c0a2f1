package bencode

import (
	"fmt"
	"io"
	"sort"
)

// Encode writes the canonical bencode representation of v to w: dict keys
// in ascending lexicographic byte order, integers as shortest ASCII
// decimal. Encode is total on any Value built through this package's
// constructors or returned by Decode.
func (v Value) Encode(w io.Writer) error {
	switch v.Kind {
	case KindInt:
		_, err := fmt.Fprintf(w, "i%de", v.Int)
		return err
	case KindBytes:
		if _, err := fmt.Fprintf(w, "%d:", len(v.Bytes)); err != nil {
			return err
		}
		_, err := w.Write(v.Bytes)
		return err
	case KindList:
		if _, err := io.WriteString(w, "l"); err != nil {
			return err
		}
		for _, elem := range v.List {
			if err := elem.Encode(w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "e")
		return err
	case KindDict:
		if _, err := io.WriteString(w, "d"); err != nil {
			return err
		}
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := fmt.Fprintf(w, "%d:%s", len(k), k); err != nil {
				return err
			}
			if err := v.Dict[k].Encode(w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "e")
		return err
	default:
		return fmt.Errorf("bencode: encode: unknown kind %d", v.Kind)
	}
}

// EncodeToBytes is a convenience wrapper returning Encode's output as a
// byte slice.
func (v Value) EncodeToBytes() []byte {
	var buf []byte
	w := &byteSliceWriter{buf: &buf}
	// Encode never fails against a byteSliceWriter.
	_ = v.Encode(w)
	return buf
}

// byteSliceWriter is a zero-allocation-friendly io.Writer backed by a
// caller-owned byte slice pointer, avoiding a bytes.Buffer import at every
// call site that just wants bytes back.
type byteSliceWriter struct{ buf *[]byte }

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
