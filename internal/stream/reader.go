package stream

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const readBufferSize = 4096

// Reader pulls decoded text fragments out of a chunked byte stream. Bytes of a multi-byte character split
// across reads are held back in a partial buffer until the character is complete, so a fragment never ends
// in the middle of a character. Invalid sequences decode to U+FFFD.
type Reader struct {
	body    io.ReadCloser
	decoder transform.Transformer

	buf     []byte
	pending []byte
	dst     []byte
	done    bool
}

// NewReader returns a Reader decoding body as UTF-8.
func NewReader(body io.ReadCloser) *Reader {
	return &Reader{
		body:    body,
		decoder: unicode.UTF8.NewDecoder(),
		buf:     make([]byte, readBufferSize),
	}
}

// Next blocks until the next non-empty fragment is decoded and returns it. It returns io.EOF once the stream
// is exhausted and every buffered byte has been flushed.
func (r *Reader) Next() (string, error) {
	for !r.done {
		n, err := r.body.Read(r.buf)
		atEOF := errors.Is(err, io.EOF)
		if err != nil && !atEOF {
			return "", fmt.Errorf("error reading stream: %w", err)
		}
		if atEOF {
			r.done = true
		}

		r.pending = append(r.pending, r.buf[:n]...)
		text, err := r.decode(atEOF)
		if err != nil {
			return "", fmt.Errorf("error decoding stream: %w", err)
		}
		if text != "" {
			return text, nil
		}
	}
	return "", io.EOF
}

// All returns an iterator over the remaining fragments. A read or decode error is yielded once and ends
// the iteration; end of data ends it silently.
func (r *Reader) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			text, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// Close closes the underlying body.
func (r *Reader) Close() error {
	return r.body.Close()
}

func (r *Reader) decode(atEOF bool) (string, error) {
	var out []byte
	for len(r.pending) > 0 {
		// An invalid byte expands to a three-byte replacement character.
		if need := len(r.pending)*3 + utf8.UTFMax; cap(r.dst) < need {
			r.dst = make([]byte, need)
		}
		dst := r.dst[:cap(r.dst)]

		nDst, nSrc, err := r.decoder.Transform(dst, r.pending, atEOF)
		out = append(out, dst[:nDst]...)
		r.pending = r.pending[:copy(r.pending, r.pending[nSrc:])]

		switch {
		case err == nil:
			return string(out), nil
		case errors.Is(err, transform.ErrShortSrc):
			// Incomplete trailing character, wait for the next read.
			return string(out), nil
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				r.dst = make([]byte, 2*cap(r.dst))
			}
		default:
			return "", err
		}
	}
	return string(out), nil
}
