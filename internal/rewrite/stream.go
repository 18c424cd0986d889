package rewrite

// DefaultMaxHeaderBytes caps head assembly when no explicit limit is configured.
const DefaultMaxHeaderBytes = 8192

// Stream applies a Rewriter once to the head of a single directional stream.
//
// While the head is incomplete the stream holds the bytes it was fed, up to the
// configured limit. Once the head is complete, cannot match, or the limit is
// reached, the rewriter runs exactly once and the stream becomes a pass-through.
// A Stream is not safe for concurrent use; each direction of a pair owns one.
type Stream struct {
	rw       Rewriter
	limit    int
	onResult func(Result)

	head []byte
	done bool
}

// NewStream returns a Stream driven by rw. A nil rw yields a pass-through stream.
// onResult, when non-nil, is called once if the rewrite fires.
func NewStream(rw Rewriter, limit int, onResult func(Result)) *Stream {
	if limit <= 0 {
		limit = DefaultMaxHeaderBytes
	}
	return &Stream{
		rw:       rw,
		limit:    limit,
		onResult: onResult,
		done:     rw == nil,
	}
}

// Done reports whether the rewrite attempt has already happened.
func (s *Stream) Done() bool { return s.done }

// Feed consumes one chunk and returns the bytes ready to be forwarded, which may
// be empty while the head is still being assembled. The returned slice aliases
// chunk once the stream is a pass-through, so callers must write it before
// reusing their read buffer.
func (s *Stream) Feed(chunk []byte) []byte {
	if s.done {
		return chunk
	}
	s.head = append(s.head, chunk...)
	if len(s.head) < s.limit && s.rw.Pending(s.head) {
		return nil
	}
	return s.finish()
}

// Flush releases any held bytes at end of stream, attempting the rewrite first.
func (s *Stream) Flush() []byte {
	if s.done {
		return nil
	}
	if len(s.head) == 0 {
		s.done = true
		return nil
	}
	return s.finish()
}

func (s *Stream) finish() []byte {
	s.done = true
	head := s.head
	s.head = nil

	res, ok := s.rw.Rewrite(head)
	if ok && s.onResult != nil {
		s.onResult(res)
	}
	return res.Data
}
