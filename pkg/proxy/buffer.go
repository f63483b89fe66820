package proxy

import (
	"bytes"
	"io"
)

// readCapped buffers at most max bytes from r. If the body fits, the full
// contents are returned with overflow false. If it exceeds the ceiling, the
// buffered prefix is returned with overflow true and the remainder is left
// unread on r, so the caller can degrade to streaming passthrough instead of
// serving a half-buffered corrupted body.
func readCapped(r io.Reader, max int64) (buf []byte, overflow bool, err error) {
	buf, err = io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(buf)) > max {
		return buf, true, nil
	}
	return buf, false, nil
}

// replayReader re-streams an already-buffered prefix followed by the unread
// remainder of the origin body.
func replayReader(prefix []byte, rest io.Reader) io.Reader {
	if len(prefix) == 0 {
		return rest
	}
	return io.MultiReader(bytes.NewReader(prefix), rest)
}
