/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package update

import (
	"errors"
	"fmt"
	"io"

	"github.com/kentakayama/zeus-over-http/internal/domain"
)

const chunkSize = 1024

// ErrSinkWrite marks failures writing to the device, as opposed to reading
// the artifact. Nothing is retried or rolled back.
var ErrSinkWrite = errors.New("write to client failed")

// StreamDelta writes the manifest read from src to w with the signed
// challenge spliced in. With no offset the challenge is appended; with an
// offset O the first O manifest bytes come first, then the challenge, then
// the rest of the manifest.
func StreamDelta(w io.Writer, src io.Reader, signed []byte, offset *int64) (int64, error) {
	var written int64
	if offset != nil {
		n, err := copyChunked(w, io.LimitReader(src, *offset))
		written += n
		if err != nil {
			return written, err
		}
		if n < *offset {
			return written, fmt.Errorf("%w: manifest shorter than splice offset %d", domain.ErrArtifactUnavailable, *offset)
		}
		m, err := w.Write(signed)
		written += int64(m)
		if err != nil {
			return written, fmt.Errorf("%w: %v", ErrSinkWrite, err)
		}
		n, err = copyChunked(w, src)
		return written + n, err
	}

	n, err := copyChunked(w, src)
	written += n
	if err != nil {
		return written, err
	}
	m, err := w.Write(signed)
	written += int64(m)
	if err != nil {
		return written, fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}
	return written, nil
}

// copyChunked copies with a fixed 1 KiB buffer so memory stays bounded
// whatever the artifact size. Read errors are ErrArtifactUnavailable,
// write errors ErrSinkWrite.
func copyChunked(w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, fmt.Errorf("%w: %v", ErrSinkWrite, werr)
			}
			if m != n {
				return written, fmt.Errorf("%w: %v", ErrSinkWrite, io.ErrShortWrite)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("%w: %v", domain.ErrArtifactUnavailable, rerr)
		}
	}
}
