// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	archiveMagic   = "OPSNAP"
	formatVersion  = 0x01
	headerSize     = 9
	flagEncrypted  = 0x01
	compressionLZ4 = 0x01
	compressionZST = 0x02
)

// header describes one archive file.
type header struct {
	compression byte
	encrypted   bool
}

func (h header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf, archiveMagic)
	buf[6] = formatVersion
	buf[7] = h.compression
	if h.encrypted {
		buf[8] |= flagEncrypted
	}
	return buf
}

func parseHeader(buf []byte) (header, error) {
	if len(buf) < headerSize || string(buf[:6]) != archiveMagic {
		return header{}, fmt.Errorf("not an Outpost snapshot archive")
	}
	if buf[6] != formatVersion {
		return header{}, fmt.Errorf("archive format version %d is not supported (expected %d)", buf[6], formatVersion)
	}
	switch buf[7] {
	case compressionLZ4, compressionZST:
	default:
		return header{}, fmt.Errorf("unknown compression tag %d", buf[7])
	}
	return header{
		compression: buf[7],
		encrypted:   buf[8]&flagEncrypted != 0,
	}, nil
}

func compressionTag(name string) (byte, error) {
	switch name {
	case "lz4":
		return compressionLZ4, nil
	case "zstd":
		return compressionZST, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// payloadWriter builds the write chain for an archive payload:
// optional age encryption, then compression. Closing the returned
// writer flushes the whole chain but not the underlying sink.
func payloadWriter(sink io.Writer, h header, recipients []age.Recipient) (io.WriteCloser, error) {
	target := sink
	var closers []io.Closer

	if h.encrypted {
		encryptWriter, err := age.Encrypt(target, recipients...)
		if err != nil {
			return nil, fmt.Errorf("starting encryption: %w", err)
		}
		closers = append(closers, encryptWriter)
		target = encryptWriter
	}

	switch h.compression {
	case compressionLZ4:
		compressor := lz4.NewWriter(target)
		closers = append(closers, compressor)
		target = compressor
	case compressionZST:
		compressor, err := zstd.NewWriter(target)
		if err != nil {
			return nil, fmt.Errorf("starting zstd: %w", err)
		}
		closers = append(closers, compressor)
		target = compressor
	}

	return &chainWriter{writer: target, closers: closers}, nil
}

// payloadReader builds the matching read chain: optional age
// decryption, then decompression.
func payloadReader(source io.Reader, h header, identities []age.Identity) (io.Reader, error) {
	if h.encrypted {
		if len(identities) == 0 {
			return nil, fmt.Errorf("archive is encrypted but no identity is configured")
		}
		decrypted, err := age.Decrypt(source, identities...)
		if err != nil {
			return nil, fmt.Errorf("decrypting archive: %w", err)
		}
		source = decrypted
	}

	switch h.compression {
	case compressionLZ4:
		return lz4.NewReader(source), nil
	case compressionZST:
		decompressor, err := zstd.NewReader(source)
		if err != nil {
			return nil, fmt.Errorf("starting zstd: %w", err)
		}
		return decompressor.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unknown compression tag %d", h.compression)
	}
}

// chainWriter closes a writer chain innermost-first.
type chainWriter struct {
	writer  io.Writer
	closers []io.Closer
}

func (c *chainWriter) Write(p []byte) (int, error) { return c.writer.Write(p) }

func (c *chainWriter) Close() error {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			return err
		}
	}
	return nil
}
