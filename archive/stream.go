package archive

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"

	"github.com/bibin-skaria/imagetree/internal/errors"
	"github.com/bibin-skaria/imagetree/internal/types"
)

// PAX record keys carrying the archiving filesystem's device and inode
// numbers. Written by GNU tar and star; absent from most image layers.
const (
	paxSchilyDev = "SCHILY.dev"
	paxSchilyIno = "SCHILY.ino"
)

// EntryStream decodes one layer's tar data into a lazy, single-pass sequence
// of entry records. File content is never read: each record carries a
// locator (offset and length within the decompressed stream) and the reader
// skips content bytes when advancing to the next header.
type EntryStream struct {
	layer   types.LayerRef
	tr      *tar.Reader
	counter *countingReader
	closers []io.Closer
}

// newEntryStream sniffs the blob's compression and wraps it accordingly.
// Gzip and zstd layers are supported alongside plain tar (gzip through the
// standard library, zstd through klauspost/compress).
func newEntryStream(r io.Reader, layer types.LayerRef) (*EntryStream, error) {
	br := bufio.NewReader(r)

	magic, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, errors.NewArchiveCorrupt(layer.Name, err)
	}

	s := &EntryStream{layer: layer}

	var decompressed io.Reader
	switch {
	case hasGzipMagic(magic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.NewArchiveCorrupt(layer.Name, err)
		}
		s.closers = append(s.closers, gz)
		decompressed = gz
	case hasZstdMagic(magic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, errors.NewArchiveCorrupt(layer.Name, err)
		}
		s.closers = append(s.closers, closerFunc(func() error {
			dec.Close()
			return nil
		}))
		decompressed = dec
	default:
		decompressed = br
	}

	s.counter = &countingReader{rd: decompressed}
	s.tr = tar.NewReader(s.counter)
	return s, nil
}

// Layer returns the layer this stream belongs to.
func (s *EntryStream) Layer() types.LayerRef {
	return s.layer
}

// Next returns the next entry record, or io.EOF after the final entry. Any
// other failure means the layer's tar stream is corrupt, which is fatal for
// the whole run: a missing layer invalidates every later layer's view.
func (s *EntryStream) Next() (*types.EntryRecord, error) {
	hdr, err := s.tr.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.NewArchiveCorrupt(s.layer.Name, err)
	}

	rec := &types.EntryRecord{
		Path:     hdr.Name,
		Kind:     entryKind(hdr.Typeflag),
		Mode:     os.FileMode(hdr.Mode) & os.ModePerm,
		UID:      hdr.Uid,
		GID:      hdr.Gid,
		ModTime:  hdr.ModTime,
		Linkname: hdr.Linkname,
	}

	if rec.Kind == types.KindRegular {
		rec.Size = hdr.Size
		// The tar reader sits exactly past the header blocks, at the
		// start of this entry's content.
		rec.Content = types.ContentLocator{
			Offset: s.counter.n,
			Length: hdr.Size,
		}
	}

	if v, ok := hdr.PAXRecords[paxSchilyDev]; ok {
		rec.Dev, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, ok := hdr.PAXRecords[paxSchilyIno]; ok {
		rec.Ino, _ = strconv.ParseUint(v, 10, 64)
	}

	return rec, nil
}

// Close releases any decompressors held by the stream.
func (s *EntryStream) Close() (err error) {
	for _, c := range s.closers {
		err = multierr.Append(err, c.Close())
	}
	s.closers = nil
	return err
}

// entryKind maps a tar type flag to the entry kind taxonomy. Unsupported
// header types (devices, FIFOs, and anything exotic) surface as KindOther
// rather than being rejected.
func entryKind(typeflag byte) types.EntryKind {
	switch typeflag {
	case tar.TypeReg:
		return types.KindRegular
	case tar.TypeDir:
		return types.KindDirectory
	case tar.TypeSymlink:
		return types.KindSymlink
	case tar.TypeLink:
		return types.KindHardlink
	default:
		return types.KindOther
	}
}

// countingReader tracks how many bytes have been consumed from the
// decompressed stream, which is what content locators are measured against.
type countingReader struct {
	rd io.Reader
	n  int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.rd.Read(p)
	c.n += int64(n)
	return n, err
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
