// Package uf2 implements the [UF2] file format: the container format
// p1150 firmware images ship in ahead of being chunked into bl_block
// uploads.
//
// [UF2]: https://github.com/microsoft/uf2
package uf2

import (
	"encoding/binary"
	"errors"
	"io"
)

// Reader unwraps a UF2 container into the flat byte stream it carries.
type Reader struct {
	StartAddr uint32

	r      io.Reader
	addr   uint32
	family FamilyID
	header blockHeader
	footer blockFooter
	// idx into the payload of the current block.
	idx uint32
}

// FamilyID filters which blocks of a multi-target UF2 file a Reader
// accepts. FamilyAny accepts every block regardless of its tag,
// appropriate for a single-target firmware image that doesn't bother
// setting one.
type FamilyID uint32

// FamilyAny disables family filtering.
const FamilyAny FamilyID = 0

type blockHeader struct {
	b [headerSize]byte
}

// blockFooter has enough space for the payload padding and the footer.
type blockFooter struct {
	b [blockSize - headerSize]byte
}

const (
	blockSize  = 512
	headerSize = 32
	magic1     = 0x0A324655
	magic2     = 0x9E5D5157
	magicEnd   = 0x0AB16F30

	flagNotMainFlash = 0x00000001
	flagFamilyID     = 0x00002000
)

// NewReader returns a Reader that unwraps blocks from r. If family is
// FamilyAny, every block is accepted regardless of its family tag;
// otherwise blocks tagged for a different family are skipped.
func NewReader(r io.Reader, family FamilyID) *Reader {
	return &Reader{
		r:      r,
		family: family,
		// Set index so the first read won't read a block footer.
		idx: blockSize - headerSize,
	}
}

func (r *Reader) Read(buf []byte) (int, error) {
	if err := r.loadBlock(); err != nil {
		return 0, err
	}
	n := min(len(buf), int(r.header.PayloadSize()-r.idx))
	n, err := r.r.Read(buf[:n])
	r.idx += uint32(n)
	return n, err
}

func (r *Reader) loadBlock() error {
	if r.idx < r.header.PayloadSize() {
		return nil
	}
	prevPayload := r.header.PayloadSize()
	for {
		// Read footer of previous block, if any.
		if n := len(r.footer.b) - int(r.idx); n > 0 {
			footer := r.footer.b[:n]
			if _, err := io.ReadFull(r.r, footer); err != nil {
				return err
			}
			me := binary.LittleEndian.Uint32(footer[len(footer)-4:])
			if me != magicEnd {
				return errors.New("uf2: invalid footer magic")
			}
		}

		r.idx = 0
		// Read header.
		if _, err := io.ReadFull(r.r, r.header.b[:]); err != nil {
			return err
		}
		bo := binary.LittleEndian
		m0 := bo.Uint32(r.header.b[0:4])
		m1 := bo.Uint32(r.header.b[4:8])
		if m0 != magic1 || m1 != magic2 {
			return errors.New("uf2: invalid header magic")
		}
		flags := r.header.Flags()
		if r.family != FamilyAny {
			if flags&flagFamilyID == 0 || r.header.FamilyID() != uint32(r.family) {
				continue
			}
			flags &^= flagFamilyID
		}
		if flags&flagNotMainFlash != 0 {
			flags &^= flagNotMainFlash
			continue
		}
		addr := r.header.TargetAddr()
		if r.StartAddr == 0 {
			r.StartAddr = addr
			r.addr = addr
		}
		// Reject non-contiguous data.
		if addr != r.addr+prevPayload {
			return errors.New("uf2: non-contiguous data")
		}
		r.addr = addr
		return nil
	}
}

func (b *blockHeader) Flags() uint32 {
	return b.getHeader(8)
}

func (b *blockHeader) TargetAddr() uint32 {
	return b.getHeader(12)
}

func (b *blockHeader) PayloadSize() uint32 {
	return b.getHeader(16)
}

func (b *blockHeader) FamilyID() uint32 {
	return b.getHeader(28)
}

func (b *blockHeader) getHeader(off int) uint32 {
	return binary.LittleEndian.Uint32(b.b[off : off+4])
}
