package wire

import "github.com/quiverio/quiver/bitio"

// FragmentHeaderSize is the fixed 5-byte header prepended to every
// fragment datagram: 1 prefix byte, 2 sequence bytes, 1 fragment id
// byte, 1 (total fragments - 1) byte.
const FragmentHeaderSize = 5

// WriteFragmentHeader encodes a fragment header. totalFragments must be
// in [1, 256]; it is carried on the wire biased by one so it fits a
// single byte.
func WriteFragmentHeader(w *bitio.Writer, sequence uint16, fragmentID, totalFragments int) error {
	if err := w.WriteBits(uint32(prefixFragmentBit), 8); err != nil {
		return err
	}
	if err := w.WriteBits(uint32(sequence), 16); err != nil {
		return err
	}
	if err := w.WriteBits(uint32(fragmentID), 8); err != nil {
		return err
	}
	return w.WriteBits(uint32(totalFragments-1), 8)
}

// ReadFragmentHeader decodes a fragment header written by
// WriteFragmentHeader. totalFragments is returned de-biased (1..256).
func ReadFragmentHeader(r *bitio.Reader) (sequence uint16, fragmentID, totalFragments int, err error) {
	p, err := r.ReadBits(8)
	if err != nil {
		return 0, 0, 0, err
	}
	if byte(p)&prefixFragmentBit == 0 {
		return 0, 0, 0, ErrNotFragmentHeader
	}
	sv, err := r.ReadBits(16)
	if err != nil {
		return 0, 0, 0, err
	}
	fv, err := r.ReadBits(8)
	if err != nil {
		return 0, 0, 0, err
	}
	tv, err := r.ReadBits(8)
	if err != nil {
		return 0, 0, 0, err
	}
	return uint16(sv), int(fv), int(tv) + 1, nil
}
