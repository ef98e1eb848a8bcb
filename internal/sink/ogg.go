package sink

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Maximum bytes a single packet may grow to before the stream is considered
// corrupt. Opus audio packets are a few KB at most.
const maxPacketSize = 1 << 20

var (
	oggCapture = []byte("OggS")

	// ErrBadOggPage reports a malformed container page.
	ErrBadOggPage = errors.New("malformed ogg page")
)

// Flag set on a page whose first segment continues the previous page's
// last packet.
const flagContinuation = 0x01

// oggPacketReader extracts logical packets from an ogg stream. The transcode
// process wraps opus frames in ogg pages; the voice gateway wants the bare
// frames, one send per packet.
type oggPacketReader struct {
	r *bufio.Reader

	// packets already split out of the current page
	pending [][]byte

	// partial packet carried over a page boundary
	carry []byte
}

func newOggPacketReader(r io.Reader) *oggPacketReader {
	return &oggPacketReader{r: bufio.NewReaderSize(r, 32*1024)}
}

// Next returns the next complete packet. io.EOF signals a cleanly drained
// stream; any other error means the stream is corrupt or the source failed.
func (o *oggPacketReader) Next() ([]byte, error) {
	for len(o.pending) == 0 {
		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
	pkt := o.pending[0]
	o.pending = o.pending[1:]
	return pkt, nil
}

// readPage consumes one page and appends its completed packets to pending.
func (o *oggPacketReader) readPage() error {
	var header [27]byte
	if _, err := io.ReadFull(o.r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}
	if !bytes.Equal(header[:4], oggCapture) {
		return fmt.Errorf("%w: bad capture pattern", ErrBadOggPage)
	}
	if header[4] != 0 {
		return fmt.Errorf("%w: unsupported version %d", ErrBadOggPage, header[4])
	}

	headerType := header[5]
	segCount := int(header[26])

	table := make([]byte, segCount)
	if _, err := io.ReadFull(o.r, table); err != nil {
		return fmt.Errorf("%w: truncated segment table", ErrBadOggPage)
	}

	if headerType&flagContinuation == 0 && len(o.carry) > 0 {
		// Previous packet never completed; drop it rather than splice
		// unrelated audio together
		o.carry = nil
	}

	packet := o.carry
	o.carry = nil

	for _, lacing := range table {
		seg := make([]byte, int(lacing))
		if _, err := io.ReadFull(o.r, seg); err != nil {
			return fmt.Errorf("%w: truncated segment", ErrBadOggPage)
		}
		packet = append(packet, seg...)
		if len(packet) > maxPacketSize {
			return fmt.Errorf("%w: packet exceeds %d bytes", ErrBadOggPage, maxPacketSize)
		}
		if lacing < 255 {
			o.pending = append(o.pending, packet)
			packet = nil
		}
	}

	// A trailing 255 lacing value leaves the packet open for the next page
	o.carry = packet
	return nil
}

// isOpusMetaPacket reports whether a packet is one of the opus stream headers
// rather than audio. These must never reach the voice gateway.
func isOpusMetaPacket(pkt []byte) bool {
	return bytes.HasPrefix(pkt, []byte("OpusHead")) || bytes.HasPrefix(pkt, []byte("OpusTags"))
}

// writeOggPage serializes packets into a single page, used by tests to build
// streams without a transcoder.
func writeOggPage(w io.Writer, headerType byte, seq uint32, segments []byte, payload []byte) error {
	header := make([]byte, 27)
	copy(header, oggCapture)
	header[5] = headerType
	binary.LittleEndian.PutUint32(header[14:], 1) // serial
	binary.LittleEndian.PutUint32(header[18:], seq)
	header[26] = byte(len(segments))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(segments); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
