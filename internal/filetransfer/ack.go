package filetransfer

import (
	"encoding/binary"
	"io"
)

// The windowed-ack transport lets a receiver bound how far ahead of its own
// disk-write progress a sender may race, without either side stalling on a
// round trip per chunk. Ported step-for-step from the original daemon's
// ack.rs: STEP is both the read buffer size and the ack granularity,
// HIGH_WATERMARK is the most unacknowledged bytes a writer will send before
// blocking to drain acks back down to 2*STEP.
const (
	step          = 100 * 1024       // 100 KiB
	highWatermark = step * 10        // 1000 KiB
	ackSize       = 8                // one big-endian uint64 per ack
)

// AckReader runs the receiving half of a transfer: it copies bytes arriving
// on r into target, and every time it has written at least one STEP's worth
// since its last ack, writes the cumulative byte count to w as a progress
// ack. On EOF from r it closes target if it implements io.Closer, and writes
// a final ack carrying the total byte count (the termination
// handshake the writer side waits for).
func AckReader(r io.Reader, w io.Writer, target io.Writer) error {
	buf := make([]byte, step)
	var totalRead, lastWrite uint64

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := target.Write(buf[:n]); werr != nil {
				return werr
			}
			totalRead += uint64(n)
			if totalRead-lastWrite >= step {
				lastWrite = totalRead
				if err := writeAck(w, lastWrite); err != nil {
					return err
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	if c, ok := target.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return writeAck(w, totalRead)
}

// AckWriter runs the sending half: it copies bytes from target to w, pausing
// whenever more than HIGH_WATERMARK bytes are unacknowledged to drain acks
// from r back down to within 2*STEP, and performs the same final-ack
// handshake AckReader expects once target is exhausted.
func AckWriter(r io.Reader, w io.Writer, target io.Reader) error {
	buf := make([]byte, step)
	var totalWrite, lastRead uint64

	for {
		if totalWrite-lastRead >= highWatermark {
			for totalWrite-lastRead > step*2 {
				ack, err := readAck(r)
				if err != nil {
					return err
				}
				lastRead = ack
			}
		}

		n, err := target.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			totalWrite += uint64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	// half-close the outbound side so the reader observes EOF and sends its
	// final ack; mirrors the original's writer.shutdown() call. CloseWrite is
	// used where w has it (a network.Stream), so acks can still be read from
	// the same stream; otherwise w is closed.
	if c, ok := w.(interface{ CloseWrite() error }); ok {
		if err := c.CloseWrite(); err != nil {
			return err
		}
	} else if c, ok := w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}

	for totalWrite-lastRead > step {
		ack, err := readAck(r)
		if err != nil {
			return err
		}
		lastRead = ack
	}
	_, err := readAck(r) // the final total-byte-count ack
	return err
}

func writeAck(w io.Writer, total uint64) error {
	var b [ackSize]byte
	binary.BigEndian.PutUint64(b[:], total)
	_, err := w.Write(b[:])
	return err
}

func readAck(r io.Reader) (uint64, error) {
	var b [ackSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
