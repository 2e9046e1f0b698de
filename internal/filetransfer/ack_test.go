package filetransfer

import (
	"bytes"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAckTransportRoundTrip(t *testing.T) {
	data := make([]byte, step*12+1234) // spans several step boundaries and the high watermark
	for i := range data {
		data[i] = byte(i)
	}

	dataR, dataW := net.Pipe()
	// The ack direction is buffered, as a network stream is: AckWriter reads
	// acks only once the high watermark is reached, so an unbuffered pipe
	// would block AckReader on its first progress ack.
	ackR, ackW, err := os.Pipe()
	require.NoError(t, err)
	defer ackR.Close()

	var out bytes.Buffer
	writerErr := make(chan error, 1)
	readerErr := make(chan error, 1)

	go func() { writerErr <- AckWriter(ackR, dataW, bytes.NewReader(data)) }()
	go func() {
		err := AckReader(dataR, ackW, nopCloseWriter{&out})
		ackW.Close()
		readerErr <- err
	}()

	require.NoError(t, <-writerErr)
	require.NoError(t, <-readerErr)
	require.True(t, bytes.Equal(out.Bytes(), data), "round-tripped data mismatch: got %d bytes, want %d", out.Len(), len(data))
}

func TestAckTransportRoundTripSmallPayload(t *testing.T) {
	data := []byte("hello, mesh")

	dataR, dataW := net.Pipe()
	ackR, ackW := net.Pipe()

	var out bytes.Buffer
	writerErr := make(chan error, 1)
	readerErr := make(chan error, 1)

	go func() { writerErr <- AckWriter(ackR, dataW, bytes.NewReader(data)) }()
	go func() {
		err := AckReader(dataR, ackW, nopCloseWriter{&out})
		ackW.Close()
		readerErr <- err
	}()

	require.NoError(t, <-writerErr)
	require.NoError(t, <-readerErr)
	require.Equal(t, data, out.Bytes())
}

// nopCloseWriter lets a *bytes.Buffer stand in for target without AckReader
// attempting to close the net.Pipe end that it isn't (bytes.Buffer has no
// Close method of its own, so this only matters if a future target type
// does and shouldn't be shut down early).
type nopCloseWriter struct{ w *bytes.Buffer }

func (n nopCloseWriter) Write(p []byte) (int, error) { return n.w.Write(p) }
