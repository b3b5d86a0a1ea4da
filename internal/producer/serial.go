package producer

import (
	"bufio"
	"context"
	"io"
	"log"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

// OpenSerial opens a GPS receiver port, 8N1.
func OpenSerial(port string, baud uint) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:        port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	rwc, err := serial.Open(opts)
	if err != nil {
		return nil, err
	}
	log.Printf("producer: serial port %s opened at %d baud", port, baud)
	return rwc, nil
}

// ForwardNMEA publishes every valid RMC and GGA sentence read from r until r
// is exhausted or ctx is cancelled, and returns how many were sent. Other
// sentence types and corrupt lines are skipped.
func ForwardNMEA(ctx context.Context, r io.Reader, pub Publisher) (int, error) {
	scanner := bufio.NewScanner(r)
	sent := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sentence, err := nmea.Parse(line)
		if err != nil {
			continue
		}
		switch sentence.DataType() {
		case nmea.TypeRMC, nmea.TypeGGA:
		default:
			continue
		}
		if err := pub.PublishNMEA(ctx, line); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, scanner.Err()
}
