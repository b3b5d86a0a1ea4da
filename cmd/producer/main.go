// Package main provides the producer device CLI: it feeds a running service
// over MQTT from a recorded GPX lap or a serial GPS receiver.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"backend-etaone/internal/ingest"
	"backend-etaone/internal/producer"

	"github.com/spf13/cobra"
)

const (
	defaultBroker = "tcp://localhost:1883"
	defaultPrefix = "etaone"
	defaultBaud   = 9600
)

var (
	broker   string
	clientID string
	prefix   string

	replayFile   string
	replaySpeed  float64
	replayRebase bool

	serialPort string
	serialBaud uint
)

// newPublisher is replaced in tests.
var newPublisher = func() (producer.Publisher, func(), error) {
	client, err := ingest.Connect(broker, clientID)
	if err != nil {
		return nil, nil, err
	}
	return producer.NewMQTTPublisher(client, prefix), func() { client.Disconnect(250) }, nil
}

var openSerial = producer.OpenSerial

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "producer",
		Short:        "Feed positions to the ETA One service over MQTT",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&broker, "broker", defaultBroker, "MQTT broker URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "etaone-producer", "MQTT client id")
	rootCmd.PersistentFlags().StringVar(&prefix, "prefix", defaultPrefix, "MQTT topic prefix")

	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newSerialCmd())
	return rootCmd
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a GPX track at its recorded pace",
		Args:  cobra.NoArgs,
		RunE:  runReplayCmd,
	}
	cmd.Flags().StringVar(&replayFile, "file", "", "GPX file to replay")
	cmd.Flags().Float64Var(&replaySpeed, "speed", 1, "playback speed factor")
	cmd.Flags().BoolVar(&replayRebase, "rebase", true, "shift timestamps to the current time")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runReplayCmd(cmd *cobra.Command, _ []string) error {
	if replaySpeed <= 0 {
		return fmt.Errorf("--speed must be positive")
	}
	points, err := producer.LoadGPX(replayFile)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", replayFile, err)
	}

	pub, closeFn, err := newPublisher()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer closeFn()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	n, err := producer.Replay(ctx, points, pub, producer.ReplayOptions{Speed: replaySpeed, Rebase: replayRebase})
	if err != nil {
		return fmt.Errorf("replay stopped after %d points: %w", n, err)
	}
	return nil
}

func newSerialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serial",
		Short: "Forward NMEA sentences from a serial GPS receiver",
		Args:  cobra.NoArgs,
		RunE:  runSerialCmd,
	}
	cmd.Flags().StringVar(&serialPort, "port", "/dev/ttyUSB0", "serial device")
	cmd.Flags().UintVar(&serialBaud, "baud", defaultBaud, "baud rate")
	return cmd
}

func runSerialCmd(cmd *cobra.Command, _ []string) error {
	port, err := openSerial(serialPort, serialBaud)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", serialPort, err)
	}

	pub, closeFn, err := newPublisher()
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer closeFn()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	go func() {
		<-ctx.Done()
		_ = port.Close()
	}()

	n, err := producer.ForwardNMEA(ctx, port, pub)
	log.Printf("producer: forwarded %d sentences", n)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
