package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avsafe-data/avsafe.report/internal/integrity"
	"github.com/avsafe-data/avsafe.report/internal/minute"
	"github.com/avsafe-data/avsafe.report/internal/pipeline"
	"github.com/avsafe-data/avsafe.report/internal/sensor"
	"github.com/avsafe-data/avsafe.report/internal/timeutil"
)

var (
	capturePort     string
	captureBaud     int
	captureOut      string
	captureDevice   string
	captureDuration time.Duration
	captureSign     bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture minute windows from a serial frontend and seal them",
	Long: `Reads sample frames from a serial-attached capture frontend,
assembles them into minute windows, extracts the audio and light
descriptors, and writes the sealed, chained records as JSON Lines.

Raw samples are discarded as soon as a window's descriptors have been
extracted; only descriptors are written. With --duration the capture
stops by itself; otherwise it runs until the stream ends or the process
is interrupted.`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVar(&capturePort, "port", "", "Serial port path (default from AVSAFE_SERIAL_PORT)")
	captureCmd.Flags().IntVar(&captureBaud, "baud", 0, "Baud rate (default from AVSAFE_SERIAL_BAUD)")
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "-", "Output file (- for stdout)")
	captureCmd.Flags().StringVar(&captureDevice, "device", "", "Device id stamped on each record")
	captureCmd.Flags().DurationVar(&captureDuration, "duration", 0, "Stop after this long (0 runs until the stream ends)")
	captureCmd.Flags().BoolVar(&captureSign, "sign", false, "Sign records with the configured key")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if capturePort == "" {
		capturePort = cfg.SerialPort
	}
	if capturePort == "" {
		return fmt.Errorf("no serial port: set --port or AVSAFE_SERIAL_PORT")
	}
	if captureBaud == 0 {
		captureBaud = cfg.SerialBaud
	}
	if captureDevice == "" {
		captureDevice = cfg.DeviceID
	}

	port, err := sensor.OpenPort(capturePort, sensor.PortOptions{BaudRate: captureBaud})
	if err != nil {
		return err
	}
	src := sensor.NewSource(port)
	defer src.Close()

	windows, err := captureWindows(cmd.Context(), timeutil.RealClock{}, src, captureDuration)
	if err != nil {
		return err
	}
	if len(windows) == 0 {
		return fmt.Errorf("no complete minute windows captured")
	}

	pipeCfg := pipeline.Config{
		DeviceID: captureDevice,
		Audio:    cfg.AudioConfig(),
		Light:    cfg.LightConfig(),
	}
	if captureSign {
		signer, err := integrity.NewSigner(cfg.SignerConfig())
		if err != nil {
			return err
		}
		pipeCfg.Signer = signer
	}

	res, err := pipeline.Run(context.Background(), windows, pipeCfg)
	if err != nil {
		return err
	}
	for _, warning := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
	}
	for _, werr := range res.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", werr)
	}

	w, closer, err := openOutput(captureOut)
	if err != nil {
		return err
	}
	defer closer.Close()
	if err := minute.WriteRecords(w, res.Records); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d records to %s\n", len(res.Records), captureOut)
	return nil
}

// captureWindows drains the source until the stream ends, ctx is cancelled,
// or maxDuration elapses on clk. Elapsing the duration closes the port to
// unblock the reader; read errors after that point are expected and
// swallowed.
func captureWindows(ctx context.Context, clk timeutil.Clock, src *sensor.Source, maxDuration time.Duration) ([]pipeline.Window, error) {
	out := make(chan pipeline.Window, 16)
	runErr := make(chan error, 1)
	go func() {
		runErr <- src.Run(ctx, out)
		close(out)
	}()

	var deadline <-chan time.Time
	if maxDuration > 0 {
		deadline = clk.After(maxDuration)
	}

	var windows []pipeline.Window
	timedOut := false
	for {
		select {
		case <-deadline:
			timedOut = true
			deadline = nil
			src.Close()

		case w, ok := <-out:
			if !ok {
				err := <-runErr
				if err != nil && (timedOut || errors.Is(err, context.Canceled)) {
					err = nil
				}
				return windows, err
			}
			windows = append(windows, w)
		}
	}
}
