package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/uutzinger/bleserial/internal/ptyio"
	"github.com/uutzinger/bleserial/pkg/link"
	"github.com/uutzinger/bleserial/pkg/serial"
	"github.com/uutzinger/bleserial/pkg/transport/bleuart"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge <address>",
	Short: "Bridge a UART peripheral to a local PTY",
	Long: `Connects to a Nordic UART peripheral and exposes it as a pseudo-terminal
device. Any program that speaks to a serial port can open the printed
/dev/pts path; bytes written there flow through the paced transmit path.`,
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().Uint16("mtu", link.DefaultMTU, "ATT MTU to request")
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	profile, err := link.ParseProfile(cfg.Profile)
	if err != nil {
		return err
	}
	mtu, _ := cmd.Flags().GetUint16("mtu")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp := bleuart.New(bleuart.Options{
		Address:        args[0],
		RequestedMTU:   mtu,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
	})
	port, err := serial.NewPort(tp, serial.Options{
		Profile:      profile,
		TxBufferSize: cfg.TxBufferSize,
		RxBufferSize: cfg.RxBufferSize,
		OverwriteRx:  cfg.OverwriteRx,
		Pacing:       cfg.Pacing,
		Adapt:        cfg.Adapt,
		TickInterval: cfg.TickInterval,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if err := cfg.ApplyOverrides(port.Classifier()); err != nil {
		return err
	}
	tp.Attach(port)

	if err := tp.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", args[0], err)
	}
	defer tp.RequestDisconnect()

	pty, err := ptyio.Open(ptyio.Options{
		ReadCap:  cfg.TxBufferSize,
		WriteCap: cfg.RxBufferSize,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer pty.Close()

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s %s <-> %s\n", green("bridged:"), args[0], pty.Name())
	fmt.Println("Press Ctrl+C to stop")

	tick := time.NewTicker(cfg.TickInterval)
	defer tick.Stop()
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			fmt.Println(green("stopped"))
			return nil
		case now := <-tick.C:
			// tty user -> BLE
			n, rerr := pty.Read(buf)
			if n > 0 {
				if _, werr := port.Write(buf[:n]); errors.Is(werr, serial.ErrBacklog) {
					logger.WithField("bytes", n).Warn("Transmit backlog, tty input dropped")
				}
			}
			if rerr != nil {
				return rerr
			}

			// BLE -> tty user
			n, rerr = port.Read(buf)
			if n > 0 {
				if _, werr := pty.Write(buf[:n]); werr != nil {
					return werr
				}
			}
			if rerr != nil {
				return rerr
			}

			port.Tick(now)
		}
	}
}
