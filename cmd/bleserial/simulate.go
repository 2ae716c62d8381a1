package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/uutzinger/bleserial/internal/datagen"
	"github.com/uutzinger/bleserial/pkg/link"
	"github.com/uutzinger/bleserial/pkg/serial"
	"github.com/uutzinger/bleserial/pkg/transport/loopback"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the paced port against an in-memory link",
	Long: `Drives the full transmit path (ring buffer, flow gate, pacing engine)
over a simulated link, feeding it generated sensor data. Useful for
observing probe/backoff behavior without hardware.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().Duration("duration", 10*time.Second, "How long to run")
	simulateCmd.Flags().String("generator", "sine", "Data source (sine, env)")
	simulateCmd.Flags().Int("rate", 200, "Generated lines per second")
	simulateCmd.Flags().Uint16("mtu", link.DefaultMTU, "Simulated ATT MTU")
	simulateCmd.Flags().Int("rssi", -60, "Simulated signal strength (dBm)")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	profile, err := link.ParseProfile(cfg.Profile)
	if err != nil {
		return err
	}

	duration, _ := cmd.Flags().GetDuration("duration")
	genName, _ := cmd.Flags().GetString("generator")
	rate, _ := cmd.Flags().GetInt("rate")
	mtu, _ := cmd.Flags().GetUint16("mtu")
	rssi, _ := cmd.Flags().GetInt("rssi")

	var gen datagen.Generator
	switch genName {
	case "sine":
		gen = datagen.NewSine(100, 1, float64(rate))
	case "env":
		gen = datagen.NewEnvironmental(time.Now().UnixNano())
	default:
		return fmt.Errorf("unknown generator %q (must be sine or env)", genName)
	}

	lb := loopback.New(logger)
	lb.SetRSSI(rssi)
	port, err := serial.NewPort(lb, serial.Options{
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
	lb.Attach(port)
	lb.Connect(link.Params{
		MTU:      mtu,
		LLOctets: link.LLMaxOctets,
		LLTimeUs: link.PDUTimeUs(link.LLMaxOctets, link.PHY1M, link.CodingNone),
		PHY:      link.PHY1M,
	})

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s profile=%s mtu=%d rate=%d lines/s for %s\n",
		green("simulating:"), profile, mtu, rate, duration)

	tick := time.NewTicker(cfg.TickInterval)
	defer tick.Stop()
	feed := time.NewTicker(time.Second / time.Duration(rate))
	defer feed.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()
	deadline := time.After(duration)

	var generated, rejected uint64
	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-deadline:
			printStatus(port, generated, rejected)
			fmt.Println(green("done"))
			return nil
		case <-feed.C:
			line := gen.NextLine()
			generated += uint64(len(line))
			if _, err := port.Write(line); err != nil {
				rejected += uint64(len(line))
			}
		case now := <-tick.C:
			port.Tick(now)
			lb.Step()
		case <-report.C:
			printStatus(port, generated, rejected)
		}
	}
}

func printStatus(port *serial.Port, generated, rejected uint64) {
	s := port.Status()
	cyan := color.New(color.FgCyan).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	gate := "open"
	if !s.GateOpen {
		gate = yellow("closed")
	}
	fmt.Printf("%s state=%s interval=%dus chunk=%d gate=%s tx=%d/%d sent=%dB gen=%dB backpressured=%dB probes=%d/%d backoffs=%d\n",
		cyan("status:"),
		s.Pacing.State, s.Pacing.IntervalUs, s.Pacing.ChunkSize, gate,
		s.TxPending, s.HighWater, s.BytesTx, generated, rejected,
		s.Pacing.ProbeAccepts, s.Pacing.ProbeReverts, s.Pacing.Backoffs)
}
