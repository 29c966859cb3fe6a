package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yanet-platform/stlgen/common/go/logging"
	"github.com/yanet-platform/stlgen/common/go/xcmd"
	"github.com/yanet-platform/stlgen/common/go/xpacket"
	"github.com/yanet-platform/stlgen/stl"
	"github.com/yanet-platform/stlgen/stl/profile"
	"github.com/yanet-platform/stlgen/stl/stream"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
	// ProfilePath is the path to the stream profile.
	ProfilePath string
	// OutputPath is the path to the produced pcap file.
	OutputPath string
	// Cores overrides the number of generator cores.
	Cores int
	// Packets overrides the number of packets per stream per core.
	Packets uint64
	// Stream is the name of the traced stream.
	Stream string
	// Vars is a glob pattern selecting the traced variables.
	Vars string
	// Decode enables printing decoded packets.
	Decode bool
}

var rootCmd = &cobra.Command{
	Use:   "stlgen",
	Short: "Stateless traffic generator driven by stream programs",
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile the profile and print stream programs",
	Run: func(rawCmd *cobra.Command, _ []string) {
		exec(runCompile)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate packets into a pcap file",
	Run: func(rawCmd *cobra.Command, _ []string) {
		exec(runGenerate)
	},
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Print flow variables of a stream packet by packet",
	Run: func(rawCmd *cobra.Command, _ []string) {
		exec(runTrace)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&cmd.ProfilePath, "profile", "p", "", "Path to the stream profile (required)")
	rootCmd.MarkPersistentFlagRequired("profile")

	runCmd.Flags().StringVarP(&cmd.OutputPath, "output", "o", "", "Path to the output pcap file (required)")
	runCmd.Flags().IntVar(&cmd.Cores, "cores", 0, "Number of cores, overrides the configuration")
	runCmd.Flags().Uint64Var(&cmd.Packets, "packets", 0, "Packets per stream per core, overrides the configuration")
	runCmd.MarkFlagRequired("output")

	traceCmd.Flags().StringVarP(&cmd.Stream, "stream", "s", "", "Name of the traced stream (required)")
	traceCmd.Flags().Uint64Var(&cmd.Packets, "packets", 8, "Number of traced packets")
	traceCmd.Flags().StringVar(&cmd.Vars, "vars", "*", "Glob pattern selecting variables")
	traceCmd.Flags().BoolVarP(&cmd.Decode, "decode", "d", false, "Print decoded packets")
	traceCmd.MarkFlagRequired("stream")

	rootCmd.AddCommand(compileCmd, runCmd, traceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func exec(fn func(cmd Cmd, cfg *stl.Config, log *zap.SugaredLogger) error) {
	if err := setup(cmd, fn); err != nil {
		if xcmd.IsInterrupted(err) {
			return
		}

		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func setup(cmd Cmd, fn func(cmd Cmd, cfg *stl.Config, log *zap.SugaredLogger) error) error {
	cfg := stl.DefaultConfig()
	if cmd.ConfigPath != "" {
		var err error
		cfg, err = stl.LoadConfig(cmd.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	return fn(cmd, cfg, log)
}

func loadStreams(cmd Cmd, cfg *stl.Config, log *zap.SugaredLogger) ([]*stream.Stream, error) {
	p, err := profile.Load(cmd.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	streams, err := p.Build(
		stream.WithLog(log),
		stream.WithSeed(cfg.Seed),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile: %w", err)
	}

	log.Debugw("loaded profile", zap.String("path", cmd.ProfilePath), zap.Int("streams", len(streams)))

	return streams, nil
}

func runCompile(cmd Cmd, cfg *stl.Config, log *zap.SugaredLogger) error {
	streams, err := loadStreams(cmd, cfg, log)
	if err != nil {
		return err
	}

	for _, s := range streams {
		pktLen, err := s.PacketLength()
		if err != nil {
			return fmt.Errorf("stream %q: %w", s.Name(), err)
		}

		fmt.Printf("stream %q: %d bytes, length min=%d max=%d expected=%.2f\n",
			s.Name(), len(s.Packet()), pktLen.Min, pktLen.Max, pktLen.Expected)

		program := s.Program()
		if program == nil {
			fmt.Println("  no program")
			continue
		}

		fingerprint := program.Fingerprint()
		fmt.Printf("  fingerprint: %s\n", hex.EncodeToString(fingerprint[:]))
		if err := program.Dump(os.Stdout); err != nil {
			return fmt.Errorf("stream %q: failed to dump program: %w", s.Name(), err)
		}
	}

	return nil
}

func runGenerate(cmd Cmd, cfg *stl.Config, log *zap.SugaredLogger) error {
	streams, err := loadStreams(cmd, cfg, log)
	if err != nil {
		return err
	}

	genCfg := *cfg.Generator
	if cmd.Cores != 0 {
		genCfg.Cores = cmd.Cores
	}
	if cmd.Packets != 0 {
		genCfg.Packets = cmd.Packets
	}

	f, err := os.Create(cmd.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	sink, err := stream.NewPcapSink(f, genCfg.Snaplen)
	if err != nil {
		return err
	}

	gen := stream.NewGenerator(&genCfg, streams, stream.WithLog(log))

	err = xcmd.RunInterruptible(context.Background(), func(ctx context.Context) error {
		return gen.Run(ctx, sink)
	})
	if xcmd.IsInterrupted(err) {
		log.Infof("caught signal: %v", err)
	}
	if err != nil {
		return err
	}

	return f.Close()
}

func runTrace(cmd Cmd, cfg *stl.Config, log *zap.SugaredLogger) error {
	streams, err := loadStreams(cmd, cfg, log)
	if err != nil {
		return err
	}

	var target *stream.Stream
	for _, s := range streams {
		if s.Name() == cmd.Stream {
			target = s
			break
		}
	}
	if target == nil {
		return fmt.Errorf("stream %q not found", cmd.Stream)
	}

	pattern, err := glob.Compile(cmd.Vars, '.')
	if err != nil {
		return fmt.Errorf("invalid variable pattern %q: %w", cmd.Vars, err)
	}

	instance, err := target.Instance(0, 1)
	if err != nil {
		return err
	}

	for seq := range cmd.Packets {
		pkt := instance.Next()

		fmt.Printf("#%d len=%d", seq, len(pkt))
		for _, v := range instance.Vars() {
			if !pattern.Match(v.Name) {
				continue
			}
			value, _ := instance.Var(v.Name)
			fmt.Printf(" %s=%#x", v.Name, value)
		}
		fmt.Println()

		if cmd.Decode {
			fmt.Println(xpacket.ParseEtherPacket(pkt).String())
		}
	}

	return nil
}
