package stream

import (
	"context"
	"fmt"
	"slices"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/stlgen/stl/vm"
)

// GeneratorConfig is the configuration of a packet generator.
type GeneratorConfig struct {
	// Cores is the number of cores the streams are split between.
	Cores int `yaml:"cores"`
	// Packets is the number of packets every stream produces on every
	// core.
	Packets uint64 `yaml:"packets"`
	// Snaplen limits how many bytes of each packet reach the sink.
	Snaplen datasize.ByteSize `yaml:"snaplen"`
	// QueueSize is the number of packets buffered between the cores and
	// the sink.
	QueueSize int `yaml:"queue_size"`
}

// DefaultGeneratorConfig returns the default generator configuration.
func DefaultGeneratorConfig() *GeneratorConfig {
	return &GeneratorConfig{
		Cores:     1,
		Packets:   16,
		Snaplen:   64 * datasize.KB,
		QueueSize: 256,
	}
}

// Packet is a produced packet.
type Packet struct {
	// Core is the index of the core that produced the packet.
	Core uint32
	// Stream is the name of the producing stream.
	Stream string
	// Seq is the sequence number of the packet within its stream and
	// core.
	Seq uint64
	// Data is owned by the receiver.
	Data    []byte
	Offload vm.Offload
}

// Sink consumes produced packets.
//
// Write is never called concurrently.
type Sink interface {
	Write(pkt Packet) error
}

// Generator runs every stream on every configured core.
type Generator struct {
	cfg     *GeneratorConfig
	streams []*Stream
	log     *zap.SugaredLogger
}

// NewGenerator creates a new generator.
func NewGenerator(cfg *GeneratorConfig, streams []*Stream, options ...Option) *Generator {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Generator{
		cfg:     cfg,
		streams: streams,
		log:     opts.Log,
	}
}

// Run produces the configured number of packets and passes them to the
// sink.
//
// Packets of one core arrive in order; packets of different cores are
// interleaved.
func (m *Generator) Run(ctx context.Context, sink Sink) error {
	cores := NewCoreMap(m.cfg.Cores)
	if cores.IsEmpty() {
		return ErrNoCores
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan Packet, max(m.cfg.QueueSize, 1))
	wg, ctx := errgroup.WithContext(ctx)
	for phase, core := range cores.Phases() {
		wg.Go(func() error {
			return m.runCore(ctx, core, phase, uint64(cores.Len()), queue)
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- wg.Wait()
		close(queue)
	}()

	var sinkErr error
	count := 0
	for pkt := range queue {
		if sinkErr != nil {
			continue
		}
		if err := sink.Write(pkt); err != nil {
			sinkErr = fmt.Errorf("failed to write packet: %w", err)
			cancel()
			continue
		}
		count++
	}

	err := <-done
	if sinkErr != nil {
		return sinkErr
	}
	if err != nil {
		return err
	}

	m.log.Infow("generator finished",
		zap.Int("cores", cores.Len()),
		zap.Int("streams", len(m.streams)),
		zap.Int("packets", count),
	)

	return nil
}

func (m *Generator) runCore(ctx context.Context, core uint32, phase uint64, mul uint64, queue chan<- Packet) error {
	instances := make([]*Instance, 0, len(m.streams))
	for _, s := range m.streams {
		instance, err := s.Instance(phase, mul)
		if err != nil {
			return err
		}
		instances = append(instances, instance)
	}

	for seq := range m.cfg.Packets {
		for idx, instance := range instances {
			pkt := Packet{
				Core:    core,
				Stream:  m.streams[idx].Name(),
				Seq:     seq,
				Data:    slices.Clone(instance.Next()),
				Offload: instance.Offload(),
			}

			select {
			case queue <- pkt:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}
