package stream

import (
	"fmt"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/yanet-platform/stlgen/stl/vm"
)

type options struct {
	Log  *zap.SugaredLogger
	Seed uint64
}

func newOptions() *options {
	return &options{
		Log:  zap.NewNop().Sugar(),
		Seed: 3,
	}
}

// Option is a function that configures a stream.
type Option func(*options)

// WithLog sets the logger for the stream.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithSeed sets the random seed source of the stream programs.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.Seed = seed
	}
}

// Stream is a template packet together with the instructions that mutate
// it on every send.
type Stream struct {
	name string
	pkt  []byte
	vm   *vm.VM
	log  *zap.SugaredLogger
}

// New creates a stream and compiles its program against the template.
func New(name string, pkt []byte, instructions []vm.Instruction, options ...Option) (*Stream, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	if len(pkt) == 0 || len(pkt) > math.MaxUint16 {
		return nil, fmt.Errorf("stream %q: %d bytes: %w", name, len(pkt), ErrInvalidPacket)
	}

	log := opts.Log.With(zap.String("stream", name))

	m := vm.New(vm.WithLog(log), vm.WithSeed(opts.Seed))
	m.Add(instructions...)
	if err := m.Compile(uint16(len(pkt)), pkt); err != nil {
		return nil, fmt.Errorf("stream %q: failed to compile: %w", name, err)
	}

	return &Stream{
		name: name,
		pkt:  slices.Clone(pkt),
		vm:   m,
		log:  log,
	}, nil
}

func (m *Stream) Name() string {
	return m.name
}

// Packet returns the template packet.
func (m *Stream) Packet() []byte {
	return m.pkt
}

// Program returns the template program, which is nil for a stream
// without instructions.
func (m *Stream) Program() *vm.Program {
	return m.vm.Program()
}

// PacketLength returns the lengths of packets the stream produces.
func (m *Stream) PacketLength() (vm.PacketLengthData, error) {
	return m.vm.PacketLength(uint16(len(m.pkt)))
}

// Instance creates the stream instance running on core "phase" out of
// "mul" cores.
func (m *Stream) Instance(phase uint64, mul uint64) (*Instance, error) {
	v := m.vm.Split(phase, mul)
	if err := v.Compile(uint16(len(m.pkt)), m.pkt); err != nil {
		return nil, fmt.Errorf("stream %q: failed to compile for core %d/%d: %w", m.name, phase, mul, err)
	}

	instance := &Instance{
		template: m.pkt,
		pkt:      slices.Clone(m.pkt),
		program:  v.Program(),
	}
	if instance.program != nil {
		instance.bss = instance.program.NewBSS()
	}

	m.log.Debugw("created stream instance",
		zap.Uint64("phase", phase),
		zap.Uint64("mul", mul),
	)

	return instance, nil
}

// Instance produces the packets of one stream on one core.
type Instance struct {
	template []byte
	pkt      []byte
	program  *vm.Program
	bss      []byte
	runner   vm.Runner
}

// Next produces the next packet.
//
// The returned slice is reused by the following call.
func (m *Instance) Next() []byte {
	if m.program == nil {
		return m.pkt
	}

	prefix := m.program.PrefixSize()
	copy(m.pkt[:prefix], m.template[:prefix])

	m.runner.Run(m.program, m.bss, m.pkt)

	if size := m.runner.NewPacketSize(); size != 0 {
		return m.pkt[:size]
	}

	return m.pkt
}

// Offload returns the checksum offload request for the last packet.
func (m *Instance) Offload() vm.Offload {
	return m.runner.Offload()
}

// Var returns the current value of a variable.
func (m *Instance) Var(name string) (uint64, bool) {
	if m.program == nil {
		return 0, false
	}

	return m.program.Var(m.bss, name)
}

// Vars returns the variables of the instance program.
func (m *Instance) Vars() []vm.VarInfo {
	if m.program == nil {
		return nil
	}

	return m.program.Vars()
}
