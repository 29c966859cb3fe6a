package vm

import (
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"
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

// Option is a function that configures the VM.
type Option func(*options)

// WithLog sets the logger for the VM.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithSeed sets the source of the shared random seed stored in the BSS.
//
// The same seed and core phase always produce the same BSS image.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.Seed = seed
	}
}

// VM owns an instruction list and the program compiled from it.
//
// Compilation is atomic: a failed compile leaves the VM without a
// program.
type VM struct {
	instructions []Instruction
	program      *Program
	seed         uint64
	phase        uint64
	avg          *randAverages
	log          *zap.SugaredLogger
}

// New creates an empty VM.
func New(options ...Option) *VM {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &VM{
		seed: opts.Seed,
		avg:  newRandAverages(),
		log:  opts.Log,
	}
}

// Add appends instructions to the VM.
//
// Adding instructions invalidates a previously compiled program.
func (m *VM) Add(instructions ...Instruction) {
	m.instructions = append(m.instructions, instructions...)
	m.program = nil
}

// Instructions returns the instruction list.
func (m *VM) Instructions() []Instruction {
	return m.instructions
}

// IsEmpty reports whether the VM has no instructions.
func (m *VM) IsEmpty() bool {
	return len(m.instructions) == 0
}

// NeedSplit reports whether any variable must be partitioned across cores.
func (m *VM) NeedSplit() bool {
	for _, ins := range m.instructions {
		if v, ok := ins.(Var); ok && v.NeedSplit() {
			return true
		}
	}

	return false
}

// IsCompiled reports whether the last compilation succeeded.
func (m *VM) IsCompiled() bool {
	return m.program != nil
}

// Program returns the compiled program or nil.
func (m *VM) Program() *Program {
	return m.program
}

// Clone returns an uncompiled deep copy of the VM.
//
// The copy shares the random average cache.
func (m *VM) Clone() *VM {
	return &VM{
		instructions: cloneInstructions(m.instructions),
		seed:         m.seed,
		phase:        m.phase,
		avg:          m.avg,
		log:          m.log,
	}
}

// Split returns an uncompiled copy of the VM prepared to run on core
// "phase" out of "mul" cores.
//
// Cores running the split copies produce disjoint parts of every
// partitioned variable's domain.
//
// A compiled VM is split from its compiled instructions, so that
// ChangePacketSize targets are partitioned over their clamped range.
func (m *VM) Split(phase uint64, mul uint64) *VM {
	out := m.Clone()
	out.phase = phase
	if m.program != nil {
		out.instructions = cloneInstructions(m.program.instructions)
	}

	if mul <= 1 {
		return out
	}

	for _, ins := range out.instructions {
		if v, ok := ins.(Var); ok && v.NeedSplit() {
			v.Split(phase, mul)
		}
	}

	return out
}

// Compile validates the instructions and lowers them into a program for
// packets of "pktSize" bytes.
//
// The optional "sample" packet is used to validate checksum instructions
// against the actual headers. Without it FixChecksumHW emits nothing,
// which is only suitable for estimation.
//
// An empty VM compiles to nothing and stays uncompiled.
func (m *VM) Compile(pktSize uint16, sample []byte) error {
	m.program = nil
	if m.IsEmpty() {
		return nil
	}

	program, err := m.compile(pktSize, sample)
	if err != nil {
		return err
	}

	m.log.Debugw("compiled stream program",
		zap.Int("instructions", len(m.instructions)),
		zap.Int("code_size", len(program.code)),
		zap.Int("bss_size", len(program.bss)),
		zap.Uint16("max_offset", program.maxOffset),
		zap.Uint16("prefix_size", program.prefixSize),
	)
	m.program = program

	return nil
}

// PacketLength returns the lengths of packets the VM produces for a
// template of "pktSize" bytes.
//
// The VM is left untouched; a temporary copy is compiled when a
// ChangePacketSize instruction is present.
func (m *VM) PacketLength(pktSize uint16) (PacketLengthData, error) {
	hasChange := false
	for _, ins := range m.instructions {
		if _, ok := ins.(*ChangePacketSize); ok {
			hasChange = true
			break
		}
	}
	if !hasChange {
		return fixedPacketLength(pktSize), nil
	}

	if m.program != nil && m.program.pktSize == pktSize {
		return m.program.pktLen, nil
	}

	program, err := m.Clone().compile(pktSize, nil)
	if err != nil {
		return PacketLengthData{}, fmt.Errorf("failed to estimate packet length: %w", err)
	}

	return program.pktLen, nil
}

// bssSeed derives the shared random seed for the current core.
func (m *VM) bssSeed() uint32 {
	return rand.New(rand.NewPCG(m.seed, m.phase)).Uint32()
}

func cloneInstructions(instructions []Instruction) []Instruction {
	out := make([]Instruction, 0, len(instructions))
	for _, ins := range instructions {
		out = append(out, ins.Clone())
	}

	return out
}
