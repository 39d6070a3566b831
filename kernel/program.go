/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed May  2 11:02:33 2018 mstenber
 * Last modified: Fri May  4 15:01:49 2018 mstenber
 * Edit time:     72 min
 *
 */

package kernel

import (
	"fmt"
	"math"
	"math/bits"
	"sort"

	"github.com/fingon/go-zlfs/util"
)

// ProgramMagic starts every kernel image.
const ProgramMagic = "ZKRN"

// DefaultCountThreshold is used by the count program when no
// threshold parameter is given.
const DefaultCountThreshold uint32 = 0x3FFFFFFF

type ProgramFunc func(k *Kernel)

// MakeProgram builds a kernel image: magic, u16 name length, name,
// then program parameters.
func MakeProgram(name string, params []byte) []byte {
	b := make([]byte, 0, len(ProgramMagic)+2+len(name)+len(params))
	b = append(b, ProgramMagic...)
	b = le.AppendUint16(b, uint16(len(name)))
	b = append(b, name...)
	return append(b, params...)
}

func ParseProgram(b []byte) (name string, params []byte, err error) {
	hl := len(ProgramMagic) + 2
	if len(b) < hl || string(b[:len(ProgramMagic)]) != ProgramMagic {
		err = fmt.Errorf("%w: not a kernel image", ErrABI)
		return
	}
	nl := int(le.Uint16(b[len(ProgramMagic):]))
	if len(b) < hl+nl {
		err = fmt.Errorf("%w: truncated kernel name", ErrABI)
		return
	}
	name = string(b[hl : hl+nl])
	params = b[hl+nl:]
	return
}

type Registry struct {
	lock     util.RWMutexLocked
	programs map[string]ProgramFunc
}

func NewRegistry() *Registry {
	return &Registry{programs: make(map[string]ProgramFunc)}
}

func (self *Registry) Register(name string, fn ProgramFunc) {
	defer self.lock.Locked()()
	self.programs[name] = fn
}

func (self *Registry) Lookup(name string) ProgramFunc {
	defer self.lock.RLocked()()
	return self.programs[name]
}

func (self *Registry) Names() []string {
	defer self.lock.RLocked()()
	names := make([]string, 0, len(self.programs))
	for k := range self.programs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.Register("read", ReadProgram)
	DefaultRegistry.Register("count", CountProgram)
	DefaultRegistry.Register("average", AverageProgram)
	DefaultRegistry.Register("entropy", EntropyProgram)
	DefaultRegistry.Register("write", WriteProgram)
}

// RangeLimit is the number of bytes of the requested range that lie
// within the file.
func RangeLimit(desc *CallDescriptor) uint64 {
	if desc.Dims.Offset >= desc.Inode.Size {
		return 0
	}
	return util.UMin(desc.Dims.Size, desc.Inode.Size-desc.Dims.Offset)
}

func readCall(k *Kernel, name string) *CallDescriptor {
	desc := k.CallInfo()
	if desc.Op != OpRead {
		k.Violation("%s program invoked for %v", name, desc.Op)
	}
	return desc
}

// walkWords feeds cb the little-endian uint32 values of the range;
// words may straddle sectors, a trailing partial word is dropped.
func walkWords(k *Kernel, desc *CallDescriptor, cb func(v uint32)) {
	var carry []byte
	k.Walk(desc, RangeLimit(desc), func(b []byte) {
		if len(carry) > 0 {
			need := 4 - len(carry)
			if need > len(b) {
				carry = append(carry, b...)
				return
			}
			carry = append(carry, b[:need]...)
			b = b[need:]
			cb(le.Uint32(carry))
			carry = carry[:0]
		}
		for len(b) >= 4 {
			cb(le.Uint32(b))
			b = b[4:]
		}
		carry = append(carry, b...)
	})
}

// ReadProgram returns the requested range as-is.
func ReadProgram(k *Kernel) {
	desc := readCall(k, "read")
	limit := RangeLimit(desc)
	out := make([]byte, 0, limit)
	k.Walk(desc, limit, func(b []byte) {
		out = append(out, b...)
	})
	k.ReturnData(out)
}

// CountProgram counts little-endian uint32 values in the range that
// exceed the threshold (first four parameter bytes, if any) and
// returns the count as u64.
func CountProgram(k *Kernel) {
	threshold := DefaultCountThreshold
	if p := k.Params(); len(p) >= 4 {
		threshold = le.Uint32(p)
	}
	desc := readCall(k, "count")
	var count uint64
	walkWords(k, desc, func(v uint32) {
		if v > threshold {
			count++
		}
	})
	k.ReturnData(le.AppendUint64(nil, count))
}

// AverageProgram returns the number of little-endian uint32 values in
// the range and their mean, rounded down, as two u64s.
func AverageProgram(k *Kernel) {
	desc := readCall(k, "average")
	var n, hi, lo uint64
	walkWords(k, desc, func(v uint32) {
		var c uint64
		lo, c = bits.Add64(lo, uint64(v), 0)
		hi += c
		n++
	})
	var mean uint64
	if n > 0 {
		// sum < n<<32, so hi < n
		mean, _ = bits.Div64(hi, lo, n)
	}
	k.ReturnData(le.AppendUint64(le.AppendUint64(nil, n), mean))
}

// EntropyProgram returns the byte histogram of the range as 256
// little-endian u32 bins; Entropy turns it into bits per byte.
func EntropyProgram(k *Kernel) {
	desc := readCall(k, "entropy")
	var bins [256]uint32
	k.Walk(desc, RangeLimit(desc), func(b []byte) {
		k.Step(uint64(len(b)) / 64)
		for _, v := range b {
			bins[v]++
		}
	})
	out := make([]byte, 0, len(bins)*4)
	for _, v := range bins {
		out = le.AppendUint32(out, v)
	}
	k.ReturnData(out)
}

// Entropy computes the Shannon entropy, in bits per byte, of an
// EntropyProgram histogram.
func Entropy(hist []byte) (float64, error) {
	if len(hist) != 256*4 {
		return 0, fmt.Errorf("%w: histogram of %d bytes", ErrABI, len(hist))
	}
	var total float64
	for i := 0; i < 256; i++ {
		total += float64(le.Uint32(hist[i*4:]))
	}
	if total == 0 {
		return 0, nil
	}
	var h float64
	for i := 0; i < 256; i++ {
		c := float64(le.Uint32(hist[i*4:]))
		if c > 0 {
			p := c / total
			h -= p * math.Log2(p)
		}
	}
	return h, nil
}

// WriteProgram appends the sector-aligned data the host staged in
// memory to the append window, and reports where it landed.
func WriteProgram(k *Kernel) {
	desc := k.CallInfo()
	if desc.Op != OpWrite {
		k.Violation("write program invoked for %v", desc.Op)
	}
	ss := k.SectorSize()
	zs := k.ZoneSize()
	mem := k.Mem()
	total := desc.PrePad + desc.Dims.Size + desc.PostPad
	if total%ss != 0 || total > uint64(len(mem)) {
		k.Violation("staged %d bytes, memory %d", total, len(mem))
	}
	res := WriteResult{Status: WriteStatus_SUCCESS}
	wp := desc.Window.WP
	for i := uint64(0); i < total/ss; i++ {
		if wp >= desc.Window.End {
			res.Status = WriteStatus_DEVICE_FULL_FAIL
			k.ReturnData(res.Marshal())
		}
		lba := k.Write(wp/zs, 0, mem[i*ss:(i+1)*ss])
		if lba != wp {
			k.Violation("sector landed at %d, expected %d", lba, wp)
		}
		res.LBAs = append(res.LBAs, lba)
		wp++
	}
	res.Size = desc.Dims.Size
	if wp == desc.Window.End {
		res.Status = WriteStatus_DEVICE_FULL_SUCCESS
	}
	k.ReturnData(res.Marshal())
}
