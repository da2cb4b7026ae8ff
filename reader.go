package colyseus

import "math"

// Reader provides sequential, bounds-checked access to an externally owned
// byte slice carrying a msgpack-flavoured wire encoding. It never copies the
// underlying bytes except where a string or byte value is materialised.
//
// Reader methods panic on overrun or malformed input, carrying an error as
// the panic value rather than a string: one of the sentinel errors from
// errors.go, or (for a length over a limit) an error wrapping
// ErrLimitExceeded.
// Decoder.Decode recovers at its boundary and converts the panic back into a
// returned error (see decoder.go); Reader itself is never meant to be used
// outside that guarded context.
type Reader struct {
	bytes    []byte
	position uint
	mark     uint
}

// NewReader wraps b for sequential reading starting at offset 0.
func NewReader(b []byte) Reader {
	return Reader{bytes: b}
}

// NewReaderAt wraps b for sequential reading starting at the given offset.
func NewReaderAt(b []byte, offset uint) Reader {
	return Reader{bytes: b, position: offset}
}

func (r *Reader) requireBytes(n uint) {
	if r.position+n > uint(len(r.bytes)) {
		panic(ErrFrameTruncated)
	}
}

// ReadByte extracts the next byte.
func (r *Reader) ReadByte() byte {
	r.requireBytes(1)
	b := r.bytes[r.position]
	r.position++
	return b
}

// PeekByte returns the next byte without advancing the cursor.
func (r *Reader) PeekByte() byte {
	r.requireBytes(1)
	return r.bytes[r.position]
}

// Read extracts the next l bytes.
func (r *Reader) Read(l uint) []byte {
	r.requireBytes(l)
	p := r.position
	r.position += l
	return r.bytes[p : p+l]
}

// Skip advances the cursor by l bytes without returning them.
func (r *Reader) Skip(l uint) {
	r.requireBytes(l)
	r.position += l
}

// SetMark saves the current position for later reference.
func (r *Reader) SetMark() { r.mark = r.position }

// Mark returns the saved position.
func (r *Reader) Mark() uint { return r.mark }

// BytesFromMark returns the bytes between the saved mark and the current position.
func (r *Reader) BytesFromMark() []byte { return r.bytes[r.mark:r.position] }

// Position returns the current cursor offset.
func (r *Reader) Position() uint { return r.position }

// SeekTo moves the cursor to an absolute offset.
func (r *Reader) SeekTo(p uint) { r.position = p }

// BytesLeft reports how many unread bytes remain.
func (r *Reader) BytesLeft() uint { return uint(len(r.bytes)) - r.position }

// AtEnd reports whether the cursor has consumed the whole slice.
func (r *Reader) AtEnd() bool { return r.position >= uint(len(r.bytes)) }

// msgpack prefix-byte ranges, per the wire format in SPEC_FULL.md §4.1.
const (
	mpPositiveFixintMax = 0x7f
	mpFixstrMin         = 0xa0
	mpFixstrMax         = 0xbf
	mpFalse             = 0xc2
	mpTrue              = 0xc3
	mpBin8              = 0xc4
	mpBin16             = 0xc5
	mpBin32             = 0xc6
	mpFloat32           = 0xca
	mpFloat64           = 0xcb
	mpUint8             = 0xcc
	mpUint16            = 0xcd
	mpUint32            = 0xce
	mpUint64            = 0xcf
	mpInt8              = 0xd0
	mpInt16             = 0xd1
	mpInt32             = 0xd2
	mpInt64             = 0xd3
	mpStr8              = 0xd9
	mpStr16             = 0xda
	mpStr32             = 0xdb
	mpNegativeFixintMin = 0xe0
)

// SwitchToStructure and TypeID (wire.go) are sentinel bytes outside the
// msgpack prefix space entirely and steer the decoder's framing rather than
// being decoded as values here.

// ReadNumber reads a msgpack-prefixed variable-width number (fixint,
// uint8/16/32/64, int8/16/32/64 or float32/64) and returns it widened to a
// float64 along with whether the source was an integer or float form. When
// isFloat is false, v holds the integer exactly only while its magnitude is
// at most 2^53; larger 64-bit values are rounded by the widening.
func (r *Reader) ReadNumber() (v float64, isFloat bool) {
	b := r.PeekByte()
	switch {
	case b <= mpPositiveFixintMax:
		r.ReadByte()
		return float64(b), false
	case b >= mpNegativeFixintMin:
		r.ReadByte()
		return float64(int8(b)), false
	case b == mpUint8:
		r.ReadByte()
		return float64(r.ReadByte()), false
	case b == mpUint16:
		r.ReadByte()
		return float64(r.readBE16()), false
	case b == mpUint32:
		r.ReadByte()
		return float64(r.readBE32()), false
	case b == mpUint64:
		r.ReadByte()
		return float64(r.readBE64()), false
	case b == mpInt8:
		r.ReadByte()
		return float64(int8(r.ReadByte())), false
	case b == mpInt16:
		r.ReadByte()
		return float64(int16(r.readBE16())), false
	case b == mpInt32:
		r.ReadByte()
		return float64(int32(r.readBE32())), false
	case b == mpInt64:
		r.ReadByte()
		return float64(int64(r.readBE64())), false
	case b == mpFloat32:
		r.ReadByte()
		return float64(math.Float32frombits(r.readBE32())), true
	case b == mpFloat64:
		r.ReadByte()
		return math.Float64frombits(r.readBE64()), true
	default:
		panic(ErrMalformedNumber)
	}
}

// ReadFloat32 reads a msgpack float32 value (prefix 0xca).
func (r *Reader) ReadFloat32() float32 {
	b := r.ReadByte()
	if b != mpFloat32 {
		panic(ErrMalformedNumber)
	}
	return math.Float32frombits(r.readBE32())
}

// ReadFloat64 reads a msgpack float64 value (prefix 0xcb).
func (r *Reader) ReadFloat64() float64 {
	b := r.ReadByte()
	if b != mpFloat64 {
		panic(ErrMalformedNumber)
	}
	return math.Float64frombits(r.readBE64())
}

// ReadUint64 reads any msgpack unsigned integer form, including fixint.
func (r *Reader) ReadUint64() uint64 {
	v, isFloat := r.ReadNumber()
	if isFloat {
		panic(ErrMalformedNumber)
	}
	return uint64(int64(v))
}

// ReadInt64 reads any msgpack signed integer form, including fixint.
func (r *Reader) ReadInt64() int64 {
	v, isFloat := r.ReadNumber()
	if isFloat {
		panic(ErrMalformedNumber)
	}
	return int64(v)
}

func (r *Reader) ReadUint8() uint8   { return uint8(r.ReadUint64()) }
func (r *Reader) ReadUint16() uint16 { return uint16(r.ReadUint64()) }
func (r *Reader) ReadUint32() uint32 { return uint32(r.ReadUint64()) }
func (r *Reader) ReadInt8() int8     { return int8(r.ReadInt64()) }
func (r *Reader) ReadInt16() int16   { return int16(r.ReadInt64()) }
func (r *Reader) ReadInt32() int32   { return int32(r.ReadInt64()) }

// ReadBool reads a msgpack boolean (0xc2/0xc3).
func (r *Reader) ReadBool() bool {
	b := r.ReadByte()
	switch b {
	case mpTrue:
		return true
	case mpFalse:
		return false
	default:
		panic(ErrMalformedNumber)
	}
}

// ReadString reads a msgpack string value: fixstr, str8, str16 or str32,
// and also tolerates a bare single-byte length prefix as used by the server
// for some field names on the wire.
func (r *Reader) ReadString() string {
	b := r.PeekByte()
	var length uint
	switch {
	case b >= mpFixstrMin && b <= mpFixstrMax:
		r.ReadByte()
		length = uint(b & 0x1f)
	case b == mpStr8:
		r.ReadByte()
		length = uint(r.ReadByte())
	case b == mpStr16:
		r.ReadByte()
		length = uint(r.readBE16())
	case b == mpStr32:
		r.ReadByte()
		length = uint(r.readBE32())
	default:
		// bare length prefix, as used for field names in the reflection blob
		length = uint(r.ReadByte())
	}
	if err := checkLimit(uint32(length), DefaultLimits.MaxStringLen, "string length"); err != nil {
		panic(err)
	}
	return string(r.Read(length))
}

// ReadBytes reads a msgpack bin8/bin16/bin32 value.
func (r *Reader) ReadBytes() []byte {
	b := r.ReadByte()
	var length uint
	switch b {
	case mpBin8:
		length = uint(r.ReadByte())
	case mpBin16:
		length = uint(r.readBE16())
	case mpBin32:
		length = uint(r.readBE32())
	default:
		panic(ErrMalformedNumber)
	}
	if err := checkLimit(uint32(length), DefaultLimits.MaxByteSliceLen, "byte slice length"); err != nil {
		panic(err)
	}
	out := make([]byte, length)
	copy(out, r.Read(length))
	return out
}

// ReadPrimitive dispatches on a field type string ("string","number",
// "int8", ..., "float64","boolean") and returns the decoded value boxed as
// any, for use by dynamic descriptors whose field values are not backed by
// a concrete Go type at compile time.
func (r *Reader) ReadPrimitive(typeString string) any {
	switch typeString {
	case "string":
		return r.ReadString()
	case "number":
		v, isFloat := r.ReadNumber()
		if isFloat {
			return v
		}
		return int64(v)
	case "int8":
		return r.ReadInt8()
	case "uint8", "byte":
		return r.ReadUint8()
	case "int16":
		return r.ReadInt16()
	case "uint16":
		return r.ReadUint16()
	case "int32":
		return r.ReadInt32()
	case "uint32":
		return r.ReadUint32()
	case "int64":
		return r.ReadInt64()
	case "uint64":
		return r.ReadUint64()
	case "float32":
		return r.ReadFloat32()
	case "float64":
		return r.ReadFloat64()
	case "boolean", "bool":
		return r.ReadBool()
	case "bytes":
		return r.ReadBytes()
	default:
		panic(ErrUnknownFieldType)
	}
}

func (r *Reader) readBE16() uint16 {
	b := r.Read(2)
	return uint16(b[0])<<8 | uint16(b[1])
}

func (r *Reader) readBE32() uint32 {
	b := r.Read(4)
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (r *Reader) readBE64() uint64 {
	b := r.Read(8)
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
