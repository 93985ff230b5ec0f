package octomap

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Binary map format: a fixed header followed by one record per known cell.
//
//	[4]byte  magic "OCTM"
//	uint16   version (currently 1)
//	float64  resolution
//	uint32   cell count
//	repeated { int32 x; int32 y; int32 z; uint8 occupied }
//
// All integers are little-endian.
var fileMagic = [4]byte{'O', 'C', 'T', 'M'}

const fileVersion = uint16(1)

// ErrBadFormat is returned when the input does not decode as an occupancy map.
var ErrBadFormat = errors.New("input is not an occupancy map")

type fileHeader struct {
	Magic      [4]byte
	Version    uint16
	Resolution float64
	Count      uint32
}

type cellRecord struct {
	X, Y, Z  int32
	Occupied uint8
}

// ReadFrom decodes an occupancy map from its binary representation. It is a
// typed loader: the input either decodes as a map of a known version or the
// function fails with an error wrapping ErrBadFormat.
func ReadFrom(r io.Reader) (*Map, error) {
	br := bufio.NewReader(r)

	var header fileHeader
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(ErrBadFormat, err.Error())
	}
	if header.Magic != fileMagic {
		return nil, errors.Wrap(ErrBadFormat, "bad magic")
	}
	if header.Version != fileVersion {
		return nil, errors.Wrapf(ErrBadFormat, "unsupported version %d", header.Version)
	}

	m, err := New(header.Resolution)
	if err != nil {
		return nil, errors.Wrap(ErrBadFormat, err.Error())
	}
	for i := uint32(0); i < header.Count; i++ {
		var rec cellRecord
		if err := binary.Read(br, binary.LittleEndian, &rec); err != nil {
			return nil, errors.Wrapf(ErrBadFormat, "truncated at cell %d: %s", i, err.Error())
		}
		m.setCell(CellKey{X: rec.X, Y: rec.Y, Z: rec.Z}, rec.Occupied != 0)
	}
	return m, nil
}

// WriteTo encodes the map in its binary representation.
func (m *Map) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)

	header := fileHeader{
		Magic:      fileMagic,
		Version:    fileVersion,
		Resolution: m.resolution,
		Count:      uint32(len(m.cells)),
	}
	if err := binary.Write(bw, binary.LittleEndian, &header); err != nil {
		return err
	}
	for k, occ := range m.cells {
		rec := cellRecord{X: k.X, Y: k.Y, Z: k.Z}
		if occ {
			rec.Occupied = 1
		}
		if err := binary.Write(bw, binary.LittleEndian, &rec); err != nil {
			return err
		}
	}
	return bw.Flush()
}
