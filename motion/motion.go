// Package motion scores the per-macroblock motion vectors the encoder emits
// as side information and decides when a score is an alarm.
package motion

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/zsiec/camlink/session"
)

// ErrShortVectors means a vector array is smaller than its grid.
var ErrShortVectors = errors.New("motion: vector array shorter than grid")

// VectorSize is the encoded size of one macroblock vector:
// x int8, y int8, sad int16 little-endian.
const VectorSize = 4

// Grid describes the macroblock layout of a picture. The encoder reports one
// extra column per row, so rows are MBX+1 cells apart.
type Grid struct {
	MBX int
	MBY int
}

// GridFor returns the grid for a width x height picture of 16x16 macroblocks.
func GridFor(width, height int) Grid {
	return Grid{MBX: (width + 15) / 16, MBY: (height + 15) / 16}
}

func (g Grid) Stride() int { return g.MBX + 1 }

// Cells is the number of vectors in one array.
func (g Grid) Cells() int { return g.Stride() * g.MBY }

// Size is the byte length of one vector array.
func (g Grid) Size() int { return g.Cells() * VectorSize }

func (g Grid) String() string { return fmt.Sprintf("%dx%d", g.MBX, g.MBY) }

// Vector is one decoded macroblock vector.
type Vector struct {
	X, Y int8
	SAD  int16
}

// At decodes the vector of macroblock (x, y).
func (g Grid) At(raw []byte, x, y int) Vector {
	off := (x + g.Stride()*y) * VectorSize
	return Vector{
		X:   int8(raw[off]),
		Y:   int8(raw[off+1]),
		SAD: int16(binary.LittleEndian.Uint16(raw[off+2:])),
	}
}

// Put encodes v at macroblock (x, y).
func (g Grid) Put(raw []byte, x, y int, v Vector) {
	off := (x + g.Stride()*y) * VectorSize
	raw[off] = byte(v.X)
	raw[off+1] = byte(v.Y)
	binary.LittleEndian.PutUint16(raw[off+2:], uint16(v.SAD))
}

// Magnitude is the truncated Euclidean length of the vector. The encoder's
// x axis points the other way, hence the negation.
func (v Vector) Magnitude() uint8 {
	vx := -float64(v.X)
	vy := float64(v.Y)
	return uint8(math.Sqrt(vx*vx + vy*vy))
}

// MaxMagnitude returns the largest vector magnitude over the visible
// macroblocks. The padding column is skipped.
func MaxMagnitude(g Grid, raw []byte) (uint8, error) {
	if len(raw) < g.Size() {
		return 0, fmt.Errorf("%w: %d bytes, grid %s needs %d", ErrShortVectors, len(raw), g, g.Size())
	}
	var best uint8
	for y := 0; y < g.MBY; y++ {
		for x := 0; x < g.MBX; x++ {
			if m := g.At(raw, x, y).Magnitude(); m > best {
				best = m
			}
		}
	}
	return best, nil
}

// Result is the outcome of scoring one vector array.
type Result struct {
	Score uint8
	Alarm bool
}

// Detector scores vector arrays against the session's alarm threshold.
type Detector struct {
	grid Grid
	sess *session.Session
}

func NewDetector(g Grid, sess *session.Session) *Detector {
	return &Detector{grid: g, sess: sess}
}

func (d *Detector) Grid() Grid { return d.grid }

// Evaluate scores raw and raises an alarm when a threshold is set and the
// score exceeds it.
func (d *Detector) Evaluate(raw []byte) (Result, error) {
	score, err := MaxMagnitude(d.grid, raw)
	if err != nil {
		return Result{}, err
	}
	th := d.sess.AlarmThreshold()
	return Result{Score: score, Alarm: th != 0 && score > th}, nil
}
