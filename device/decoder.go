package device

import (
	"bytes"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/zsiec/camlink/media"
)

var startCode = []byte{0, 0, 0, 1}

// AnnexBWriter is a Decoder that writes the elementary stream to w, ready
// for a player reading stdin or a file. Telemetry units are skipped.
type AnnexBWriter struct {
	w     io.Writer
	units atomic.Uint64
	bytes atomic.Uint64
}

func NewAnnexBWriter(w io.Writer) *AnnexBWriter {
	return &AnnexBWriter{w: w}
}

// SubmitDecodeUnit writes payload, prefixing a start code when the encoder
// left it out.
func (a *AnnexBWriter) SubmitDecodeUnit(payload []byte, kind media.Kind, _ int64) error {
	if !kind.IsVideo() || len(payload) == 0 {
		return nil
	}
	if !bytes.HasPrefix(payload, startCode) && !bytes.HasPrefix(payload, startCode[1:]) {
		if _, err := a.w.Write(startCode); err != nil {
			return fmt.Errorf("device: write start code: %w", err)
		}
		a.bytes.Add(uint64(len(startCode)))
	}
	n, err := a.w.Write(payload)
	a.bytes.Add(uint64(n))
	if err != nil {
		return fmt.Errorf("device: write %s unit: %w", kind, err)
	}
	a.units.Add(1)
	return nil
}

// Units returns how many decode units were written.
func (a *AnnexBWriter) Units() uint64 { return a.units.Load() }

func (a *AnnexBWriter) Bytes() uint64 { return a.bytes.Load() }
