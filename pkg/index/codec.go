package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/Protocol-Lattice/repochat/pkg/chunker"
)

// payload is the backend-neutral form of a chunk stored next to its vector.
type payload struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	SourcePath string         `json:"source_path"`
	Index      int            `json:"chunk_index"`
	Offset     int            `json:"offset"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func toPayload(r Record) payload {
	return payload{
		ID:         r.ID,
		Text:       r.Chunk.Text,
		SourcePath: r.Chunk.SourcePath,
		Index:      r.Chunk.Index,
		Offset:     r.Chunk.Offset,
		Metadata:   r.Chunk.Metadata,
	}
}

func (p payload) chunk() chunker.Chunk {
	return chunker.Chunk{
		ID:         p.ID,
		Text:       p.Text,
		SourcePath: p.SourcePath,
		Index:      p.Index,
		Offset:     p.Offset,
		Metadata:   p.Metadata,
	}
}

func marshalMetadata(md map[string]any) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMetadata(raw string) map[string]any {
	if raw == "" || raw == "null" {
		return nil
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil
	}
	return md
}

// float32sToBytes packs a vector as little-endian float32s.
func float32sToBytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32s(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
