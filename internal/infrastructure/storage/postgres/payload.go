package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec names stored next to encoded payload columns.
const (
	CodecNone = "none"
	CodecZstd = "zstd"
)

// PayloadCodec stores JSON documents (stage line snapshots, invoice lines)
// compressed once they grow beyond a threshold.
type PayloadCodec struct {
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	threshold int
}

// NewPayloadCodec creates a codec. Payloads of threshold bytes or less stay plain.
func NewPayloadCodec(threshold int) (*PayloadCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &PayloadCodec{encoder: encoder, decoder: decoder, threshold: threshold}, nil
}

// Encode marshals v and compresses it when large.
func (c *PayloadCodec) Encode(v any) ([]byte, string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("marshal payload: %w", err)
	}
	if len(raw) <= c.threshold {
		return raw, CodecNone, nil
	}
	return c.encoder.EncodeAll(raw, nil), CodecZstd, nil
}

// Decode reverses Encode into v.
func (c *PayloadCodec) Decode(data []byte, codec string, v any) error {
	if len(data) == 0 {
		return nil
	}
	raw := data
	switch codec {
	case CodecNone, "":
	case CodecZstd:
		var err error
		raw, err = c.decoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("decompress payload: %w", err)
		}
	default:
		return fmt.Errorf("unknown payload codec %q", codec)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
