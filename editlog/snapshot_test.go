package editlog

import (
	"errors"
	"testing"
)

func TestSnapshotCodec(t *testing.T) {
	snap := Snapshot{
		Count:   500,
		Width:   3,
		Height:  2,
		Heights: []float32{0, 0.25, 0.5, 0.75, 1, 0.125},
		Origins: map[string]uint64{"peer-a": 41, "peer-b": 7},
	}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Count != snap.Count || got.Width != 3 || got.Height != 2 {
		t.Errorf("header: %+v", got)
	}
	for i := range snap.Heights {
		if got.Heights[i] != snap.Heights[i] {
			t.Errorf("height %d: got %v", i, got.Heights[i])
		}
	}
	if got.Origins["peer-a"] != 41 || got.Origins["peer-b"] != 7 {
		t.Errorf("origins: %v", got.Origins)
	}
}

func TestSnapshotCodecRejectsDamage(t *testing.T) {
	snap := Snapshot{Count: 1, Width: 2, Height: 1, Heights: []float32{0.5, 0.5}}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", data[:len(data)-3]},
		{"flipped bit", func() []byte {
			d := append([]byte(nil), data...)
			d[len(d)-1] ^= 0x01
			return d
		}()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeSnapshot(tc.data); !errors.Is(err, ErrSnapshotCorrupt) {
				t.Errorf("got %v, want ErrSnapshotCorrupt", err)
			}
		})
	}

	if _, err := EncodeSnapshot(Snapshot{Width: 2, Height: 2, Heights: []float32{1}}); err == nil {
		t.Error("encode should reject a size mismatch")
	}
}
