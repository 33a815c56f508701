package yoloseg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-photogrammetry/images"
	"github.com/nvr-ai/go-photogrammetry/inference"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.InputSize = 64
	cfg.NumClasses = 2
	cfg.NumMasks = 2
	cfg.ProtoSize = 16
	cfg.Anchors = 3
	return cfg
}

// output builds a channel-major output0 from per-anchor rows.
func output(cfg Config, anchors [][]float32) []float32 {
	out := make([]float32, cfg.Rows()*cfg.Anchors)
	for a, row := range anchors {
		for r, v := range row {
			out[r*cfg.Anchors+a] = v
		}
	}
	return out
}

func TestDecode(t *testing.T) {
	cfg := smallConfig()
	lb := inference.NewLetterbox(64, 64, 64)
	out := output(cfg, [][]float32{
		{32, 32, 20, 20, 0.9, 0.1, 0.5, -0.5},
		{33, 33, 20, 20, 0.8, 0.1, 0.1, 0.1},
		{10, 10, 8, 8, 0.05, 0.2, 1, 1},
	})

	got := Decode(out, cfg, 0.25, lb)
	require.Len(t, got, 1)
	assert.Equal(t, images.Rect{X1: 22, Y1: 22, X2: 42, Y2: 42}, got[0].Box)
	assert.Equal(t, 0, got[0].Class)
	assert.Equal(t, float32(0.9), got[0].Score)
	assert.Equal(t, []float32{0.5, -0.5}, got[0].Coefficients)
	assert.Equal(t, [4]float32{22, 22, 42, 42}, got[0].Input)

	got = Decode(out, cfg, 0.15, lb)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[1].Class)
	assert.Equal(t, float32(0.2), got[1].Score)
}

func TestDecodeMapsThroughLetterbox(t *testing.T) {
	cfg := smallConfig()
	// 128x64 source: scale 0.5, 16px of vertical padding.
	lb := inference.NewLetterbox(128, 64, 64)
	out := output(cfg, [][]float32{
		{32, 32, 20, 20, 0.9, 0, 0, 0},
	})

	got := Decode(out, cfg, 0.5, lb)
	require.Len(t, got, 1)
	assert.Equal(t, images.Rect{X1: 44, Y1: 12, X2: 84, Y2: 52}, got[0].Box)
}

func TestDecodeShortOutput(t *testing.T) {
	cfg := smallConfig()
	assert.Nil(t, Decode(make([]float32, 4), cfg, 0.1, inference.NewLetterbox(64, 64, 64)))
}

func TestMasks(t *testing.T) {
	cfg := smallConfig()
	cfg.InputSize = 8
	cfg.ProtoSize = 4
	lb := inference.NewLetterbox(8, 8, 8)

	proto := make([]float32, cfg.NumMasks*16)
	for i := 0; i < 16; i++ {
		proto[i] = 10
	}

	detections := []Detection{
		{Input: [4]float32{0, 0, 8, 8}, Coefficients: []float32{1, 0}},
		{Input: [4]float32{0, 0, 4, 4}, Coefficients: []float32{1, 0}},
		{Input: [4]float32{0, 0, 8, 8}, Coefficients: []float32{-1, 0}},
	}

	masks, err := Masks(detections, proto, cfg, lb)
	require.NoError(t, err)
	require.Len(t, masks, 3)
	defer func() {
		for i := range masks {
			masks[i].Close()
		}
	}()

	for _, m := range masks {
		assert.Equal(t, 8, m.Rows())
		assert.Equal(t, 8, m.Cols())
		assert.Equal(t, gocv.MatTypeCV8U, m.Type())
	}

	assert.Equal(t, 64, gocv.CountNonZero(masks[0]))

	// The box limits the second mask to the top-left quarter.
	assert.Equal(t, 16, gocv.CountNonZero(masks[1]))
	assert.Equal(t, uint8(255), masks[1].GetUCharAt(0, 0))
	assert.Equal(t, uint8(0), masks[1].GetUCharAt(7, 7))

	assert.Equal(t, 0, gocv.CountNonZero(masks[2]))
}

func TestMasksShortPrototypes(t *testing.T) {
	cfg := smallConfig()
	_, err := Masks([]Detection{{Coefficients: []float32{1, 1}}}, make([]float32, 3), cfg, inference.NewLetterbox(64, 64, 64))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Equal(t, 116, DefaultConfig().Rows())

	cfg := DefaultConfig()
	cfg.ModelPath = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaskThreshold = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ClassNames = []string{"statue"}
	assert.Error(t, cfg.Validate())
}

func TestConfigClasses(t *testing.T) {
	assert.Equal(t, "person", DefaultConfig().Classes().Name(0))

	cfg := DefaultConfig()
	cfg.NumClasses = 2
	cfg.ClassNames = []string{"statue", "plinth"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "plinth", cfg.Classes().Name(1))
}

func TestNewSegmenterRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "tpu"
	_, err := NewSegmenter(cfg)
	assert.Error(t, err)
}
