package pipeline

import (
	"github.com/banshee-data/splat.report/internal/config"
	"github.com/banshee-data/splat.report/internal/splat/codec"
	"github.com/banshee-data/splat.report/internal/splat/scene"
	"github.com/banshee-data/splat.report/internal/splat/volume"
)

// Params bundles the tunables of every stage.
type Params struct {
	Decode           scene.DecodeParams
	Codec            codec.Params
	Volume           volume.Params
	DefaultThreshold float64
}

// DefaultParams returns the built-in defaults of every stage.
func DefaultParams() Params {
	return Params{
		Decode:           scene.DefaultDecodeParams(),
		Codec:            codec.DefaultParams(),
		Volume:           volume.DefaultParams(),
		DefaultThreshold: 0.2,
	}
}

// ParamsFromTuning overlays cfg onto the defaults. A nil cfg yields DefaultParams.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	p := DefaultParams()
	if cfg == nil {
		return p
	}
	scale := float32(cfg.GetDefaultScale())

	p.Decode.SHC0 = float32(cfg.GetSHC0())
	p.Decode.DefaultOpacity = float32(cfg.GetDefaultOpacity())
	p.Decode.DefaultScale = [3]float32{scale, scale, scale}
	p.Decode.QuaternionEpsilon = float32(cfg.GetQuaternionEpsilon())
	p.Decode.AutoDetectLogits = cfg.GetAutoDetectLogits()

	p.Codec.QuaternionScale = float32(cfg.GetQuaternionScale())

	p.Volume.NeighborCount = cfg.GetNeighborCount()
	p.Volume.StdRatio = cfg.GetStdRatio()
	p.Volume.HullEpsilon = cfg.GetHullEpsilon()
	p.DefaultThreshold = cfg.GetOpacityThreshold()
	return p
}
