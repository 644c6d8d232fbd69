package engine

import (
	"fmt"

	"attache/internal/attache"
	"attache/internal/config"
)

// Engine is an image engine that can also report its format support.
type Engine interface {
	attache.Engine
	attache.CapabilityQuerier
}

// NewEngineFromConfig creates an Engine based on the engine config type.
func NewEngineFromConfig(cfg config.EngineConfig) (Engine, error) {
	switch cfg.Type {
	case "imagemagick", "":
		return NewMagick(cfg.IdentifyPath, cfg.ConvertPath), nil
	default:
		return nil, fmt.Errorf("unknown engine type: %q", cfg.Type)
	}
}
