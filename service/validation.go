package service

import (
	"errors"
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/zlnvch/artstudio/models"
)

var projectIdRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

const (
	maxDisplayNameLength = 64
	maxToolNameLength    = 32
	maxLayers            = 100
	maxLayerNameLength   = 128
)

func ValidateProjectId(projectId string) error {
	if !projectIdRegex.MatchString(projectId) {
		return errors.New("invalid project id")
	}
	return nil
}

func ValidateJoin(p JoinPayload) error {
	if err := ValidateProjectId(p.ProjectId); err != nil {
		return err
	}
	if utf8.RuneCountInString(p.DisplayName) > maxDisplayNameLength {
		return errors.New("display name too long")
	}
	return nil
}

func ValidateDraw(p DrawPayload) error {
	if len(p.DrawData) == 0 || string(p.DrawData) == "null" {
		return errors.New("missing draw data")
	}
	return nil
}

func ValidateCanvasUpdate(p CanvasUpdatePayload) error {
	if p.CanvasData == nil && p.Layers == nil {
		return errors.New("canvas update carries no state")
	}
	if p.Layers != nil {
		return ValidateLayers(p.Layers)
	}
	return nil
}

func ValidateCursorMove(p CursorMovePayload) error {
	if p.X == nil || p.Y == nil {
		return errors.New("missing cursor coordinates")
	}
	if !isFinite(*p.X) || !isFinite(*p.Y) {
		return errors.New("invalid cursor coordinates")
	}
	return nil
}

func ValidateLayerChange(p LayerChangePayload) error {
	if p.Layers == nil {
		return errors.New("missing layers")
	}
	return ValidateLayers(p.Layers)
}

func ValidateToolChange(p ToolChangePayload) error {
	if p.Tool == "" {
		return errors.New("missing tool")
	}
	if len(p.Tool) > maxToolNameLength {
		return errors.New("tool name too long")
	}
	return nil
}

func ValidateLayers(layers []models.Layer) error {
	if len(layers) > maxLayers {
		return errors.New("too many layers")
	}
	for _, l := range layers {
		if l.Id == "" {
			return errors.New("layer missing id")
		}
		if utf8.RuneCountInString(l.Name) > maxLayerNameLength {
			return errors.New("layer name too long")
		}
		if l.Opacity < 0 || l.Opacity > 1 || math.IsNaN(l.Opacity) {
			return errors.New("invalid layer opacity")
		}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
