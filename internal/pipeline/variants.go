package pipeline

import (
	"strings"

	"realskin-backend/pkg/api"
)

// The workflow saves each variant with a fixed filename prefix. These must
// match the SaveImage node prefixes in the workflow JSON.
var variantPrefixes = map[string]string{
	api.VariantComparison:   "RealSkin AI Lite Comparer Original Vs Final",
	api.VariantFinalResized: "RealSkin AI Light Final Resized to Original Scale",
	api.VariantFinalHiRes:   "RealSkin AI Light Final Hi-Rez Output",
	api.VariantFirstHiRes:   "RealSkin AI Light First Hi-Rez Output",
}

// MatchVariant maps a saved filename back to its variant name.
func MatchVariant(filename string) (string, bool) {
	for variant, prefix := range variantPrefixes {
		if strings.HasPrefix(filename, prefix) {
			return variant, true
		}
	}
	return "", false
}

// VariantPrefix returns the filename prefix for a variant name.
func VariantPrefix(variant string) (string, bool) {
	prefix, ok := variantPrefixes[variant]
	return prefix, ok
}
