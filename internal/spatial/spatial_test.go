package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseSchema_RequiresAllSurfaceFields(t *testing.T) {
	assert.ElementsMatch(t, []string{"type", "material", "color", "bounding_box", "reasoning"}, responseSchema.Required)
	assert.Contains(t, responseSchema.Properties, "bounding_box")
}
