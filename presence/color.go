package presence

import (
	"hash/fnv"
)

// palette is the set of display colors assigned to participants. Distinct
// users may collide; the color is a visual hint, not an identity.
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
	"#bcf60c", "#fabebe", "#008080", "#e6beff",
	"#9a6324", "#800000", "#aaffc3", "#808000",
}

// colorFor returns the stable display color for a user. The same user ID
// always maps to the same color within a process lifetime.
func colorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}
