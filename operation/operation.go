package operation

import (
	"time"

	"github.com/google/uuid"

	"dashsync/common"
)

// Kind represents the type of an edit operation.
type Kind string

const (
	// KindInsert inserts a new value at a path.
	KindInsert Kind = "insert"
	// KindDelete removes the value at a path.
	KindDelete Kind = "delete"
	// KindUpdate replaces the value at a path.
	KindUpdate Kind = "update"
	// KindMove relocates a value from one path to another.
	KindMove Kind = "move"
	// KindStyle merges a style patch into the element at a path.
	KindStyle Kind = "style"
)

// Operation represents a single edit intent against a dashboard document.
type Operation struct {
	// ID is the unique identifier of the operation.
	ID string `json:"id"`
	// Kind is the type of the operation.
	Kind Kind `json:"kind"`
	// DashboardID is the dashboard the operation targets.
	DashboardID string `json:"dashboardId"`
	// UserID is the user that submitted the operation.
	UserID string `json:"userId"`
	// Timestamp is the wall-clock submission time, used for tie-breaking.
	Timestamp time.Time `json:"timestamp"`
	// Path locates the target element inside the dashboard tree.
	// Move operations carry their paths in Payload instead.
	Path Path `json:"path,omitempty"`
	// Payload is the kind-specific data.
	Payload any `json:"payload,omitempty"`
	// Version is the server-assigned sequence number, zero before acceptance.
	Version int64 `json:"version,omitempty"`
}

// MovePayload is the payload of a Move operation.
type MovePayload struct {
	SourcePath Path `json:"sourcePath"`
	TargetPath Path `json:"targetPath"`
}

// StylePayload is the payload of a Style operation.
type StylePayload struct {
	Style map[string]any `json:"style"`
}

// New creates an operation with a generated ID and the current time.
func New(kind Kind, dashboardID, userID string, path Path, payload any) *Operation {
	return &Operation{
		ID:          uuid.NewString(),
		Kind:        kind,
		DashboardID: dashboardID,
		UserID:      userID,
		Timestamp:   time.Now().UTC(),
		Path:        path,
		Payload:     payload,
	}
}

// Validate checks the structural invariants of the operation.
func (op *Operation) Validate() error {
	switch op.Kind {
	case KindInsert, KindDelete, KindUpdate, KindStyle:
		if len(op.Path) == 0 {
			return common.ErrInvalidOperation{Message: "path cannot be empty for kind " + string(op.Kind)}
		}
	case KindMove:
		src, dst, ok := op.MovePaths()
		if !ok || len(src) == 0 || len(dst) == 0 {
			return common.ErrInvalidOperation{Message: "move requires sourcePath and targetPath in payload"}
		}
	default:
		return common.ErrInvalidOperation{Message: "unknown kind " + string(op.Kind)}
	}
	return nil
}

// MovePaths extracts the source and target paths of a Move operation.
// The payload may be a typed MovePayload or a decoded JSON mapping.
func (op *Operation) MovePaths() (Path, Path, bool) {
	switch p := op.Payload.(type) {
	case MovePayload:
		return p.SourcePath, p.TargetPath, true
	case *MovePayload:
		return p.SourcePath, p.TargetPath, true
	case map[string]any:
		src, okSrc := toPath(p["sourcePath"])
		dst, okDst := toPath(p["targetPath"])
		return src, dst, okSrc && okDst
	}
	return nil, nil, false
}

// StylePatch extracts the style mapping of a Style operation.
func (op *Operation) StylePatch() (map[string]any, bool) {
	switch p := op.Payload.(type) {
	case StylePayload:
		return p.Style, p.Style != nil
	case *StylePayload:
		return p.Style, p.Style != nil
	case map[string]any:
		if style, ok := p["style"].(map[string]any); ok {
			return style, true
		}
	}
	return nil, false
}

func toPath(v any) (Path, bool) {
	switch p := v.(type) {
	case Path:
		return p, true
	case []string:
		return Path(p), true
	case []any:
		segments := make(Path, 0, len(p))
		for _, s := range p {
			str, ok := s.(string)
			if !ok {
				return nil, false
			}
			segments = append(segments, str)
		}
		return segments, true
	}
	return nil, false
}
