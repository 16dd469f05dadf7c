// Package club holds the canonical club entity and the rules that fold
// source records into it.
package club

import (
	"fmt"
	"strings"
	"time"

	"github.com/miocrobos/habicht-directory/internal/domain/canton"
	"github.com/miocrobos/habicht-directory/internal/domain/league"
	"github.com/miocrobos/habicht-directory/internal/domain/sourcerecord"
)

// Field names a scalar club attribute tracked in provenance.
type Field string

const (
	FieldName    Field = "name"
	FieldCanton  Field = "canton"
	FieldTown    Field = "town"
	FieldWebsite Field = "website"
	FieldLogo    Field = "logo"
)

// ScalarFields are resolved by rank when records disagree.
var ScalarFields = []Field{FieldCanton, FieldTown, FieldWebsite, FieldLogo}

// FlagField is the provenance field name of a league flag.
func FlagField(key league.FlagKey) Field {
	return Field("flag:" + key.String())
}

// Club is the canonical, deduplicated directory entry. ID is assigned by the
// store and never changes; Key and Name are unique.
type Club struct {
	ID         int64
	Key        string
	Name       string
	Canton     canton.Code
	Town       string
	Website    string
	Logo       string
	Flags      league.Flags
	Aliases    []string
	Provenance []FieldProvenance
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FieldProvenance records which observation supplied a field value.
type FieldProvenance struct {
	Field      Field             `json:"field"`
	Value      string            `json:"value"`
	Source     string            `json:"source"`
	Rank       sourcerecord.Rank `json:"rank"`
	RecordID   string            `json:"record_id,omitempty"`
	ObservedAt time.Time         `json:"observed_at"`
}

func (c Club) Validate() error {
	if strings.TrimSpace(c.Key) == "" {
		return fmt.Errorf("club key is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("club name is required")
	}
	if c.Canton != "" && c.Canton != canton.Unknown && !c.Canton.Valid() {
		return fmt.Errorf("club canton %q is invalid", c.Canton)
	}
	return nil
}

func (c Club) Scalar(f Field) string {
	switch f {
	case FieldName:
		return c.Name
	case FieldCanton:
		if c.Canton == canton.Unknown {
			return ""
		}
		return string(c.Canton)
	case FieldTown:
		return c.Town
	case FieldWebsite:
		return c.Website
	case FieldLogo:
		return c.Logo
	default:
		return ""
	}
}

func (c *Club) setScalar(f Field, v string) {
	switch f {
	case FieldName:
		c.Name = v
	case FieldCanton:
		c.Canton = canton.Parse(v)
	case FieldTown:
		c.Town = v
	case FieldWebsite:
		c.Website = v
	case FieldLogo:
		c.Logo = v
	}
}

// ProvenanceFor returns the entry backing field, if any.
func (c Club) ProvenanceFor(f Field) (FieldProvenance, bool) {
	for i := len(c.Provenance) - 1; i >= 0; i-- {
		if c.Provenance[i].Field == f {
			return c.Provenance[i], true
		}
	}
	return FieldProvenance{}, false
}

// setProvenance keeps a single entry per field.
func (c *Club) setProvenance(p FieldProvenance) {
	for i := range c.Provenance {
		if c.Provenance[i].Field == p.Field {
			c.Provenance[i] = p
			return
		}
	}
	c.Provenance = append(c.Provenance, p)
}

func (c Club) HasAlias(alias string) bool {
	for _, a := range c.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}

// Completeness counts the populated scalar fields.
func (c Club) Completeness() int {
	n := 0
	for _, f := range ScalarFields {
		if c.Scalar(f) != "" {
			n++
		}
	}
	return n
}

func (c Club) Clone() Club {
	out := c
	if c.Flags != nil {
		out.Flags = c.Flags.Clone()
	} else {
		out.Flags = league.Flags{}
	}
	out.Aliases = append([]string(nil), c.Aliases...)
	out.Provenance = append([]FieldProvenance(nil), c.Provenance...)
	return out
}

// MergeConflict is an equal-rank disagreement. The kept value stays on the
// club; the row exists for audit.
type MergeConflict struct {
	ClubID         int64             `json:"club_id"`
	Key            string            `json:"key"`
	Field          Field             `json:"field"`
	KeptValue      string            `json:"kept_value"`
	KeptSource     string            `json:"kept_source"`
	RejectedValue  string            `json:"rejected_value"`
	RejectedSource string            `json:"rejected_source"`
	Rank           sourcerecord.Rank `json:"rank"`
	RunID          string            `json:"run_id"`
	DetectedAt     time.Time         `json:"detected_at"`
}

// MergeConflictError wraps a MergeConflict for callers that report it
// through the error path.
type MergeConflictError struct {
	Conflict MergeConflict
}

func (e *MergeConflictError) Error() string {
	c := e.Conflict
	return fmt.Sprintf("merge conflict on %s for %q: kept %q (%s), rejected %q (%s) at rank %s",
		c.Field, c.Key, c.KeptValue, c.KeptSource, c.RejectedValue, c.RejectedSource, c.Rank)
}

func (c MergeConflict) Err() error {
	return &MergeConflictError{Conflict: c}
}
