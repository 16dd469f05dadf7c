// Package canton maps Swiss postal codes to the canton that administers them.
package canton

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Code is a two-letter canton abbreviation.
type Code string

const (
	Unknown Code = "UNKNOWN"

	AG Code = "AG"
	AI Code = "AI"
	AR Code = "AR"
	BE Code = "BE"
	BL Code = "BL"
	BS Code = "BS"
	FR Code = "FR"
	GE Code = "GE"
	GL Code = "GL"
	GR Code = "GR"
	JU Code = "JU"
	LU Code = "LU"
	NE Code = "NE"
	NW Code = "NW"
	OW Code = "OW"
	SG Code = "SG"
	SH Code = "SH"
	SO Code = "SO"
	SZ Code = "SZ"
	TG Code = "TG"
	TI Code = "TI"
	UR Code = "UR"
	VD Code = "VD"
	VS Code = "VS"
	ZG Code = "ZG"
	ZH Code = "ZH"
)

var all = []Code{AG, AI, AR, BE, BL, BS, FR, GE, GL, GR, JU, LU, NE, NW, OW, SG, SH, SO, SZ, TG, TI, UR, VD, VS, ZG, ZH}

// All returns the 26 cantons in alphabetical order.
func All() []Code {
	return append([]Code(nil), all...)
}

// Parse accepts a canton abbreviation in any case. Anything else is Unknown.
func Parse(v string) Code {
	c := Code(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range all {
		if c == known {
			return c
		}
	}
	return Unknown
}

func (c Code) Valid() bool {
	return c != "" && c != Unknown && Parse(string(c)) == c
}

func (c Code) String() string {
	return string(c)
}

// ResolutionError reports a postal code that maps to no canton.
type ResolutionError struct {
	PostalCode string
	Reason     string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve canton for postal code %q: %s", e.PostalCode, e.Reason)
}

// Resolve returns the canton for a 4-digit postal code, or Unknown.
func Resolve(postalCode string) Code {
	c, _ := ResolveStrict(postalCode)
	return c
}

// ResolveStrict is Resolve with the reason for an Unknown result.
func ResolveStrict(postalCode string) (Code, error) {
	code := strings.TrimSpace(postalCode)
	if len(code) != 4 {
		return Unknown, &ResolutionError{PostalCode: postalCode, Reason: "postal code must have 4 digits"}
	}
	n, err := strconv.Atoi(code)
	if err != nil || n < 0 {
		return Unknown, &ResolutionError{PostalCode: postalCode, Reason: "postal code must be numeric"}
	}
	if n < 1000 {
		return Unknown, &ResolutionError{PostalCode: postalCode, Reason: "postal code below 1000"}
	}

	if c, ok := lookup(exceptions, n); ok {
		return c, nil
	}
	if c, ok := lookup(ranges, n); ok {
		return c, nil
	}
	return Unknown, &ResolutionError{PostalCode: postalCode, Reason: "postal code not mapped"}
}

func lookup(table []postalRange, n int) (Code, bool) {
	i := sort.Search(len(table), func(i int) bool { return table[i].to >= n })
	if i < len(table) && table[i].from <= n {
		return table[i].canton, true
	}
	return "", false
}
