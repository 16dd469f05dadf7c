// Package league holds the Swiss volleyball league vocabulary shared by the
// text parser, the merger and the store.
package league

import (
	"fmt"
	"strings"
)

// Level is a normalized league tier: NLA, NLB, 1L..5L or a youth tier U13..U23.
type Level string

const (
	NLA Level = "NLA"
	NLB Level = "NLB"
	L1  Level = "1L"
	L2  Level = "2L"
	L3  Level = "3L"
	L4  Level = "4L"
	L5  Level = "5L"
	U18 Level = "U18"
	U20 Level = "U20"
	U23 Level = "U23"
)

var seniorOrder = []Level{NLA, NLB, L1, L2, L3, L4, L5}

// trackedLevels are the tiers the directory keeps a flag for.
var trackedLevels = []Level{NLA, NLB, L1, L2, L3, L4, L5, U18, U20, U23}

// TrackedLevels returns the levels that carry a canonical participation flag.
func TrackedLevels() []Level {
	return append([]Level(nil), trackedLevels...)
}

// YouthLevel builds U<age> for 13..23.
func YouthLevel(age int) (Level, error) {
	if age < 13 || age > 23 {
		return "", fmt.Errorf("youth age %d out of range 13..23", age)
	}
	return Level(fmt.Sprintf("U%d", age)), nil
}

// ParseLevel accepts the normalized form in any case.
func ParseLevel(v string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(v)))
	if l.Valid() {
		return l, nil
	}
	return "", fmt.Errorf("unknown league level %q", v)
}

func (l Level) Valid() bool {
	for _, s := range seniorOrder {
		if l == s {
			return true
		}
	}
	if len(l) == 3 && l[0] == 'U' {
		age := int(l[1]-'0')*10 + int(l[2]-'0')
		return l[1] >= '0' && l[1] <= '9' && l[2] >= '0' && l[2] <= '9' && age >= 13 && age <= 23
	}
	return false
}

func (l Level) Category() Category {
	if strings.HasPrefix(string(l), "U") {
		return CategoryYouth
	}
	return CategorySenior
}

func (l Level) Tracked() bool {
	for _, t := range trackedLevels {
		if l == t {
			return true
		}
	}
	return false
}

// Order sorts levels for display: senior tiers top-down, then youth by age.
func (l Level) Order() int {
	for i, s := range seniorOrder {
		if l == s {
			return i
		}
	}
	if l.Category() == CategoryYouth && len(l) == 3 {
		return 100 + int(l[1]-'0')*10 + int(l[2]-'0')
	}
	return 1000
}

type Gender string

const (
	GenderMen     Gender = "men"
	GenderWomen   Gender = "women"
	GenderUnknown Gender = "unknown"
)

// KnownGenders are the genders a flag can be stored for.
var KnownGenders = []Gender{GenderMen, GenderWomen}

func ParseGender(v string) (Gender, error) {
	switch Gender(strings.ToLower(strings.TrimSpace(v))) {
	case GenderMen:
		return GenderMen, nil
	case GenderWomen:
		return GenderWomen, nil
	case GenderUnknown, "":
		return GenderUnknown, nil
	default:
		return "", fmt.Errorf("unknown gender %q", v)
	}
}

type Category string

const (
	CategorySenior Category = "senior"
	CategoryYouth  Category = "youth"
)
