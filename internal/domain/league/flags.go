package league

import (
	"fmt"
	"sort"
	"strings"
)

// FlagKey addresses one participation flag, written as "NLA/women".
type FlagKey struct {
	Level  Level
	Gender Gender
}

func Key(level Level, gender Gender) FlagKey {
	return FlagKey{Level: level, Gender: gender}
}

func (k FlagKey) String() string {
	return string(k.Level) + "/" + string(k.Gender)
}

func ParseFlagKey(v string) (FlagKey, error) {
	levelPart, genderPart, ok := strings.Cut(strings.TrimSpace(v), "/")
	if !ok {
		return FlagKey{}, fmt.Errorf("flag key %q must look like LEVEL/GENDER", v)
	}
	level, err := ParseLevel(levelPart)
	if err != nil {
		return FlagKey{}, err
	}
	gender, err := ParseGender(genderPart)
	if err != nil {
		return FlagKey{}, err
	}
	if gender == GenderUnknown {
		return FlagKey{}, fmt.Errorf("flag key %q needs a known gender", v)
	}
	return FlagKey{Level: level, Gender: gender}, nil
}

func (k FlagKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *FlagKey) UnmarshalText(b []byte) error {
	parsed, err := ParseFlagKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Flags maps level/gender pairs to participation. A missing key reads as false.
type Flags map[FlagKey]bool

func (f Flags) IsSet(level Level, gender Gender) bool {
	return f[FlagKey{Level: level, Gender: gender}]
}

// Set records value for the key. Callers that must stay monotonic use Raise.
func (f Flags) Set(level Level, gender Gender, value bool) {
	f[FlagKey{Level: level, Gender: gender}] = value
}

// Raise sets the flag to true and reports whether it was false before.
func (f Flags) Raise(key FlagKey) bool {
	if f[key] {
		return false
	}
	f[key] = true
	return true
}

// Union ORs other into f.
func (f Flags) Union(other Flags) {
	for k, v := range other {
		if v {
			f[k] = true
		}
	}
}

func (f Flags) Clone() Flags {
	out := make(Flags, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the keys that are true, sorted by level then gender.
func (f Flags) Keys() []FlagKey {
	out := make([]FlagKey, 0, len(f))
	for k, v := range f {
		if v {
			out = append(out, k)
		}
	}
	SortKeys(out)
	return out
}

func (f Flags) Any() bool {
	for _, v := range f {
		if v {
			return true
		}
	}
	return false
}

func SortKeys(keys []FlagKey) {
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := keys[i].Level.Order(), keys[j].Level.Order()
		if ri != rj {
			return ri < rj
		}
		return keys[i].Gender < keys[j].Gender
	})
}
