package flag

import (
	"github.com/spf13/pflag"
)

// BoolFlag handles boolean flags.
type BoolFlag struct {
	FlagPart
	Value    bool
	Validate func(Value BoolFlag) error
}

// NewBoolFlag returns a new BoolFlag object.
func NewBoolFlag(key, usage string, hidden bool, validate func(BoolFlag) error) BoolFlag {
	return BoolFlag{
		FlagPart: NewFlagPart(key, usage, hidden),
		Validate: validate,
	}
}

// AddTo satisfies the Flag interface requirement.
func (f *BoolFlag) AddTo(flagSet *pflag.FlagSet) {
	if f.short == "" {
		flagSet.BoolVar(&f.Value, f.Key, f.Value, f.usage)
	} else {
		flagSet.BoolVarP(&f.Value, f.Key, f.short, f.Value, f.usage)
	}
	if f.hidden {
		flagSet.Lookup(f.Key).Hidden = true
	}
}

// AddUnhiddenTo satisfies the Flag interface requirement.
func (f *BoolFlag) AddUnhiddenTo(flagSet *pflag.FlagSet) {
	if f.short == "" {
		flagSet.BoolVar(&f.Value, f.Key, f.Value, f.usage)
	} else {
		flagSet.BoolVarP(&f.Value, f.Key, f.short, f.Value, f.usage)
	}
}

// FlagValidate satisfies the Flag interface requirement.
func (f BoolFlag) FlagValidate() error {
	if f.Validate == nil {
		return nil
	}
	return f.Validate(f)
}
