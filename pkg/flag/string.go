package flag

import (
	"github.com/spf13/pflag"
)

// StringFlag handles string flags, used for dataset-name and glob-pattern
// arguments (e.g. the name argument to zvol_remove_minors).
type StringFlag struct {
	FlagPart
	Value    string
	Validate func(Value StringFlag) error
}

// NewStringFlag creates a new StringFlag object.
func NewStringFlag(key, usage string, hidden bool, validate func(StringFlag) error) StringFlag {
	return StringFlag{
		FlagPart: NewFlagPart(key, usage, hidden),
		Validate: validate,
	}
}

// AddTo satisfies the Flag interface requirement.
func (f *StringFlag) AddTo(flagSet *pflag.FlagSet) {
	if f.short == "" {
		flagSet.StringVar(&f.Value, f.Key, f.Value, f.usage)
	} else {
		flagSet.StringVarP(&f.Value, f.Key, f.short, f.Value, f.usage)
	}
	if f.hidden {
		flagSet.Lookup(f.Key).Hidden = true
	}
}

// AddUnhiddenTo satisfies the Flag interface requirement.
func (f *StringFlag) AddUnhiddenTo(flagSet *pflag.FlagSet) {
	if f.short == "" {
		flagSet.StringVar(&f.Value, f.Key, f.Value, f.usage)
	} else {
		flagSet.StringVarP(&f.Value, f.Key, f.short, f.Value, f.usage)
	}
}

// FlagValidate satisfies the Flag interface requirement.
func (f StringFlag) FlagValidate() error {
	if f.Validate == nil {
		return nil
	}
	return f.Validate(f)
}
