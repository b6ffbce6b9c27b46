package flag

import "github.com/spf13/pflag"

// UintFlag handles uint flags
type UintFlag struct {
	FlagPart
	Value    uint
	Validate func(f UintFlag) error
}

// NewUintFlag returns a new UintFlag object
func NewUintFlag(key, usage string, hidden bool, validate func(UintFlag) error) UintFlag {
	return UintFlag{
		FlagPart: NewFlagPart(key, usage, hidden),
		Validate: validate,
	}
}

// AddTo satisfies the Flag interface requirement
func (f *UintFlag) AddTo(flagSet *pflag.FlagSet) {
	if f.short == "" {
		flagSet.UintVar(&f.Value, f.Key, f.Value, f.usage)
	} else {
		flagSet.UintVarP(&f.Value, f.Key, f.short, f.Value, f.usage)
	}
	if f.hidden {
		flag := flagSet.Lookup(f.Key)
		flag.Hidden = true
	}
}

// AddUnhiddenTo satisfies the Flag interface requirement
func (f *UintFlag) AddUnhiddenTo(flagSet *pflag.FlagSet) {
	if f.short == "" {
		flagSet.UintVar(&f.Value, f.Key, f.Value, f.usage)
	} else {
		flagSet.UintVarP(&f.Value, f.Key, f.short, f.Value, f.usage)
	}
}

// FlagValidate satisfies the Flag interface requirement
func (f UintFlag) FlagValidate() error {
	if f.Validate == nil {
		return nil
	}
	return f.Validate(f)
}

// Uint64Flag handles uint64 flags, used for byte-count and rate tunables
// that can legitimately exceed the 32-bit range (trim_extent_bytes_max,
// zfs_key_max_salt_uses).
type Uint64Flag struct {
	FlagPart
	Value    uint64
	Validate func(f Uint64Flag) error
}

// NewUint64Flag returns a new Uint64Flag object.
func NewUint64Flag(key, usage string, hidden bool, validate func(Uint64Flag) error) Uint64Flag {
	return Uint64Flag{
		FlagPart: NewFlagPart(key, usage, hidden),
		Validate: validate,
	}
}

// AddTo satisfies the Flag interface requirement.
func (f *Uint64Flag) AddTo(flagSet *pflag.FlagSet) {
	if f.short == "" {
		flagSet.Uint64Var(&f.Value, f.Key, f.Value, f.usage)
	} else {
		flagSet.Uint64VarP(&f.Value, f.Key, f.short, f.Value, f.usage)
	}
	if f.hidden {
		flagSet.Lookup(f.Key).Hidden = true
	}
}

// AddUnhiddenTo satisfies the Flag interface requirement.
func (f *Uint64Flag) AddUnhiddenTo(flagSet *pflag.FlagSet) {
	if f.short == "" {
		flagSet.Uint64Var(&f.Value, f.Key, f.Value, f.usage)
	} else {
		flagSet.Uint64VarP(&f.Value, f.Key, f.short, f.Value, f.usage)
	}
}

// FlagValidate satisfies the Flag interface requirement.
func (f Uint64Flag) FlagValidate() error {
	if f.Validate == nil {
		return nil
	}
	return f.Validate(f)
}
