// Package config loads the module-wide tunables (spec §6.4) the way
// pkg/vconvert loads its repository config: a viper-backed file/env layer,
// defaulted in code, then overridden by whatever the caller layers on top
// with imdario/mergo (the same library pkg/vcfg uses to merge configs).
package config

import (
	"github.com/imdario/mergo"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const configFileName = "storageengine"

// Tunables mirrors the runtime-adjustable knobs spec §6.4 names. Every
// field has a zero-touch default (set by Defaults) and can be overridden by
// a config file, environment variables prefixed STORAGEENGINE_, or a
// programmatic override merged in with Merge.
type Tunables struct {
	// TrimExtentBytesMax is the largest single TRIM I/O the engine will
	// issue before splitting (default 128MiB).
	TrimExtentBytesMax uint64

	// TrimExtentBytesMin is the smallest free extent worth trimming
	// (default 32KiB); anything smaller is skipped rather than issued.
	TrimExtentBytesMin uint64

	// TrimMetaslabSkip, when true, skips never-written metaslabs without
	// loading them, independent of a partial manual trim (resolved per
	// original_source/vdev_trim.c behavior).
	TrimMetaslabSkip bool

	// TrimTxgBatch bounds how many transaction groups of freed space
	// accumulate in ms_trim before automatic TRIM issues them.
	TrimTxgBatch uint32

	// TrimQueueLimit caps the number of in-flight TRIM I/Os per leaf.
	TrimQueueLimit uint32

	// ZvolInhibitDev, when true, suppresses minor creation entirely
	// (zvol_inhibit_dev).
	ZvolInhibitDev bool

	// ZvolThreads sizes the taskq backing zvol I/O dispatch.
	ZvolThreads uint32

	// ZvolNumTaskqs sets how many parallel taskqs back zvol I/O dispatch.
	ZvolNumTaskqs uint32

	// ZvolVolmode selects the default minor personality for newly created
	// zvols: 1 (device-only), 2 (device+symlink), 3 (none).
	ZvolVolmode uint32

	// ZfsKeyMaxSaltUses bounds how many times a dataset key's salt may be
	// reused before a fresh salt is generated (spec §4.3.3). zcrypt.Key
	// takes this bound through SetSaltUsesMax; no code in this module
	// passes this tunable there, so keys use zcrypt's built-in default.
	ZfsKeyMaxSaltUses uint64
}

// Defaults returns the tunables' built-in defaults, matching the values
// OpenZFS ships (module/zfs/vdev_trim.c, module/zfs/zvol.c,
// module/zfs/zfs_ioctl.c defaults) unless original_source/ indicated
// otherwise.
func Defaults() Tunables {
	return Tunables{
		TrimExtentBytesMax: 128 * 1024 * 1024,
		TrimExtentBytesMin: 32 * 1024,
		TrimMetaslabSkip:   false,
		TrimTxgBatch:       32,
		TrimQueueLimit:     10,
		ZvolInhibitDev:     false,
		ZvolThreads:        32,
		ZvolNumTaskqs:      4,
		ZvolVolmode:        1,
		ZfsKeyMaxSaltUses:  400000000,
	}
}

// Load reads a storageengine.yaml from cfgFile (if non-empty) or the user's
// home directory, layering its values over Defaults. A missing or
// unreadable config file is not an error: the defaults stand.
func Load(cfgFile string) (Tunables, error) {
	t := Defaults()

	v := viper.New()
	v.SetEnvPrefix("STORAGEENGINE")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(configFileName)
	}

	setViperDefaults(v, t)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return t, err
		}
	}

	if err := v.Unmarshal(&t); err != nil {
		return t, err
	}
	return t, nil
}

func setViperDefaults(v *viper.Viper, t Tunables) {
	v.SetDefault("trimextentbytesmax", t.TrimExtentBytesMax)
	v.SetDefault("trimextentbytesmin", t.TrimExtentBytesMin)
	v.SetDefault("trimmetaslabskip", t.TrimMetaslabSkip)
	v.SetDefault("trimtxgbatch", t.TrimTxgBatch)
	v.SetDefault("trimqueuelimit", t.TrimQueueLimit)
	v.SetDefault("zvolinhibitdev", t.ZvolInhibitDev)
	v.SetDefault("zvolthreads", t.ZvolThreads)
	v.SetDefault("zvolnumtaskqs", t.ZvolNumTaskqs)
	v.SetDefault("zvolvolmode", t.ZvolVolmode)
	v.SetDefault("zfskeymaxsaltuses", t.ZfsKeyMaxSaltUses)
}

// Merge layers override on top of base, with any non-zero field in
// override winning. Used to apply per-command flag overrides (cmd/storagectl)
// over a loaded config.
func Merge(base, override Tunables) (Tunables, error) {
	if err := mergo.Merge(&base, override, mergo.WithOverride); err != nil {
		return base, err
	}
	return base, nil
}
