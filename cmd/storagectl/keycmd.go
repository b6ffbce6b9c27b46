package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	sflag "github.com/openzfs-go/storageengine/pkg/flag"
	"github.com/openzfs-go/storageengine/pkg/zcrypt"
)

var keyFlags = struct {
	suite        sflag.StringFlag
	key          sflag.StringFlag
	wrappingKey  sflag.StringFlag
	wrappedBlob  sflag.StringFlag
}{
	suite:       sflag.NewStringFlag("suite", "crypto suite: aes-128-gcm, aes-192-gcm, aes-256-gcm, aes-128-ccm, aes-192-ccm or aes-256-ccm", false, nil),
	key:         sflag.NewStringFlag("key", "hex-encoded master key, sized to the suite's key length", false, nil),
	wrappingKey: sflag.NewStringFlag("wrapping-key", "hex-encoded wrapping key, sized to the suite's key length", false, nil),
	wrappedBlob: sflag.NewStringFlag("blob", "JSON-encoded wrapped key record produced by key wrap", false, nil),
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Wrap and unwrap dataset master keys (key_wrap / key_unwrap)",
}

func parseSuite(name string) (zcrypt.Suite, error) {
	switch name {
	case "aes-128-gcm":
		return zcrypt.AES128GCM, nil
	case "aes-192-gcm":
		return zcrypt.AES192GCM, nil
	case "aes-256-gcm":
		return zcrypt.AES256GCM, nil
	case "aes-128-ccm":
		return zcrypt.AES128CCM, nil
	case "aes-192-ccm":
		return zcrypt.AES192CCM, nil
	case "aes-256-ccm":
		return zcrypt.AES256CCM, nil
	default:
		return 0, fmt.Errorf("unknown suite %q", name)
	}
}

var keyWrapCmd = &cobra.Command{
	Use:   "wrap",
	Short: "Build a key from the --key master key and wrap it under --wrapping-key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		suite, err := parseSuite(keyFlags.suite.Value)
		if err != nil {
			return err
		}
		keyBytes, err := hex.DecodeString(keyFlags.key.Value)
		if err != nil {
			return fmt.Errorf("decode --key: %w", err)
		}
		wrapBytes, err := hex.DecodeString(keyFlags.wrappingKey.Value)
		if err != nil {
			return fmt.Errorf("decode --wrapping-key: %w", err)
		}

		k, err := zcrypt.Init(suite, keyBytes)
		if err != nil {
			return err
		}
		defer k.Zero()

		wrapped, err := k.Wrap(wrapBytes)
		if err != nil {
			return err
		}

		blob, err := json.Marshal(wrapped)
		if err != nil {
			return err
		}

		log.Infof("wrapped key for dataset guid %s", wrapped.GUID)
		fmt.Println(string(blob))
		return nil
	},
}

var keyUnwrapCmd = &cobra.Command{
	Use:   "unwrap",
	Short: "Unwrap a --blob produced by key wrap and report the recovered key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var wrapped zcrypt.WrappedKey
		if err := json.Unmarshal([]byte(keyFlags.wrappedBlob.Value), &wrapped); err != nil {
			return fmt.Errorf("decode --blob: %w", err)
		}
		wrapBytes, err := hex.DecodeString(keyFlags.wrappingKey.Value)
		if err != nil {
			return fmt.Errorf("decode --wrapping-key: %w", err)
		}

		k, err := zcrypt.Unwrap(&wrapped, wrapBytes)
		if err != nil {
			return err
		}
		defer k.Zero()

		log.Infof("recovered key: suite=%s version=%d guid=%s", k.Suite, k.Version, k.GUID)
		return nil
	},
}
