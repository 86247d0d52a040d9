package validator

import (
	"sync"

	"github.com/NethermindEth/starktrie/core/felt"
	"github.com/NethermindEth/starktrie/core/state"
	"github.com/NethermindEth/starktrie/core/trie"
	"github.com/go-playground/validator/v10"
)

var (
	once sync.Once
	v    *validator.Validate
)

// validateFeltKey accepts felts that address a leaf of a storage or contract trie.
func validateFeltKey(fl validator.FieldLevel) bool {
	switch f := fl.Field().Interface().(type) {
	case felt.Felt:
		return trie.ValidKey(&f)
	case *felt.Felt:
		return f != nil && trie.ValidKey(f)
	default:
		return false
	}
}

func validateStarknetVersion(fl validator.FieldLevel) bool {
	version, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	_, err := state.ParseProtocolVersion(version)
	return err == nil
}

// Validator returns a singleton that can be used to validate various objects
func Validator() *validator.Validate {
	once.Do(func() {
		v = validator.New()

		if err := v.RegisterValidation("felt_key", validateFeltKey); err != nil {
			panic("failed to register validation: " + err.Error())
		}

		if err := v.RegisterValidation("starknet_version", validateStarknetVersion); err != nil {
			panic("failed to register validation: " + err.Error())
		}
	})
	return v
}
