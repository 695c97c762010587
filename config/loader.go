package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"offgridpay/common"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// envParsers parses the types of the configuration that env doesn't know
var envParsers = env.CustomParsers{
	reflect.TypeOf(ethCommon.Address{}): func(v string) (interface{}, error) {
		if !ethCommon.IsHexAddress(v) {
			return nil, fmt.Errorf("invalid address %q", v)
		}
		return ethCommon.HexToAddress(v), nil
	},
}

func loadDefault(defaultValues string, cfg interface{}) error {
	if _, err := toml.Decode(defaultValues, cfg); err != nil {
		return common.Wrap(err)
	}
	return nil
}

func loadFile(path string, cfg interface{}) error {
	bs, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return common.Wrap(err)
	}
	cfgToml := string(bs)
	if _, err := toml.Decode(cfgToml, cfg); err != nil {
		return common.Wrap(err)
	}
	return nil
}

// loadEnv overwrites cfg with the environment variables.  The variables of
// the dotenv file, if it exists, are loaded first without overriding the
// ones already set.
func loadEnv(dotenvPath string, cfg interface{}) error {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
			return common.Wrap(err)
		}
	}
	if err := env.ParseWithFuncs(cfg, envParsers); err != nil {
		return common.Wrap(err)
	}
	return nil
}

// LoadConfig is the function that loads the configuration: the defaults,
// then the file and then the environment.
func LoadConfig(filePath, dotenvPath, defaultValues string, cfg interface{}) error {
	//Get default configuration
	if err := loadDefault(defaultValues, cfg); err != nil {
		return fmt.Errorf("error loading default configuration: %w", err)
	}
	// Get file configuration
	var errLoadFile error
	if filePath != "" {
		errLoadFile = loadFile(filePath, cfg)
	}
	// Overwrite file configuration with the env configuration
	errLoadEnv := loadEnv(dotenvPath, cfg)
	if errLoadFile != nil {
		return fmt.Errorf("error loading configuration file: %w", errLoadFile)
	}
	if errLoadEnv != nil {
		return fmt.Errorf("error loading environment variables: %w", errLoadEnv)
	}
	return nil
}
