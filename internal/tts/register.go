package tts

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-piper/internal/config"
	"github.com/loqalabs/loqa-piper/internal/registry"
)

// RegistryName is the key the adapter is registered under.
const RegistryName = "piper"

// Registrar is any registry exposing a Register(name, factory) method.
type Registrar interface {
	Register(name string, factory registry.Factory[Speaker])
}

// Register adds the Piper factory to target, which may be a Registrar or a
// plain map of factories. It reports false instead of failing when target
// has an unsupported shape, is nil, or panics.
func Register(target any, opts ...Option) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	factory := Factory(opts...)
	switch r := target.(type) {
	case Registrar:
		r.Register(RegistryName, factory)
		return true
	case map[string]registry.Factory[Speaker]:
		if r == nil {
			return false
		}
		r[RegistryName] = factory
		return true
	default:
		return false
	}
}

// Factory builds adapters from flat option maps.
func Factory(opts ...Option) registry.Factory[Speaker] {
	return func(options map[string]string) (Speaker, error) {
		cfg, err := ConfigFromOptions(options)
		if err != nil {
			return nil, err
		}
		return New(cfg, opts...)
	}
}

// ConfigFromOptions overlays well-known keys onto the default adapter config.
// Unknown keys become engine options.
func ConfigFromOptions(options map[string]string) (config.TTSConfig, error) {
	cfg := config.Default().TTS
	extra := make(map[string]string)
	for key, value := range options {
		switch key {
		case "engine":
			cfg.Engine = value
		case "command":
			cfg.Command = value
		case "model":
			cfg.Model = value
		case "voice":
			cfg.Voice = value
		case "sample_rate":
			rate, err := strconv.Atoi(value)
			if err != nil {
				return cfg, fmt.Errorf("sample_rate: %w", err)
			}
			cfg.SampleRate = rate
		case "normalize":
			normalize, err := strconv.ParseBool(value)
			if err != nil {
				return cfg, fmt.Errorf("normalize: %w", err)
			}
			cfg.Normalize = normalize
		case "workers":
			workers, err := strconv.Atoi(value)
			if err != nil {
				return cfg, fmt.Errorf("workers: %w", err)
			}
			cfg.Workers = workers
		case "probe_commands":
			var names []string
			for _, name := range strings.Split(value, ",") {
				if name = strings.TrimSpace(name); name != "" {
					names = append(names, name)
				}
			}
			cfg.ProbeCommands = names
		default:
			extra[key] = value
		}
	}
	if len(extra) > 0 {
		cfg.Options = extra
	}
	return cfg, nil
}

// OptionsFromConfig flattens cfg into the map understood by ConfigFromOptions.
func OptionsFromConfig(cfg config.TTSConfig) map[string]string {
	options := maps.Clone(cfg.Options)
	if options == nil {
		options = make(map[string]string)
	}
	options["engine"] = cfg.Engine
	options["command"] = cfg.Command
	options["model"] = cfg.Model
	options["voice"] = cfg.Voice
	options["sample_rate"] = strconv.Itoa(cfg.SampleRate)
	options["normalize"] = strconv.FormatBool(cfg.Normalize)
	options["workers"] = strconv.Itoa(cfg.Workers)
	options["probe_commands"] = strings.Join(cfg.ProbeCommands, ",")
	return options
}
