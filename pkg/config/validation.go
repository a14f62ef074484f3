package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittokv/pkg/namespace/badger"
	"github.com/marmos91/dittokv/pkg/storage/fs"
	"github.com/marmos91/dittokv/pkg/storage/s3"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
//
// Only the backend section selected by each Type is decoded and checked
// against the backend's own config struct.
func validateCustomRules(cfg *Config) error {
	switch cfg.Storage.Type {
	case "filesystem":
		var fsCfg fs.Config
		if err := validateOptions("storage.filesystem", cfg.Storage.Filesystem, &fsCfg); err != nil {
			return err
		}
	case "s3":
		var s3Cfg s3.Config
		if err := validateOptions("storage.s3", cfg.Storage.S3, &s3Cfg); err != nil {
			return err
		}
	}

	if cfg.Namespace.Type == "badger" {
		var badgerCfg badger.Config
		if err := validateOptions("namespace.badger", cfg.Namespace.Badger, &badgerCfg); err != nil {
			return err
		}
	}

	return nil
}

// validateOptions decodes a backend section into out and validates it.
func validateOptions(section string, options map[string]any, out any) error {
	if err := decodeOptions(options, out); err != nil {
		return fmt.Errorf("%s: %w", section, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%s: %w", section, formatValidationError(err))
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
