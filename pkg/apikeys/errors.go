package apikeys

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ConfigError reports an unusable key file. It is raised at load time only
// and is not recoverable per call.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("apikeys: configuration error: %v", e.Err)
	}
	return fmt.Sprintf("apikeys: configuration error in %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CredentialNotFoundError reports that no loaded credential matches the
// requested zone, environment, area and permission.
type CredentialNotFoundError struct {
	Zone       string
	Env        Environment
	Area       string
	Permission Permission
}

func (e *CredentialNotFoundError) Error() string {
	return fmt.Sprintf("apikeys: no API key for zone %q, env %q, area %q, permission %q",
		e.Zone, e.Env, e.Area, e.Permission)
}

func (c Credential) validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.Key, validation.Required),
		validation.Field(&c.APIs, validation.Required),
	); err != nil {
		return err
	}
	for i, api := range c.APIs {
		err := validation.ValidateStruct(&api,
			validation.Field(&api.Area, validation.Required),
			validation.Field(&api.Env, validation.Required,
				validation.In(EnvProduction, EnvSandbox)),
			validation.Field(&api.Permissions, validation.Required,
				validation.In(PermissionRead, PermissionReadWrite)),
		)
		if err != nil {
			return fmt.Errorf("supported API %d: %w", i, err)
		}
	}
	return nil
}
