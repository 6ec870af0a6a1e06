package logger

import (
	"time"

	"go.uber.org/zap"
)

// UserID tags the local user record.
func UserID(v string) zap.Field {
	return zap.String("user_id", v)
}

// ExternalUID tags the identity-provider UID.
func ExternalUID(v string) zap.Field {
	return zap.String("external_uid", v)
}

// Email tags an email address. Only the domain part is kept.
func Email(v string) zap.Field {
	return zap.String("email_domain", MaskEmail(v))
}

// TabID tags the browser tab scope.
func TabID(v string) zap.Field {
	return zap.String("tab_id", v)
}

// Provider tags a provider kind such as "google.com".
func Provider(v string) zap.Field {
	return zap.String("provider", v)
}

// Attempt tags a retry attempt number.
func Attempt(n int) zap.Field {
	return zap.Int("attempt", n)
}

// Status tags an HTTP status code.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration tags an elapsed time.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// Err tags an error.
func Err(err error) zap.Field {
	return zap.Error(err)
}
