// internal/settings/service.go
package settings

import "context"

// Service defines the operations of the settings service.
type Service interface {
	// Institution returns the saved settings merged over the defaults. A
	// relay URL that is not https is dropped.
	Institution(ctx context.Context) (Institution, error)
	SaveInstitution(ctx context.Context, inst Institution) (Institution, error)
	UserPrefs(ctx context.Context, userID string) (UserPrefs, error)
	SaveUserPrefs(ctx context.Context, userID string, prefs UserPrefs) (UserPrefs, error)
}
