// internal/settings/implementation.go
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const institutionKey = "institution"

func userKey(userID string) string { return "user:" + userID }

// service implements the Service interface.
type service struct {
	store  Store
	logger *zap.SugaredLogger
}

// NewService creates a settings service over store.
func NewService(store Store, logger *zap.SugaredLogger) Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &service{store: store, logger: logger}
}

func (s *service) Institution(ctx context.Context) (Institution, error) {
	inst := DefaultInstitution()
	data, ok, err := s.store.Get(ctx, institutionKey)
	if err != nil {
		return Institution{}, fmt.Errorf("load institution settings: %w", err)
	}
	if ok {
		if err := json.Unmarshal(data, &inst); err != nil {
			return Institution{}, fmt.Errorf("decode institution settings: %w", err)
		}
	}
	inst = inst.normalize()
	if inst.ProxyBaseURL != "" && !strings.HasPrefix(inst.ProxyBaseURL, "https://") {
		s.logger.Warnw("ignoring non-https relay base url", "proxyBaseUrl", inst.ProxyBaseURL)
		inst.ProxyBaseURL = ""
	}
	return inst, nil
}

func (s *service) SaveInstitution(ctx context.Context, inst Institution) (Institution, error) {
	inst = inst.normalize()
	if err := inst.validate(); err != nil {
		return Institution{}, err
	}
	data, err := json.Marshal(inst)
	if err != nil {
		return Institution{}, err
	}
	if err := s.store.Set(ctx, institutionKey, data); err != nil {
		return Institution{}, fmt.Errorf("save institution settings: %w", err)
	}
	s.logger.Infow("institution settings saved",
		"primary", inst.PrimaryField, "secondary", inst.SecondaryField, "idType", inst.OAIDTypeCode)
	return inst, nil
}

func (s *service) UserPrefs(ctx context.Context, userID string) (UserPrefs, error) {
	if strings.TrimSpace(userID) == "" {
		return UserPrefs{}, ErrInvalidUser
	}
	var prefs UserPrefs
	data, ok, err := s.store.Get(ctx, userKey(userID))
	if err != nil {
		return UserPrefs{}, fmt.Errorf("load user prefs: %w", err)
	}
	if !ok {
		return prefs, nil
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		return UserPrefs{}, fmt.Errorf("decode user prefs: %w", err)
	}
	return prefs, nil
}

func (s *service) SaveUserPrefs(ctx context.Context, userID string, prefs UserPrefs) (UserPrefs, error) {
	if strings.TrimSpace(userID) == "" {
		return UserPrefs{}, ErrInvalidUser
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return UserPrefs{}, err
	}
	if err := s.store.Set(ctx, userKey(userID), data); err != nil {
		return UserPrefs{}, fmt.Errorf("save user prefs: %w", err)
	}
	return prefs, nil
}
