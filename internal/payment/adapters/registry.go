package adapters

import (
	"strings"

	"github.com/smallbiznis/clinicledger/internal/payment/domain"
)

// Registry resolves the webhook verifier for a provider path segment.
type Registry struct {
	verifiers map[string]domain.Verifier
}

func NewRegistry(verifiers ...domain.Verifier) *Registry {
	registry := &Registry{verifiers: map[string]domain.Verifier{}}
	for _, verifier := range verifiers {
		if verifier == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(verifier.Provider()))
		if provider == "" {
			continue
		}
		registry.verifiers[provider] = verifier
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	_, err := r.Verifier(provider)
	return err == nil
}

func (r *Registry) Verifier(provider string) (domain.Verifier, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	verifier, ok := r.verifiers[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return verifier, nil
}
