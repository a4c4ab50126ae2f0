// Package secrets resolves linked services into secret handles that the
// executor can dereference. Secret values never pass through this service.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/pipeline"
)

// ErrUnresolvable is returned when a linked service carries no usable secret handle.
var ErrUnresolvable = errors.New("linked service secret handle unresolvable")

// Handle names a secret held by the executor's secret store.
type Handle struct {
	Name string
}

// LinkedServiceSource is the subset of the catalog the resolver needs.
type LinkedServiceSource interface {
	GetLinkedService(ctx context.Context, linkedServiceID string) (*pipeline.LinkedService, error)
}

// handleKeys are the config keys consulted, in order, for the secret name.
var handleKeys = []string{
	"connectionstring_secret_name",
	"connectionstring_azurekeyvaultsecret_name",
	"secret_name",
}

// CatalogResolver reads secret handles from linked service configs.
type CatalogResolver struct {
	source LinkedServiceSource
}

func NewCatalogResolver(source LinkedServiceSource) *CatalogResolver {
	return &CatalogResolver{source: source}
}

// Resolve returns the secret handle of a linked service.
func (r *CatalogResolver) Resolve(ctx context.Context, linkedServiceID string) (Handle, error) {
	if strings.TrimSpace(linkedServiceID) == "" {
		return Handle{}, fmt.Errorf("no linked service configured: %w", ErrUnresolvable)
	}

	ls, err := r.source.GetLinkedService(ctx, linkedServiceID)
	if err != nil {
		return Handle{}, fmt.Errorf("resolve linked service %s: %w", linkedServiceID, err)
	}

	var cfg map[string]any
	if len(ls.Config) > 0 {
		if err := json.Unmarshal(ls.Config, &cfg); err != nil {
			return Handle{}, fmt.Errorf("linked service %s config: %w", linkedServiceID, ErrUnresolvable)
		}
	}
	for _, key := range handleKeys {
		if name, ok := cfg[key].(string); ok && strings.TrimSpace(name) != "" {
			return Handle{Name: strings.TrimSpace(name)}, nil
		}
	}
	return Handle{}, fmt.Errorf("linked service %s has no secret name: %w", linkedServiceID, ErrUnresolvable)
}
