package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/pipeline"
)

type mapSource map[string]pipeline.LinkedService

func (m mapSource) GetLinkedService(ctx context.Context, id string) (*pipeline.LinkedService, error) {
	ls, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("linked service %s: %w", id, pipeline.ErrLinkedServiceNotFound)
	}
	return &ls, nil
}

func TestCatalogResolver(t *testing.T) {
	source := mapSource{
		"ls-new":    {LinkedServiceID: "ls-new", Config: json.RawMessage(`{"connectionstring_secret_name":"kv-new"}`)},
		"ls-legacy": {LinkedServiceID: "ls-legacy", Config: json.RawMessage(`{"connectionstring_azurekeyvaultsecret_name":" kv-legacy "}`)},
		"ls-empty":  {LinkedServiceID: "ls-empty", Config: json.RawMessage(`{"host":"db"}`)},
		"ls-bad":    {LinkedServiceID: "ls-bad", Config: json.RawMessage(`not json`)},
	}
	r := NewCatalogResolver(source)
	ctx := context.Background()

	h, err := r.Resolve(ctx, "ls-new")
	require.NoError(t, err)
	assert.Equal(t, "kv-new", h.Name)

	h, err = r.Resolve(ctx, "ls-legacy")
	require.NoError(t, err)
	assert.Equal(t, "kv-legacy", h.Name)

	_, err = r.Resolve(ctx, "ls-empty")
	require.ErrorIs(t, err, ErrUnresolvable)

	_, err = r.Resolve(ctx, "ls-bad")
	require.ErrorIs(t, err, ErrUnresolvable)

	_, err = r.Resolve(ctx, "")
	require.ErrorIs(t, err, ErrUnresolvable)

	_, err = r.Resolve(ctx, "ls-missing")
	require.ErrorIs(t, err, pipeline.ErrLinkedServiceNotFound)
}
