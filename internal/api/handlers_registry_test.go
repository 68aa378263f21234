package api

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/registry"
)

func TestRegistryView_ListRegistrations(t *testing.T) {
	reg := registry.New(context.Background(), registry.Options{})
	_, err := reg.RegisterCompiler(regexp.MustCompile(`.*\.txt$`), []artifact.TypeCode{artifact.TypeText}, "text-compiler", "v1", nil,
		func(initializers []string) (registry.CompileOperation, error) { return nil, nil })
	require.NoError(t, err)

	v := NewRegistryView(reg)
	out, err := v.listRegistrations(context.Background(), &listRegistrationsInput{})
	require.NoError(t, err)
	require.Len(t, out.Body, 1)
	assert.Equal(t, "text-compiler", out.Body[0].DisplayName)
	assert.Equal(t, "v1", out.Body[0].SourceVersion)
}

func TestRegistryView_ListMarkers(t *testing.T) {
	reg := registry.New(context.Background(), registry.Options{})
	_, err := reg.RegisterCompiler(regexp.MustCompile(`.*`), []artifact.TypeCode{artifact.TypeText}, "any", "v1", nil,
		func(initializers []string) (registry.CompileOperation, error) { return nil, nil })
	require.NoError(t, err)

	_, err = reg.Prepare(artifact.TypeText, []string{"a.txt"})
	require.NoError(t, err)

	v := NewRegistryView(reg)
	out, err := v.listMarkers(context.Background(), &listMarkersInput{})
	require.NoError(t, err)
	require.Len(t, out.Body, 1)
	assert.Equal(t, []string{"a.txt"}, out.Body[0].Initializers)
}

func TestStateName(t *testing.T) {
	assert.Equal(t, "pending", stateName(registry.Pending))
	assert.Equal(t, "ready", stateName(registry.Ready))
	assert.Equal(t, "invalid", stateName(registry.Invalid))
}
