package api

import (
	"context"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/xlegames/forge/internal/registry"
)

// RegistryView exposes the registry's registrations and outstanding
// markers as read-only operations.
type RegistryView struct {
	reg *registry.Registry
}

// NewRegistryView builds a RegistryView over reg.
func NewRegistryView(reg *registry.Registry) *RegistryView {
	return &RegistryView{reg: reg}
}

// RegistrationResponse is one registered compiler.
type RegistrationResponse struct {
	ID            uint64   `json:"id" doc:"Registration id"`
	DisplayName   string   `json:"display_name" doc:"Human-readable compiler name"`
	SourceVersion string   `json:"source_version" doc:"Compiler source version string"`
	OutputTypes   []string `json:"output_types" doc:"Output type codes this compiler can produce, hex-encoded"`
	Pattern       string   `json:"pattern" doc:"Initializer-matching regular expression"`
}

type listRegistrationsInput struct{}

type listRegistrationsOutput struct {
	Body []RegistrationResponse
}

// MarkerResponse is one outstanding (type code, initializers) request.
type MarkerResponse struct {
	TypeCode     string   `json:"type_code" doc:"Requested output type code, hex-encoded"`
	Initializers []string `json:"initializers" doc:"Compiler initializer arguments"`
	State        string   `json:"state" doc:"pending, ready, or invalid"`
}

type listMarkersInput struct{}

type listMarkersOutput struct {
	Body []MarkerResponse
}

// Register adds the registry introspection routes to api.
func (v *RegistryView) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRegistrations",
		Method:      "GET",
		Path:        "/api/v1/registrations",
		Summary:     "List registered compilers",
		Tags:        []string{"Registry"},
	}, v.listRegistrations)

	huma.Register(api, huma.Operation{
		OperationID: "listMarkers",
		Method:      "GET",
		Path:        "/api/v1/markers",
		Summary:     "List outstanding compile markers",
		Tags:        []string{"Registry"},
	}, v.listMarkers)
}

func (v *RegistryView) listRegistrations(_ context.Context, _ *listRegistrationsInput) (*listRegistrationsOutput, error) {
	infos := v.reg.Registrations()
	out := make([]RegistrationResponse, 0, len(infos))
	for _, info := range infos {
		types := make([]string, 0, len(info.OutputTypes))
		for _, t := range info.OutputTypes {
			types = append(types, "0x"+strconv.FormatUint(uint64(t), 16))
		}
		out = append(out, RegistrationResponse{
			ID:            info.ID,
			DisplayName:   info.DisplayName,
			SourceVersion: info.SourceVersion,
			OutputTypes:   types,
			Pattern:       info.Pattern,
		})
	}
	return &listRegistrationsOutput{Body: out}, nil
}

func (v *RegistryView) listMarkers(_ context.Context, _ *listMarkersInput) (*listMarkersOutput, error) {
	infos := v.reg.Markers()
	out := make([]MarkerResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, MarkerResponse{
			TypeCode:     "0x" + strconv.FormatUint(uint64(info.TypeCode), 16),
			Initializers: info.Initializers,
			State:        stateName(info.State),
		})
	}
	return &listMarkersOutput{Body: out}, nil
}

func stateName(s registry.State) string {
	switch s {
	case registry.Ready:
		return "ready"
	case registry.Invalid:
		return "invalid"
	default:
		return "pending"
	}
}
