package api

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/xlegames/forge/internal/historydb"
)

// HistoryView exposes build-history queries.
type HistoryView struct {
	repo *historydb.Repo
}

// NewHistoryView builds a HistoryView over repo.
func NewHistoryView(repo *historydb.Repo) *HistoryView {
	return &HistoryView{repo: repo}
}

// BuildRecordResponse is one recorded build attempt.
type BuildRecordResponse struct {
	ID                  string `json:"id"`
	DisplayName         string `json:"display_name"`
	PrimaryInitializer  string `json:"primary_initializer"`
	Outcome             string `json:"outcome"`
	ErrorMsg            string `json:"error_msg,omitempty"`
	DurationMs          int64  `json:"duration_ms"`
	StartedAt           string `json:"started_at"`
}

type recentBuildsInput struct {
	Limit int `query:"limit" default:"50" doc:"Maximum number of records to return"`
}

type recentBuildsOutput struct {
	Body []BuildRecordResponse
}

type failureRateInput struct {
	DisplayName string `query:"display_name" required:"true"`
	LookbackMin int     `query:"lookback_minutes" default:"60"`
}

type failureRateOutput struct {
	Body struct {
		DisplayName string  `json:"display_name"`
		Rate        float64 `json:"rate"`
		Total       int64   `json:"total"`
	}
}

// Register adds the build-history routes to api.
func (v *HistoryView) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRecentBuilds",
		Method:      "GET",
		Path:        "/api/v1/builds",
		Summary:     "List recently completed builds",
		Tags:        []string{"History"},
	}, v.listRecent)

	huma.Register(api, huma.Operation{
		OperationID: "getFailureRate",
		Method:      "GET",
		Path:        "/api/v1/builds/failure-rate",
		Summary:     "Get a compiler's recent failure rate",
		Tags:        []string{"History"},
	}, v.failureRate)
}

func (v *HistoryView) listRecent(ctx context.Context, in *recentBuildsInput) (*recentBuildsOutput, error) {
	recs, err := v.repo.Recent(ctx, in.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("querying build history", err)
	}
	out := make([]BuildRecordResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, BuildRecordResponse{
			ID:                 r.ID.String(),
			DisplayName:        r.DisplayName,
			PrimaryInitializer: r.PrimaryInitializer,
			Outcome:            string(r.Outcome),
			ErrorMsg:           r.ErrorMsg,
			DurationMs:         r.DurationMs,
			StartedAt:          r.StartedAt.Format(time.RFC3339),
		})
	}
	return &recentBuildsOutput{Body: out}, nil
}

func (v *HistoryView) failureRate(ctx context.Context, in *failureRateInput) (*failureRateOutput, error) {
	rate, total, err := v.repo.FailureRate(ctx, in.DisplayName, time.Duration(in.LookbackMin)*time.Minute)
	if err != nil {
		return nil, huma.Error500InternalServerError("computing failure rate", err)
	}
	resp := &failureRateOutput{}
	resp.Body.DisplayName = in.DisplayName
	resp.Body.Rate = rate
	resp.Body.Total = total
	return resp, nil
}
