package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
)

func TestChainJobCarriesStageIdentifiers(t *testing.T) {
	job := &types.ProcessingJob{
		ID:          uuid.New(),
		LabID:       uuid.New(),
		JobType:     types.JobTypePaperCrawl,
		Status:      types.JobStatusRunning,
		Priority:    7,
		MaxAttempts: 5,
		InputConfig: datatypes.JSON(`{"search_query": "sparse attention", "max_results": 50}`),
	}
	jc := runtime.NewContext(context.Background(), nil, job, nil, nil, nil)

	next := chainJob(jc, types.JobTypePaperProcess, map[string]any{
		"paper_count": 2,
		"arxiv_ids":   []string{"2408.01234", "2408.05678"},
	})

	require.Equal(t, job.LabID, next.LabID)
	require.Equal(t, types.JobTypePaperProcess, next.JobType)
	require.Equal(t, types.JobStatusQueued, next.Status)
	require.Equal(t, 7, next.Priority)
	require.Equal(t, 5, next.MaxAttempts)

	var input map[string]any
	require.NoError(t, json.Unmarshal(next.InputConfig, &input))

	// The predecessor's input survives, its handed-over papers are recorded,
	// and stage bookkeeping like counts stays out of the successor's input.
	require.Equal(t, "sparse attention", input["search_query"])
	require.Equal(t, []any{"2408.01234", "2408.05678"}, input["arxiv_ids"])
	require.NotContains(t, input, "paper_count")
}

func TestChainJobPrefersNewestPaperIDs(t *testing.T) {
	stale := uuid.NewString()
	fresh := uuid.NewString()
	job := &types.ProcessingJob{
		ID:          uuid.New(),
		LabID:       uuid.New(),
		JobType:     types.JobTypePaperProcess,
		Status:      types.JobStatusRunning,
		MaxAttempts: 3,
		InputConfig: datatypes.JSON(`{"paper_ids": ["` + stale + `"]}`),
	}
	jc := runtime.NewContext(context.Background(), nil, job, nil, nil, nil)

	next := chainJob(jc, types.JobTypeEntityExtract, map[string]any{
		"paper_ids": []string{fresh},
	})

	var input map[string]any
	require.NoError(t, json.Unmarshal(next.InputConfig, &input))
	require.Equal(t, []any{fresh}, input["paper_ids"])
}
