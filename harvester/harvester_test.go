package harvester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aluiziolira/go-harvest-places/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	pages     []*models.Page
	details   map[string]models.DetailInfo
	searchErr map[int]error
	detailErr map[string]error

	searchTokens []string
	detailIDs    []string
	served       int
}

func (s *stubProvider) Search(_ context.Context, _ models.SearchQuery, token string) (*models.Page, error) {
	call := len(s.searchTokens)
	s.searchTokens = append(s.searchTokens, token)
	if err, ok := s.searchErr[call]; ok {
		return nil, err
	}
	if s.served >= len(s.pages) {
		return &models.Page{}, nil
	}
	page := s.pages[s.served]
	s.served++
	return page, nil
}

func (s *stubProvider) Detail(_ context.Context, externalID string) (models.DetailInfo, error) {
	s.detailIDs = append(s.detailIDs, externalID)
	if err, ok := s.detailErr[externalID]; ok {
		return models.DetailInfo{}, err
	}
	return s.details[externalID], nil
}

type recordingPacer struct {
	waits map[PaceKind]int
}

func (p *recordingPacer) Wait(ctx context.Context, kind PaceKind) error {
	if p.waits == nil {
		p.waits = map[PaceKind]int{}
	}
	p.waits[kind]++
	return ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testQuery() models.SearchQuery {
	return models.NewSearchQuery(40.4168, -3.7038, 5000, "parking")
}

func rawResult(id string) models.RawResult {
	return models.RawResult{ExternalID: id, Name: "Parking " + id, Address: "Calle " + id, Lat: 40.41, Lng: -3.70}
}

func newTestHarvester(p Provider, opts ...Option) *Harvester {
	base := []Option{WithPacer(NoopPacer{}), WithLogger(quietLogger())}
	return New(p, append(base, opts...)...)
}

func TestHarvestSinglePageTwoResults(t *testing.T) {
	provider := &stubProvider{
		pages: []*models.Page{
			{Results: []models.RawResult{rawResult("a"), rawResult("b")}},
		},
		details: map[string]models.DetailInfo{
			"a": {Phone: "555-0001"},
		},
	}

	res, err := newTestHarvester(provider).Harvest(context.Background(), testQuery())
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "a", res.Records[0].ExternalID)
	assert.Equal(t, "555-0001", res.Records[0].Phone)
	assert.Equal(t, "b", res.Records[1].ExternalID)
	assert.Equal(t, "", res.Records[1].Phone)
	assert.Equal(t, models.StateDone, res.State)
	assert.NotEmpty(t, res.RunID)
}

func TestHarvestTwoPages(t *testing.T) {
	provider := &stubProvider{
		pages: []*models.Page{
			{Results: []models.RawResult{rawResult("a")}, NextPageToken: "T1"},
			{Results: []models.RawResult{rawResult("b")}},
		},
	}
	pacer := &recordingPacer{}

	res, err := newTestHarvester(provider, WithPacer(pacer)).Harvest(context.Background(), testQuery())
	require.NoError(t, err)

	assert.Len(t, res.Records, 2)
	assert.Equal(t, []string{"a", "b"}, provider.detailIDs)
	assert.Equal(t, []string{"", "T1"}, provider.searchTokens)
	assert.Equal(t, 2, res.DetailRequests)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2, pacer.waits[BetweenDetails])
	assert.Equal(t, 1, pacer.waits[BetweenPages])
}

func TestHarvestPaginationTermination(t *testing.T) {
	for _, tokens := range []int{0, 1, 4} {
		t.Run(fmt.Sprintf("tokens=%d", tokens), func(t *testing.T) {
			provider := &stubProvider{}
			total := 0
			for i := 0; i <= tokens; i++ {
				page := &models.Page{}
				for j := 0; j <= i; j++ {
					page.Results = append(page.Results, rawResult(fmt.Sprintf("p%d-%d", i, j)))
				}
				if i < tokens {
					page.NextPageToken = fmt.Sprintf("T%d", i+1)
				}
				total += len(page.Results)
				provider.pages = append(provider.pages, page)
			}

			res, err := newTestHarvester(provider).Harvest(context.Background(), testQuery())
			require.NoError(t, err)
			assert.Equal(t, tokens+1, res.SearchRequests)
			assert.Len(t, provider.searchTokens, tokens+1)
			assert.Len(t, res.Records, total)
		})
	}
}

func TestHarvestDetailMergedByExternalID(t *testing.T) {
	provider := &stubProvider{
		pages: []*models.Page{
			{Results: []models.RawResult{rawResult("x"), rawResult("y")}, NextPageToken: "next"},
			{Results: []models.RawResult{rawResult("z")}},
		},
		details: map[string]models.DetailInfo{
			"x": {Phone: "1", Hours: "Mon: x"},
			"y": {Phone: "2", Hours: "Mon: y"},
			"z": {Phone: "3", Hours: "Mon: z"},
		},
	}

	res, err := newTestHarvester(provider).Harvest(context.Background(), testQuery())
	require.NoError(t, err)

	require.Len(t, res.Records, 3)
	for i, record := range res.Records {
		want := provider.details[record.ExternalID]
		assert.Equal(t, want.Phone, record.Phone, "record %d", i)
		assert.Equal(t, want.Hours, record.Hours, "record %d", i)
	}
	assert.Equal(t, []string{"x", "y", "z"}, []string{res.Records[0].ExternalID, res.Records[1].ExternalID, res.Records[2].ExternalID})
}

func TestHarvestAbsentOptionalFields(t *testing.T) {
	rating := 4.5
	open := false
	withFields := rawResult("a")
	withFields.Rating = &rating
	withFields.OpenNow = &open

	provider := &stubProvider{
		pages: []*models.Page{{Results: []models.RawResult{withFields, rawResult("b")}}},
	}

	res, err := newTestHarvester(provider).Harvest(context.Background(), testQuery())
	require.NoError(t, err)

	require.NotNil(t, res.Records[0].Rating)
	assert.Equal(t, 4.5, *res.Records[0].Rating)
	require.NotNil(t, res.Records[0].OpenNow)
	assert.False(t, *res.Records[0].OpenNow)
	assert.Nil(t, res.Records[1].Rating)
	assert.Nil(t, res.Records[1].OpenNow)
}

func TestHarvestReturnsPartialResultOnFailure(t *testing.T) {
	denied := &ProviderError{Op: phaseDetail, Status: "REQUEST_DENIED"}
	provider := &stubProvider{
		pages: []*models.Page{
			{Results: []models.RawResult{rawResult("a")}, NextPageToken: "T1"},
			{Results: []models.RawResult{rawResult("b"), rawResult("c")}},
		},
		detailErr: map[string]error{"b": denied},
	}

	res, err := newTestHarvester(provider, WithRetryPolicy(ExponentialBackoff{MaxRetries: 3, Base: time.Millisecond})).
		Harvest(context.Background(), testQuery())
	require.Error(t, err)

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "REQUEST_DENIED", providerErr.Status)
	assert.Equal(t, models.StateFailed, res.State)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "a", res.Records[0].ExternalID)
	assert.Equal(t, 0, res.Retries, "non-retryable errors must not be retried")
	assert.Equal(t, []string{"a", "b"}, provider.detailIDs)
}

func TestHarvestRetriesTransientSearchError(t *testing.T) {
	provider := &stubProvider{
		pages: []*models.Page{{Results: []models.RawResult{rawResult("a")}}},
		searchErr: map[int]error{
			0: &TransportError{Op: phaseSearch, Err: errors.New("connection reset")},
		},
	}

	res, err := newTestHarvester(provider, WithRetryPolicy(ExponentialBackoff{MaxRetries: 2, Base: time.Millisecond})).
		Harvest(context.Background(), testQuery())
	require.NoError(t, err)

	assert.Equal(t, 2, res.SearchRequests)
	assert.Equal(t, 1, res.Retries)
	assert.Len(t, res.Records, 1)
}

func TestHarvestRetryLimitExhausted(t *testing.T) {
	provider := &stubProvider{
		pages:     []*models.Page{{Results: []models.RawResult{rawResult("a")}}},
		detailErr: map[string]error{"a": &ProviderError{Op: phaseDetail, Status: "OVER_QUERY_LIMIT"}},
	}

	res, err := newTestHarvester(provider, WithRetryPolicy(ExponentialBackoff{MaxRetries: 2, Base: time.Millisecond})).
		Harvest(context.Background(), testQuery())
	require.Error(t, err)

	assert.Equal(t, "rate_limited", ErrorKind(err))
	assert.Equal(t, 3, res.DetailRequests)
	assert.Equal(t, 2, res.Retries)
	assert.Empty(t, res.Records)
}

func TestHarvestSchemaErrorNotRetried(t *testing.T) {
	provider := &stubProvider{
		searchErr: map[int]error{0: &SchemaError{Op: phaseSearch, Err: errors.New("missing place_id")}},
	}

	res, err := newTestHarvester(provider, WithRetryPolicy(ExponentialBackoff{MaxRetries: 5, Base: time.Millisecond})).
		Harvest(context.Background(), testQuery())
	require.Error(t, err)

	var schemaErr *SchemaError
	assert.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, 1, res.SearchRequests)
	assert.Equal(t, models.StateFailed, res.State)
}

func TestHarvestDedupe(t *testing.T) {
	pages := func() []*models.Page {
		return []*models.Page{
			{Results: []models.RawResult{rawResult("a"), rawResult("b")}, NextPageToken: "T1"},
			{Results: []models.RawResult{rawResult("b"), rawResult("c")}},
		}
	}

	t.Run("disabled keeps duplicates", func(t *testing.T) {
		provider := &stubProvider{pages: pages()}
		res, err := newTestHarvester(provider).Harvest(context.Background(), testQuery())
		require.NoError(t, err)
		assert.Len(t, res.Records, 4)
		assert.Equal(t, 0, res.Duplicates)
	})

	t.Run("enabled skips repeated ids", func(t *testing.T) {
		provider := &stubProvider{pages: pages()}
		res, err := newTestHarvester(provider, WithDedupe(16)).Harvest(context.Background(), testQuery())
		require.NoError(t, err)
		assert.Len(t, res.Records, 3)
		assert.Equal(t, 1, res.Duplicates)
		assert.Equal(t, []string{"a", "b", "c"}, provider.detailIDs)
	})
}

func TestHarvestMaxPagesTruncates(t *testing.T) {
	provider := &stubProvider{
		pages: []*models.Page{
			{Results: []models.RawResult{rawResult("a")}, NextPageToken: "T1"},
			{Results: []models.RawResult{rawResult("b")}, NextPageToken: "T2"},
			{Results: []models.RawResult{rawResult("c")}},
		},
	}

	res, err := newTestHarvester(provider, WithMaxPages(2)).Harvest(context.Background(), testQuery())
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 2, res.SearchRequests)
	assert.Len(t, res.Records, 2)
	assert.Equal(t, models.StateDone, res.State)
}

func TestHarvestInvalidQuery(t *testing.T) {
	provider := &stubProvider{}
	res, err := newTestHarvester(provider).Harvest(context.Background(), models.NewSearchQuery(40, -3, 0, "parking"))
	require.Error(t, err)
	assert.Equal(t, models.StateFailed, res.State)
	assert.Empty(t, provider.searchTokens)
}

func TestHarvestCanceledContext(t *testing.T) {
	provider := &stubProvider{
		pages: []*models.Page{{Results: []models.RawResult{rawResult("a"), rawResult("b")}}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestHarvester(provider).Harvest(ctx, testQuery())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StateFailed, res.State)
	assert.LessOrEqual(t, len(res.Records), 1)
}

func TestFetchDetailRejectsEmptyID(t *testing.T) {
	_, err := newTestHarvester(&stubProvider{}).FetchDetail(context.Background(), "")
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestSleepPacerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pacer := SleepPacer{Details: time.Hour, Pages: time.Hour}
	assert.ErrorIs(t, pacer.Wait(ctx, BetweenPages), context.Canceled)
}

func TestHarvestCountsResultsOutsideRadius(t *testing.T) {
	far := rawResult("far")
	far.Lat, far.Lng = 41.3874, 2.1686 // Barcelona

	provider := &stubProvider{
		pages: []*models.Page{{Results: []models.RawResult{rawResult("near"), far}}},
	}
	h := newTestHarvester(provider)

	result, err := h.Harvest(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Len(t, result.Records, 2, "results outside the radius are still kept")
	assert.Equal(t, 1, result.OutsideRadius)
}
