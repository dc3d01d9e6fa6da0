package assembler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/tabscan/internal/apperr"
	"github.com/MeKo-Tech/tabscan/internal/assembler"
	"github.com/MeKo-Tech/tabscan/internal/model"
	"github.com/MeKo-Tech/tabscan/internal/testutil"
)

func grid(rows ...[]string) testutil.PageScript {
	return testutil.PageScript{Fragments: testutil.GridFragments(rows, 0.95)}
}

func values(tbl model.Table) [][]string {
	out := make([][]string, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		out = append(out, r.Values())
	}
	return out
}

type recorder struct {
	total    int
	pages    []model.PageOutcome
	result   *model.JobResult
	lastDone int
}

func (r *recorder) OnStart(total int) { r.total = total }
func (r *recorder) OnPage(o model.PageOutcome, done, _ int) {
	r.pages = append(r.pages, o)
	r.lastDone = done
}
func (r *recorder) OnComplete(res *model.JobResult) { r.result = res }

func TestAssembleOrdersRowsByPage(t *testing.T) {
	p := testutil.NewPipeline()
	p.AddDocument("doc.pdf",
		testutil.PageScript{
			Fragments:   testutil.GridFragments([][]string{{"1", "Ion"}, {"2", "Ana"}}, 0.9),
			RenderDelay: 30 * time.Millisecond,
		},
		grid([]string{"3", "Dan"}),
		grid([]string{"4", "Eva"}, []string{"5", "Gil"}),
	)

	opts := assembler.DefaultOptions()
	opts.MaxPages = 3
	rec := &recorder{}
	res, err := assembler.New(p, p, nil).Assemble(context.Background(), "doc.pdf", opts, rec)
	require.NoError(t, err)

	assert.Equal(t, model.StatusComplete, res.Status)
	assert.Equal(t, 2, res.Table.Columns)
	assert.Equal(t, [][]string{{"1", "Ion"}, {"2", "Ana"}, {"3", "Dan"}, {"4", "Eva"}, {"5", "Gil"}}, values(res.Table))
	for i, r := range res.Table.Rows {
		assert.Len(t, r.Cells, res.Table.Columns, "row %d", i)
	}
	require.Len(t, res.Manifest.Pages, 3)
	for i, o := range res.Manifest.Pages {
		assert.Equal(t, i, o.Page)
		assert.Equal(t, model.PageSuccess, o.Status)
	}

	assert.Equal(t, 3, rec.total)
	assert.Len(t, rec.pages, 3)
	assert.Equal(t, 3, rec.lastDone)
	assert.Same(t, res, rec.result)
	assert.Zero(t, p.Outstanding())
}

func TestAssemblePadsNarrowRows(t *testing.T) {
	p := testutil.NewPipeline()
	p.AddDocument("doc.pdf",
		grid([]string{"a", "b", "c"}),
		grid([]string{"d", "e"}),
	)

	res, err := assembler.New(p, p, nil).Assemble(context.Background(), "doc.pdf", assembler.DefaultOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Table.Columns)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d", "e", ""}}, values(res.Table))
}

func TestAssemblePageFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name     string
		pages    []testutil.PageScript
		status   model.Status
		statuses []model.PageStatus
		rows     int
	}{
		{
			name:     "render failure",
			pages:    []testutil.PageScript{grid([]string{"a"}), {RenderErr: boom}, grid([]string{"b"})},
			status:   model.StatusPartial,
			statuses: []model.PageStatus{model.PageSuccess, model.PageFailed, model.PageSuccess},
			rows:     2,
		},
		{
			name:     "recognition failure",
			pages:    []testutil.PageScript{{RecognizeErr: boom}, grid([]string{"b"})},
			status:   model.StatusPartial,
			statuses: []model.PageStatus{model.PageFailed, model.PageSuccess},
			rows:     1,
		},
		{
			name:     "every page fails",
			pages:    []testutil.PageScript{{RenderErr: boom}, {RecognizeErr: boom}},
			status:   model.StatusFailed,
			statuses: []model.PageStatus{model.PageFailed, model.PageFailed},
		},
		{
			name:     "blank page succeeds without rows",
			pages:    []testutil.PageScript{{}, grid([]string{"b"})},
			status:   model.StatusComplete,
			statuses: []model.PageStatus{model.PageSuccess, model.PageSuccess},
			rows:     1,
		},
		{
			name: "low confidence page is degraded",
			pages: []testutil.PageScript{
				grid([]string{"a"}),
				{Fragments: testutil.GridFragments([][]string{{"x", "y"}}, 0.3)},
			},
			status:   model.StatusPartial,
			statuses: []model.PageStatus{model.PageSuccess, model.PageDegraded},
			rows:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.NewPipeline()
			p.AddDocument("doc.pdf", tt.pages...)

			res, err := assembler.New(p, p, nil).Assemble(context.Background(), "doc.pdf", assembler.DefaultOptions(), nil)
			require.NoError(t, err)

			assert.Equal(t, tt.status, res.Status)
			assert.Len(t, res.Table.Rows, tt.rows)
			require.Len(t, res.Manifest.Pages, len(tt.statuses))
			for i, want := range tt.statuses {
				got := res.Manifest.Pages[i]
				assert.Equal(t, want, got.Status, "page %d", i)
				if want != model.PageSuccess {
					assert.NotEmpty(t, got.Reason, "page %d", i)
				}
			}
			assert.Zero(t, p.Outstanding())
		})
	}
}

func TestAssembleFailureReasonNamesStage(t *testing.T) {
	p := testutil.NewPipeline()
	p.AddDocument("doc.pdf", testutil.PageScript{RenderErr: errors.New("bad stream")}, testutil.PageScript{RecognizeErr: errors.New("engine crashed")})

	res, err := assembler.New(p, p, nil).Assemble(context.Background(), "doc.pdf", assembler.DefaultOptions(), nil)
	require.NoError(t, err)

	assert.Contains(t, res.Manifest.Pages[0].Reason, "render")
	assert.Contains(t, res.Manifest.Pages[0].Reason, "bad stream")
	assert.Contains(t, res.Manifest.Pages[1].Reason, "recogni")
	assert.Contains(t, res.Manifest.Pages[1].Reason, "engine crashed")
}

func TestAssembleUnreadableDocument(t *testing.T) {
	p := testutil.NewPipeline()

	rec := &recorder{}
	res, err := assembler.New(p, p, nil).Assemble(context.Background(), "nope.pdf", assembler.DefaultOptions(), rec)
	require.ErrorIs(t, err, apperr.ErrUnreadableDocument)
	require.NotNil(t, res)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Empty(t, res.Table.Rows)
	assert.Same(t, res, rec.result)
}

func TestAssemblePageTimeout(t *testing.T) {
	p := testutil.NewPipeline()
	p.AddDocument("doc.pdf",
		grid([]string{"a"}),
		testutil.PageScript{Fragments: testutil.GridFragments([][]string{{"slow"}}, 0.9), RecognizeDelay: time.Second},
	)

	opts := assembler.DefaultOptions()
	opts.PageTimeout = 50 * time.Millisecond
	start := time.Now()
	res, err := assembler.New(p, p, nil).Assemble(context.Background(), "doc.pdf", opts, nil)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, model.StatusPartial, res.Status)
	assert.Equal(t, [][]string{{"a"}}, values(res.Table))
	assert.Equal(t, model.PageFailed, res.Manifest.Pages[1].Status)
	assert.Contains(t, res.Manifest.Pages[1].Reason, "deadline")
	assert.Eventually(t, func() bool { return p.Outstanding() == 0 }, time.Second, 10*time.Millisecond)
}

func TestAssembleInterruptedKeepsFinishedPages(t *testing.T) {
	pages := make([]testutil.PageScript, 6)
	for i := range pages {
		pages[i] = testutil.PageScript{
			Fragments:   testutil.GridFragments([][]string{{string(rune('a' + i))}}, 0.9),
			RenderDelay: 200 * time.Millisecond,
		}
	}
	p := testutil.NewPipeline()
	p.AddDocument("doc.pdf", pages...)

	opts := assembler.DefaultOptions()
	opts.MaxPages = 2
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := assembler.New(p, p, nil).Assemble(ctx, "doc.pdf", opts, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Less(t, time.Since(start), 600*time.Millisecond)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, values(res.Table))
	require.Len(t, res.Manifest.Pages, 6)
	assert.Equal(t, model.PageSuccess, res.Manifest.Pages[0].Status)
	assert.Equal(t, model.PageSuccess, res.Manifest.Pages[1].Status)
	for _, o := range res.Manifest.Pages[2:] {
		assert.Equal(t, model.PageFailed, o.Status)
		assert.Contains(t, o.Reason, "abandoned")
	}
	assert.Equal(t, model.StatusPartial, res.Status)
	assert.NotEmpty(t, res.Reason)
	assert.Eventually(t, func() bool { return p.Outstanding() == 0 }, time.Second, 10*time.Millisecond)
}

func TestAssembleBoundsConcurrency(t *testing.T) {
	pages := make([]testutil.PageScript, 8)
	for i := range pages {
		pages[i] = testutil.PageScript{RenderDelay: 20 * time.Millisecond}
	}
	p := testutil.NewPipeline()
	p.AddDocument("doc.pdf", pages...)

	opts := assembler.DefaultOptions()
	opts.MaxPages = 3
	_, err := assembler.New(p, p, nil).Assemble(context.Background(), "doc.pdf", opts, nil)
	require.NoError(t, err)

	assert.LessOrEqual(t, p.MaxInFlight.Load(), int64(3))
	assert.Equal(t, int64(8), p.Rendered.Load())
}

func TestAssembleIsDeterministic(t *testing.T) {
	p := testutil.NewPipeline()
	p.AddDocument("doc.pdf",
		grid([]string{"1", "Ion", "12,50"}, []string{"2", "", "3,00"}),
		grid([]string{"3", "Ana", "7,25"}),
	)

	a := assembler.New(p, p, nil)
	first, err := a.Assemble(context.Background(), "doc.pdf", assembler.DefaultOptions(), nil)
	require.NoError(t, err)
	second, err := a.Assemble(context.Background(), "doc.pdf", assembler.DefaultOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, first.Table, second.Table)
}

func TestAssembleEmptyDocument(t *testing.T) {
	p := testutil.NewPipeline()
	p.AddDocument("empty.pdf")

	res, err := assembler.New(p, p, nil).Assemble(context.Background(), "empty.pdf", assembler.DefaultOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusComplete, res.Status)
	assert.Empty(t, res.Table.Rows)
	assert.Zero(t, res.Table.Columns)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*assembler.Options)
		wantErr bool
	}{
		{"defaults", func(*assembler.Options) {}, false},
		{"negative workers", func(o *assembler.Options) { o.MaxPages = -1 }, true},
		{"negative timeout", func(o *assembler.Options) { o.PageTimeout = -time.Second }, true},
		{"floor above one", func(o *assembler.Options) { o.ConfidenceFloor = 1.5 }, true},
		{"negative fraction", func(o *assembler.Options) { o.DegradedFraction = -0.1 }, true},
		{"bad dpi", func(o *assembler.Options) { o.Raster.DPI = 10 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := assembler.DefaultOptions()
			tt.mutate(&o)
			if tt.wantErr {
				assert.Error(t, o.Validate())
			} else {
				assert.NoError(t, o.Validate())
			}
		})
	}
}
