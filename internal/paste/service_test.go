package paste

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"limitpaste/internal/storage"
	"limitpaste/internal/storage/memstore"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newService(t *testing.T, base string) (*Service, *fakeClock) {
	t.Helper()
	store, err := memstore.New(0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	clock := &fakeClock{t: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)}
	svc, err := NewService(Config{Store: store, Clock: clock.Now, BaseURL: base, MaxBytes: 64})
	require.NoError(t, err)
	return svc, clock
}

func intp(v int) *int { return &v }

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := newService(t, "")
	cases := []struct {
		name  string
		req   SubmitRequest
		field string
		msg   string
	}{
		{"empty", SubmitRequest{}, "content", "content is required and must be a non-empty string"},
		{"whitespace", SubmitRequest{Content: " \n\t"}, "content", "content is required and must be a non-empty string"},
		{"too large", SubmitRequest{Content: string(make([]byte, 65)) + "x"}, "content", "content must be at most 64 B"},
		{"zero ttl", SubmitRequest{Content: "x", TTLSeconds: intp(0)}, "ttl_seconds", "ttl_seconds must be an integer >= 1"},
		{"negative ttl", SubmitRequest{Content: "x", TTLSeconds: intp(-5)}, "ttl_seconds", "ttl_seconds must be an integer >= 1"},
		{"zero views", SubmitRequest{Content: "x", MaxViews: intp(0)}, "max_views", "max_views must be an integer >= 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitPaste(context.Background(), tc.req)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.field, verr.Field)
			assert.Equal(t, tc.msg, verr.Message)
		})
	}
}

func TestSubmitURL(t *testing.T) {
	relative, _ := newService(t, "")
	sub, err := relative.SubmitPaste(context.Background(), SubmitRequest{Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, "/p/"+sub.ID, sub.URL)

	absolute, _ := newService(t, "https://paste.example/")
	sub, err = absolute.SubmitPaste(context.Background(), SubmitRequest{Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, "https://paste.example/p/"+sub.ID, sub.URL)
}

func TestContentIsStoredVerbatim(t *testing.T) {
	svc, _ := newService(t, "")
	ctx := context.Background()
	content := "  <b>keep</b> my\nspacing  \n"
	sub, err := svc.SubmitPaste(ctx, SubmitRequest{Content: content})
	require.NoError(t, err)

	v, err := svc.ViewPaste(ctx, sub.ID, "")
	require.NoError(t, err)
	assert.Equal(t, content, v.Content)
	assert.Nil(t, v.RemainingViews)
	assert.Nil(t, v.ExpiresAt)
}

func TestViewLimit(t *testing.T) {
	svc, _ := newService(t, "")
	ctx := context.Background()
	sub, err := svc.SubmitPaste(ctx, SubmitRequest{Content: "hello", MaxViews: intp(2)})
	require.NoError(t, err)

	v, err := svc.ViewPaste(ctx, sub.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, *v.RemainingViews)

	v, err = svc.ViewPaste(ctx, sub.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 0, *v.RemainingViews)

	_, err = svc.ViewPaste(ctx, sub.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTTLUsesInjectedClock(t *testing.T) {
	svc, clock := newService(t, "")
	ctx := context.Background()
	created := clock.Now()
	sub, err := svc.SubmitPaste(ctx, SubmitRequest{Content: "soon gone", TTLSeconds: intp(60)})
	require.NoError(t, err)

	clock.Advance(59*time.Second + 999*time.Millisecond)
	v, err := svc.ViewPaste(ctx, sub.ID, "")
	require.NoError(t, err)
	require.NotNil(t, v.ExpiresAt)
	assert.True(t, created.Add(time.Minute).Equal(*v.ExpiresAt))

	clock.Advance(time.Millisecond)
	_, err = svc.ViewPaste(ctx, sub.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithNowOverridesClock(t *testing.T) {
	svc, clock := newService(t, "")
	ctx := context.Background()
	sub, err := svc.SubmitPaste(ctx, SubmitRequest{Content: "x", TTLSeconds: intp(10)})
	require.NoError(t, err)

	future := WithNow(ctx, clock.Now().Add(time.Hour))
	_, err = svc.ViewPaste(future, sub.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ViewPaste(ctx, sub.ID, "")
	assert.NoError(t, err)
}

func TestUnknownAndMalformedIDs(t *testing.T) {
	svc, _ := newService(t, "")
	for _, id := range []string{"", "nope", "aaaaaaaaaaaa", "../../etc/passwd"} {
		_, err := svc.ViewPaste(context.Background(), id, "")
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestPassphraseFlow(t *testing.T) {
	svc, _ := newService(t, "")
	ctx := context.Background()
	sub, err := svc.SubmitPaste(ctx, SubmitRequest{Content: "secret", MaxViews: intp(1), Passphrase: "open sesame"})
	require.NoError(t, err)

	_, err = svc.ViewPaste(ctx, sub.ID, "")
	assert.ErrorIs(t, err, ErrPassphraseRequired)
	_, err = svc.ViewPaste(ctx, sub.ID, "wrong")
	assert.ErrorIs(t, err, ErrPassphraseRequired)

	// Failed attempts left the single view intact.
	v, err := svc.ViewPaste(ctx, sub.ID, "open sesame")
	require.NoError(t, err)
	assert.Equal(t, "secret", v.Content)
	assert.Equal(t, 0, *v.RemainingViews)

	// Exhausted protected pastes look like any other missing paste.
	_, err = svc.ViewPaste(ctx, sub.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentSingleView(t *testing.T) {
	svc, _ := newService(t, "")
	ctx := context.Background()
	sub, err := svc.SubmitPaste(ctx, SubmitRequest{Content: "once", MaxViews: intp(1)})
	require.NoError(t, err)

	var served, missed atomic.Int32
	var g errgroup.Group
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			<-start
			_, err := svc.ViewPaste(ctx, sub.ID, "")
			switch {
			case err == nil:
				served.Add(1)
			case errors.Is(err, ErrNotFound):
				missed.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, served.Load())
	assert.EqualValues(t, 49, missed.Load())
}

// faultStore fails every operation.
type faultStore struct{ err error }

func (f faultStore) Create(context.Context, storage.NewPaste) (*storage.Paste, error) {
	return nil, f.err
}
func (f faultStore) Get(context.Context, string) (*storage.Paste, error) { return nil, f.err }
func (f faultStore) ConsumeView(context.Context, string, time.Time) (*storage.Paste, error) {
	return nil, f.err
}
func (f faultStore) Ping(context.Context) error { return f.err }
func (f faultStore) Close() error               { return nil }

// racingStore passes the pre-check but loses the conditional update.
type racingStore struct {
	faultStore
	paste storage.Paste
}

func (r racingStore) Get(context.Context, string) (*storage.Paste, error) {
	p := r.paste
	return &p, nil
}
func (r racingStore) ConsumeView(context.Context, string, time.Time) (*storage.Paste, error) {
	return nil, storage.ErrNotAvailable
}

func TestStoreFaultsPropagate(t *testing.T) {
	boom := errors.New("engine down")
	svc, err := NewService(Config{Store: faultStore{err: boom}})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.SubmitPaste(ctx, SubmitRequest{Content: "x"})
	assert.ErrorIs(t, err, boom)
	_, err = svc.ViewPaste(ctx, "abcdefghijkl", "")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Ping(ctx), boom)
}

func TestConsumeDecidesAfterPrecheck(t *testing.T) {
	svc, err := NewService(Config{Store: racingStore{paste: storage.Paste{ID: "abcdefghijkl", Content: "x", MaxViews: 1}}})
	require.NoError(t, err)
	_, err = svc.ViewPaste(context.Background(), "abcdefghijkl", "")
	assert.ErrorIs(t, err, ErrNotFound)
}
