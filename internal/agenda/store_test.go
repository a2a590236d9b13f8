package agenda

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/realtime"
)

type fakeAPI struct {
	mu sync.Mutex

	listOut   []model.CalendarEvent
	listErr   error
	listCalls int
	listGate  chan struct{}

	createOut   model.CalendarEvent
	createErr   error
	createCalls int
	createGate  chan struct{}

	updateErr error
	deleteErr error
}

var _ API = (*fakeAPI)(nil)

func (f *fakeAPI) ListEvents(ctx context.Context) ([]model.CalendarEvent, error) {
	f.mu.Lock()
	f.listCalls++
	gate := f.listGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CalendarEvent(nil), f.listOut...), f.listErr
}

func (f *fakeAPI) CreateEvent(ctx context.Context, draft model.EventDraft) (model.CalendarEvent, error) {
	f.mu.Lock()
	f.createCalls++
	gate := f.createGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createOut, f.createErr
}

func (f *fakeAPI) UpdateEvent(ctx context.Context, event model.CalendarEvent) (model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return model.CalendarEvent{}, f.updateErr
	}
	return event, nil
}

func (f *fakeAPI) DeleteEvent(ctx context.Context, id model.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteErr
}

func (f *fakeAPI) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.createCalls
}

func (f *fakeAPI) setList(events []model.CalendarEvent, err error) {
	f.mu.Lock()
	f.listOut, f.listErr = events, err
	f.mu.Unlock()
}

func newStore(t *testing.T, api *fakeAPI) (*Store, *[]error) {
	t.Helper()
	reported := &[]error{}
	var mu sync.Mutex
	store, err := NewStore(StoreConfig{API: api, OnError: func(err error) {
		mu.Lock()
		*reported = append(*reported, err)
		mu.Unlock()
	}})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store, reported
}

func event(id, date string) model.CalendarEvent {
	return model.CalendarEvent{ID: model.ID(id), Title: "Event " + id, Date: date, Type: model.EventTypeMeeting}
}

func TestNewStoreRequiresAPI(t *testing.T) {
	_, err := NewStore(StoreConfig{})
	require.ErrorIs(t, err, errMissingAPI)
}

func TestRefreshReplacesWholesale(t *testing.T) {
	api := &fakeAPI{listOut: []model.CalendarEvent{event("1", "2024-05-01"), event("2", "2024-05-02")}}
	store, _ := newStore(t, api)

	store.Refresh(context.Background())
	require.Len(t, store.Events(), 2)
	assert.True(t, store.Snapshot().Loaded)

	api.setList([]model.CalendarEvent{event("3", "2024-05-03"), event("3", "2024-05-04")}, nil)
	store.Refresh(context.Background())
	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.ID("3"), events[0].ID)
	assert.Equal(t, "2024-05-04", events[0].Date, "duplicate ids keep the last occurrence")
}

func TestRefreshFailureKeepsLoadedData(t *testing.T) {
	api := &fakeAPI{listOut: []model.CalendarEvent{event("1", "2024-05-01")}}
	store, reported := newStore(t, api)
	store.Refresh(context.Background())

	failure := &errs.FetchError{Operation: "apiclient.list_events", Err: errors.New("timeout")}
	api.setList(nil, failure)
	store.Refresh(context.Background())

	require.Len(t, store.Events(), 1)
	require.Len(t, *reported, 1)
	assert.ErrorIs(t, (*reported)[0], errs.ErrTransientFetch)
}

func TestAddInsertsOnlyAfterServerConfirms(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{createOut: event("srv-9", "2024-05-05"), createGate: gate}
	store, _ := newStore(t, api)

	done := make(chan model.CalendarEvent, 1)
	go func() {
		created, err := store.Add(context.Background(), model.EventDraft{Title: "Pour", Date: "2024-05-05"})
		assert.NoError(t, err)
		done <- created
	}()

	require.Eventually(t, func() bool {
		_, creates := api.calls()
		return creates == 1
	}, time.Second, time.Millisecond)
	assert.Empty(t, store.Events(), "no optimistic insert while the create is in flight")

	close(gate)
	created := <-done
	assert.Equal(t, model.ID("srv-9"), created.ID)
	stored, ok := store.Event("srv-9")
	require.True(t, ok)
	assert.Equal(t, "2024-05-05", stored.Date)
}

func TestAddFailurePropagatesAndValidationSkipsNetwork(t *testing.T) {
	api := &fakeAPI{createErr: &errs.FetchError{Operation: "apiclient.create_event", StatusCode: 500}}
	store, _ := newStore(t, api)

	_, err := store.Add(context.Background(), model.EventDraft{Title: "Pour", Date: "2024-05-05"})
	require.ErrorIs(t, err, errs.ErrTransientFetch)
	assert.Empty(t, store.Events())

	_, err = store.Add(context.Background(), model.EventDraft{Date: "2024-05-05"})
	require.ErrorIs(t, err, errs.ErrValidation)
	_, creates := api.calls()
	assert.Equal(t, 1, creates, "validation failures never reach the network")
}

func TestUpdateAndDelete(t *testing.T) {
	api := &fakeAPI{listOut: []model.CalendarEvent{event("1", "2024-05-01"), event("2", "2024-05-02")}}
	store, _ := newStore(t, api)
	store.Refresh(context.Background())

	changed := event("1", "2024-05-09")
	changed.Title = "Moved"
	_, err := store.Update(context.Background(), changed)
	require.NoError(t, err)
	stored, ok := store.Event("1")
	require.True(t, ok)
	assert.Equal(t, "Moved", stored.Title)
	assert.Equal(t, model.ID("1"), store.Events()[0].ID, "updates apply in place")

	api.updateErr = &errs.FetchError{Operation: "apiclient.update_event", StatusCode: 409}
	rejected := event("2", "2024-06-01")
	_, err = store.Update(context.Background(), rejected)
	require.Error(t, err)
	stored, _ = store.Event("2")
	assert.Equal(t, "2024-05-02", stored.Date, "rejected edits leave the set unchanged")

	api.deleteErr = &errs.FetchError{Operation: "apiclient.delete_event", StatusCode: 500}
	require.Error(t, store.Delete(context.Background(), "2"))
	require.Len(t, store.Events(), 2)

	api.deleteErr = nil
	require.NoError(t, store.Delete(context.Background(), "2"))
	require.Len(t, store.Events(), 1)
	require.ErrorIs(t, store.Delete(context.Background(), ""), errs.ErrValidation)
}

func TestAttachRefreshesOnConnectAndAgendaUpdated(t *testing.T) {
	api := &fakeAPI{listOut: []model.CalendarEvent{event("1", "2024-05-01")}}
	store, _ := newStore(t, api)
	channel := realtime.NewDispatcher()
	store.Attach(context.Background(), channel)

	channel.Publish(realtime.Message{Event: realtime.EventConnect})
	require.Eventually(t, func() bool { return len(store.Events()) == 1 }, time.Second, time.Millisecond)

	api.setList([]model.CalendarEvent{event("1", "2024-05-01"), event("2", "2024-05-02")}, nil)
	channel.Publish(realtime.Message{Event: realtime.EventAgendaUpdated})
	require.Eventually(t, func() bool { return len(store.Events()) == 2 }, time.Second, time.Millisecond)

	channel.Publish(realtime.Message{Event: realtime.EventConnect})
	require.Eventually(t, func() bool {
		lists, _ := api.calls()
		return lists == 3
	}, time.Second, time.Millisecond, "every reconnect re-fetches")
}

func TestRefreshPredatingWriteIsRefetched(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{listGate: gate, createOut: event("new", "2024-05-07")}
	store, _ := newStore(t, api)

	done := make(chan struct{})
	go func() {
		store.Refresh(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool {
		lists, _ := api.calls()
		return lists == 1
	}, time.Second, time.Millisecond)

	_, err := store.Add(context.Background(), model.EventDraft{Title: "New", Date: "2024-05-07"})
	require.NoError(t, err)

	api.mu.Lock()
	api.listOut = []model.CalendarEvent{event("new", "2024-05-07")}
	api.mu.Unlock()
	close(gate)
	<-done

	lists, _ := api.calls()
	assert.Equal(t, 2, lists)
	require.Len(t, store.Events(), 1)
}

func TestCloseIgnoresLateResults(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{listGate: gate, listOut: []model.CalendarEvent{event("1", "2024-05-01")}}
	store, _ := newStore(t, api)

	done := make(chan struct{})
	go func() {
		store.Refresh(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool {
		lists, _ := api.calls()
		return lists == 1
	}, time.Second, time.Millisecond)

	store.Close()
	close(gate)
	<-done
	assert.Empty(t, store.Events())
	_, err := store.Add(context.Background(), model.EventDraft{Title: "Late", Date: "2024-05-01"})
	assert.ErrorIs(t, err, errs.ErrSessionClosed)
}

func TestWatchStreamsSnapshots(t *testing.T) {
	api := &fakeAPI{listOut: []model.CalendarEvent{event("1", "2024-05-01")}}
	store, _ := newStore(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := store.Watch(ctx)
	defer cleanup()

	store.Refresh(context.Background())
	select {
	case snapshot := <-stream:
		assert.True(t, snapshot.Loaded)
		assert.Len(t, snapshot.Events, 1)
	case <-time.After(time.Second):
		require.FailNow(t, "expected a snapshot")
	}
}
