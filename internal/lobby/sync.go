// internal/lobby/sync.go
package lobby

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quibble-games/quibble/internal/store"
)

// LobbyView is the immutable snapshot of "the lobby I am looking at" handed
// to the UI layer. Nothing mutates a view after it is emitted; each change is
// a fresh value.
type LobbyView struct {
	// Lobby is nil when Gone is true.
	Lobby *Lobby

	// Gone means the document no longer exists; the caller's current-lobby
	// state is "none" and it must navigate away.
	Gone bool

	// RouteToGame is set on the snapshot where status first flips to
	// IN_PROGRESS, telling an observing caller to route to the game view.
	RouteToGame bool
}

// LobbySummary is one row of the public lobby list.
type LobbySummary struct {
	ID           string
	HostUsername string
	PlayerCount  int
	MaxPlayers   int
	RoundCount   int
	CreatedAt    int64
}

// ObserveOptions selects the read path for an observation. Both paths run the
// same reconciliation, so the caller sees identical behavior for the same
// document history; polling just trades latency for not holding a push
// subscription open.
type ObserveOptions struct {
	// Poll switches from the push subscription to fixed-interval polling.
	Poll bool

	// Interval overrides the poll interval (default 2s).
	Interval time.Duration
}

// Synchronizer maintains caller-local projections of lobby state. An
// observation is bound to its ctx: cancelling the ctx is the explicit "stop
// observing" action, and the emitted channel always closes.
type Synchronizer struct {
	store        store.Store
	log          *logrus.Logger
	pollInterval time.Duration
}

// NewSynchronizer builds a Synchronizer with the given default poll interval.
func NewSynchronizer(s store.Store, log *logrus.Logger, pollInterval time.Duration) *Synchronizer {
	if log == nil {
		log = logrus.New()
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Synchronizer{store: s, log: log, pollInterval: pollInterval}
}

// ObserveLobby streams snapshots of one lobby document, starting with its
// current state. The stream ends (after a Gone view) when the document is
// deleted, or silently when ctx is cancelled.
func (s *Synchronizer) ObserveLobby(ctx context.Context, lobbyID string, opts ObserveOptions) (<-chan LobbyView, error) {
	var wake <-chan struct{}
	if !opts.Poll {
		events, err := s.store.Subscribe(ctx, Collection, lobbyID)
		if err != nil {
			return nil, err
		}
		wake = eventWake(events)
	}

	out := make(chan LobbyView, 16)
	go func() {
		defer close(out)

		var last *Lobby
		emit := func() (done bool) {
			view, cur, err := s.snapshot(ctx, lobbyID, last)
			if err != nil {
				s.log.WithFields(logrus.Fields{"lobby": lobbyID, "error": err}).Warn("lobby snapshot failed")
				return false
			}
			if view == nil {
				return false
			}
			select {
			case out <- *view:
			case <-ctx.Done():
				return true
			}
			last = cur
			return view.Gone
		}

		if emit() {
			return
		}
		if opts.Poll {
			interval := opts.Interval
			if interval <= 0 {
				interval = s.pollInterval
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if emit() {
						return
					}
				}
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-wake:
				if !ok {
					return
				}
				if emit() {
					return
				}
			}
		}
	}()
	return out, nil
}

// snapshot fetches and reconciles one view. It returns a nil view when the
// state is unchanged since last, and the decoded lobby for change tracking.
func (s *Synchronizer) snapshot(ctx context.Context, lobbyID string, last *Lobby) (*LobbyView, *Lobby, error) {
	doc, err := s.store.Get(ctx, Collection, lobbyID)
	if errors.Is(err, store.ErrNotFound) {
		return &LobbyView{Gone: true}, nil, nil
	}
	if err != nil {
		return nil, last, err
	}
	l, err := FromDocument(doc)
	if err != nil {
		// An unprojectable document reads as absent.
		return &LobbyView{Gone: true}, nil, nil
	}
	if last != nil && reflect.DeepEqual(last, l) {
		return nil, last, nil
	}
	view := &LobbyView{Lobby: l}
	if l.Status == StatusInProgress && (last == nil || last.Status != StatusInProgress) {
		view.RouteToGame = true
	}
	return view, l, nil
}

// ObservePublicLobbies streams the filtered list of public, joinable lobbies,
// re-evaluated on every collection change (push) or tick (poll). The list is
// ordered oldest-first so rows are stable across refreshes.
func (s *Synchronizer) ObservePublicLobbies(ctx context.Context, opts ObserveOptions) (<-chan []LobbySummary, error) {
	var wake <-chan struct{}
	if !opts.Poll {
		events, err := s.store.Subscribe(ctx, Collection, "")
		if err != nil {
			return nil, err
		}
		wake = eventWake(events)
	}

	out := make(chan []LobbySummary, 16)
	go func() {
		defer close(out)

		var last []LobbySummary
		emit := func() bool {
			list, err := s.listPublic(ctx)
			if err != nil {
				s.log.WithField("error", err).Warn("public lobby query failed")
				return false
			}
			if last != nil && reflect.DeepEqual(last, list) {
				return false
			}
			select {
			case out <- list:
			case <-ctx.Done():
				return true
			}
			last = list
			return false
		}

		emit()
		if opts.Poll {
			interval := opts.Interval
			if interval <= 0 {
				interval = s.pollInterval
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if emit() {
						return
					}
				}
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-wake:
				if !ok {
					return
				}
				if emit() {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Synchronizer) listPublic(ctx context.Context) ([]LobbySummary, error) {
	docs, err := s.store.Query(ctx, Collection, nil)
	if err != nil {
		return nil, err
	}
	list := []LobbySummary{}
	for _, doc := range docs {
		l, err := FromDocument(doc)
		if err != nil {
			continue
		}
		if l.Visibility != VisibilityPublic || !l.Joinable() {
			continue
		}
		list = append(list, LobbySummary{
			ID:           l.ID,
			HostUsername: l.HostUsername,
			PlayerCount:  len(l.Players),
			MaxPlayers:   l.MaxPlayers,
			RoundCount:   l.RoundCount,
			CreatedAt:    l.CreatedAt,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// eventWake collapses a store event stream into bare wakeups; the observer
// re-fetches state itself rather than trusting event payloads.
func eventWake(events <-chan store.Event) <-chan struct{} {
	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		for range events {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake
}
