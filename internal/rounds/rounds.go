// internal/rounds/rounds.go
package rounds

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/quibble-games/quibble/internal/store"
)

// Per-lobby side documents, loosely coupled to the lobby aggregate and keyed
// by lobby id. They are written independently of the lobby document; eventual
// consistency between the two is corrected by the next poll or subscription
// tick.
const (
	ReadyCollection = "readyStates"
	VoteCollection  = "votingResults"
	EmojiCollection = "sentenceEmojis"
)

// ReadyState is one player's pre-round state: the ready flag and the words
// they picked for the coming sentence round.
type ReadyState struct {
	Ready bool     `json:"ready"`
	Words []string `json:"words"`
}

// Service owns all round side-document access.
type Service struct {
	store store.Store
	log   *logrus.Logger
}

// NewService builds a round-document service over the given store.
func NewService(s store.Store, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{store: s, log: log}
}

// SetReady records one player's ready flag and selected words for the next
// round. The side document is created on first write.
func (s *Service) SetReady(ctx context.Context, lobbyID, userID string, ready bool, words []string) error {
	return s.store.RunTransaction(ctx, func(tx store.Tx) error {
		doc, err := tx.Get(ReadyCollection, lobbyID)
		if errors.Is(err, store.ErrNotFound) {
			doc = store.Document{}
		} else if err != nil {
			return err
		}
		wordsOut := make([]interface{}, 0, len(words))
		for _, w := range words {
			wordsOut = append(wordsOut, w)
		}
		doc[userID] = map[string]interface{}{
			"ready": ready,
			"words": wordsOut,
		}
		tx.Set(ReadyCollection, lobbyID, doc)
		return nil
	})
}

// ReadyStates reads every player's ready state for a lobby. A missing side
// document is an empty map, not an error.
func (s *Service) ReadyStates(ctx context.Context, lobbyID string) (map[string]ReadyState, error) {
	doc, err := s.store.Get(ctx, ReadyCollection, lobbyID)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]ReadyState{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]ReadyState, len(doc))
	for userID, raw := range doc {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		rs := ReadyState{}
		rs.Ready, _ = entry["ready"].(bool)
		if rawWords, ok := entry["words"].([]interface{}); ok {
			for _, rw := range rawWords {
				if w, ok := rw.(string); ok {
					rs.Words = append(rs.Words, w)
				}
			}
		}
		out[userID] = rs
	}
	return out, nil
}

// CastVote records voter -> votedFor for the current round. Re-voting
// overwrites the previous choice.
func (s *Service) CastVote(ctx context.Context, lobbyID, voterID, votedForID string) error {
	return s.store.RunTransaction(ctx, func(tx store.Tx) error {
		doc, err := tx.Get(VoteCollection, lobbyID)
		if errors.Is(err, store.ErrNotFound) {
			doc = store.Document{}
		} else if err != nil {
			return err
		}
		doc[voterID] = votedForID
		tx.Set(VoteCollection, lobbyID, doc)
		return nil
	})
}

// Votes reads the voter -> votedFor map for a lobby's current round.
func (s *Service) Votes(ctx context.Context, lobbyID string) (map[string]string, error) {
	doc, err := s.store.Get(ctx, VoteCollection, lobbyID)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(doc))
	for voter, raw := range doc {
		if votedFor, ok := raw.(string); ok {
			out[voter] = votedFor
		}
	}
	return out, nil
}

// TagSentence records one user's emoji reaction on one sentence.
func (s *Service) TagSentence(ctx context.Context, lobbyID, sentenceID, userID, emoji string) error {
	return s.store.RunTransaction(ctx, func(tx store.Tx) error {
		doc, err := tx.Get(EmojiCollection, lobbyID)
		if errors.Is(err, store.ErrNotFound) {
			doc = store.Document{}
		} else if err != nil {
			return err
		}
		perSentence, _ := doc[sentenceID].(map[string]interface{})
		if perSentence == nil {
			perSentence = map[string]interface{}{}
		}
		perSentence[userID] = emoji
		doc[sentenceID] = perSentence
		tx.Set(EmojiCollection, lobbyID, doc)
		return nil
	})
}

// Emojis reads sentence -> user -> emoji tags for a lobby's current round.
func (s *Service) Emojis(ctx context.Context, lobbyID string) (map[string]map[string]string, error) {
	doc, err := s.store.Get(ctx, EmojiCollection, lobbyID)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]string, len(doc))
	for sentenceID, raw := range doc {
		perSentence, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		tags := make(map[string]string, len(perSentence))
		for userID, rawEmoji := range perSentence {
			if emoji, ok := rawEmoji.(string); ok {
				tags[userID] = emoji
			}
		}
		out[sentenceID] = tags
	}
	return out, nil
}

// ClearRound deletes all three side documents for a lobby as one atomic
// batch, as happens when a round's voting concludes.
func (s *Service) ClearRound(ctx context.Context, lobbyID string) error {
	err := s.store.RunBatch(ctx, func(b store.Batch) error {
		StageClear(b, lobbyID)
		return nil
	})
	if err != nil {
		return err
	}
	s.log.WithField("lobby", lobbyID).Debug("round documents cleared")
	return nil
}

// StageClear stages the deletion of a lobby's round documents into an
// existing batch, so lobby deletion and round cleanup commit together.
func StageClear(b store.Batch, lobbyID string) {
	b.Delete(ReadyCollection, lobbyID)
	b.Delete(VoteCollection, lobbyID)
	b.Delete(EmojiCollection, lobbyID)
}
