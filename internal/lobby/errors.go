// internal/lobby/errors.go
package lobby

import "errors"

// ErrLobbyFull indicates the lobby is at maxPlayers capacity.
var ErrLobbyFull = errors.New("lobby is full")

// ErrAlreadyJoined indicates the user id is already present in the lobby.
var ErrAlreadyJoined = errors.New("user already joined this lobby")

// ErrNotJoinable indicates the lobby is in a state that accepts no joins at
// all (STARTING or FINISHED).
var ErrNotJoinable = errors.New("lobby is not accepting players")

// ErrBadPasscode indicates a private-lobby join with the wrong passcode.
var ErrBadPasscode = errors.New("incorrect passcode")

// ErrBadTransition indicates a status write that is not a legal state-machine
// edge.
var ErrBadTransition = errors.New("illegal lobby status transition")

// ErrProjectionMismatch indicates the post-create verification read did not
// match what was written.
var ErrProjectionMismatch = errors.New("created lobby failed verification read")
