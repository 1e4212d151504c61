package orchestrator

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists under the id.
	ErrSessionNotFound = errors.New("orchestrator: session not found")

	// ErrAlreadyRunning is returned by Start when the session already has
	// a live task group.
	ErrAlreadyRunning = errors.New("orchestrator: session already running")

	// ErrInvalidTransition is returned when a control operation is not
	// permitted by the session's current lifecycle status.
	ErrInvalidTransition = errors.New("orchestrator: invalid lifecycle transition")

	// ErrInvalidRequest marks request validation failures so transport
	// layers can distinguish caller mistakes from engine faults.
	ErrInvalidRequest = errors.New("orchestrator: invalid request")

	// ErrRendezvousPending is returned when a human-turn rendezvous is
	// opened while another is still pending for the session.
	ErrRendezvousPending = errors.New("orchestrator: a human turn is already pending")

	// ErrNoPendingTurn is returned when a human-turn submission arrives
	// with no matching rendezvous waiting for it.
	ErrNoPendingTurn = errors.New("orchestrator: no pending human turn")

	// ErrShuttingDown is returned by registry operations after Shutdown.
	ErrShuttingDown = errors.New("orchestrator: registry is shutting down")
)
