package domain

import "errors"

// ErrBusy is returned when a command is issued while another network operation is outstanding.
var ErrBusy = errors.New("session busy")

// ErrNoSession is returned when a command needs a session id and none has been assigned yet.
var ErrNoSession = errors.New("no session id assigned")

// ErrNotAwaitingReview is returned when approve/revise/edit is attempted outside human review.
var ErrNotAwaitingReview = errors.New("session is not awaiting human review")

// ErrSessionSuperseded is returned to a stream consumer whose session was replaced by a newer start.
var ErrSessionSuperseded = errors.New("session superseded")

// ErrTerminal is returned when a command targets a session that has completed or failed.
var ErrTerminal = errors.New("session is terminal")

// ErrInvalidInput is returned when a goal, draft or note cannot be sent to the backend.
var ErrInvalidInput = errors.New("invalid input")
