package comm

import "errors"

var (
	ErrEmptyGroup         = errors.New("group has no members")
	ErrDuplicateRank      = errors.New("duplicate rank in group")
	ErrInvalidRank        = errors.New("invalid rank")
	ErrInvalidRoot        = errors.New("reduction root is not a group member")
	ErrInvalidOp          = errors.New("invalid reduction operator")
	ErrCollectiveMismatch = errors.New("collective call mismatch across group")
	ErrGroupClosed        = errors.New("group is closed")
)
