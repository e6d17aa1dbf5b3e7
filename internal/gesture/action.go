package gesture

import "context"

// Action is what a puck does when it is turned. Implementations decide what a
// left or right turn means; the detector only reports which one happened.
type Action interface {
	RotateLeft(ctx context.Context)
	RotateRight(ctx context.Context)
}

// ActionFuncs adapts a pair of functions to Action. Nil functions are no-ops.
type ActionFuncs struct {
	Left  func(ctx context.Context)
	Right func(ctx context.Context)
}

func (a ActionFuncs) RotateLeft(ctx context.Context) {
	if a.Left != nil {
		a.Left(ctx)
	}
}

func (a ActionFuncs) RotateRight(ctx context.Context) {
	if a.Right != nil {
		a.Right(ctx)
	}
}

// NoAction ignores every gesture.
var NoAction Action = ActionFuncs{}
