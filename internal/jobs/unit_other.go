//go:build !linux

package jobs

import "context"

func (u *Unit) start(context.Context) error { return ErrUnsupported }
